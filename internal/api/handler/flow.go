// internal/api/handler/flow.go
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"auth-flow-server/internal/domain/auth"
	"auth-flow-server/internal/domain/coordinator"
	"auth-flow-server/internal/domain/flow"
	"auth-flow-server/pkg/errors"
)

type FlowHandler struct {
	flows     *Registry
	validator auth.Validator
	logger    *zap.Logger
}

func NewFlowHandler(flows *Registry, validator auth.Validator, logger *zap.Logger) *FlowHandler {
	return &FlowHandler{
		flows:     flows,
		validator: validator,
		logger:    logger,
	}
}

type createFlowResponse struct {
	FlowID    string               `json:"flowId"`
	Challenge string               `json:"challenge"`
	Snapshot  coordinator.Snapshot `json:"snapshot"`
}

// Create starts a flow. The optional start query parameter deep-links into
// a later step. A key identity signs the returned challenge to authenticate.
func (h *FlowHandler) Create(w http.ResponseWriter, r *http.Request) {
	initial := flow.InitialState(r.URL.Query().Get("start"))
	id, c := h.flows.Create(initial)
	challenge, _ := h.flows.Challenge(id)
	WriteJSON(w, r, createFlowResponse{FlowID: id, Challenge: challenge, Snapshot: c.Snapshot()}, http.StatusCreated)
}

func (h *FlowHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.flows.Get(chi.URLParam(r, "flowID"))
	if !ok {
		writeNotFound(w, r, "flow")
		return
	}
	WriteJSON(w, r, c.Snapshot(), http.StatusOK)
}

func (h *FlowHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	c, ok := h.flows.Get(flowID)
	if !ok {
		writeNotFound(w, r, "flow")
		return
	}

	var req IntentRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		WriteError(w, r, h.logger, errors.NewBadRequestError("invalid request payload"))
		return
	}
	challenge, _ := h.flows.Challenge(flowID)
	intent, err := req.Intent(h.validator, challenge)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, r, c.Dispatch(r.Context(), intent), http.StatusOK)
}

func (h *FlowHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.flows.Remove(chi.URLParam(r, "flowID")) {
		writeNotFound(w, r, "flow")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
