// internal/api/handler/session.go
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"auth-flow-server/internal/domain/auth"
)

// SessionHandler serves the application sessions opened by completed flows.
type SessionHandler struct {
	sessions *auth.SessionService
	logger   *zap.Logger
}

func NewSessionHandler(sessions *auth.SessionService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Lookup(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, r, session, http.StatusOK)
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, r, map[string]string{"message": "Successfully logged out"}, http.StatusOK)
}
