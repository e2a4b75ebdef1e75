// internal/api/handler/websocket.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"auth-flow-server/internal/domain/auth"
	"auth-flow-server/internal/domain/coordinator"
	"auth-flow-server/pkg/errors"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// message is what the server writes: a snapshot, or an error for an intent
// that could not be decoded.
type message struct {
	Snapshot *coordinator.Snapshot `json:"snapshot,omitempty"`
	Error    *Error                `json:"error,omitempty"`
}

type WebSocketHandler struct {
	flows     *Registry
	validator auth.Validator
	logger    *zap.Logger
}

func NewWebSocketHandler(flows *Registry, validator auth.Validator, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		flows:     flows,
		validator: validator,
		logger:    logger,
	}
}

// HandleConnection streams every published snapshot of a flow and accepts
// intents as JSON text messages. Only the latest pending snapshot is kept
// for a slow client; versions let it detect the gap.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	c, ok := h.flows.Get(flowID)
	if !ok {
		writeNotFound(w, r, "flow")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", zap.String("flow_id", flowID), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan message, 1)
	var (
		mu     sync.Mutex
		latest uint64
	)
	push := func(m message) {
		mu.Lock()
		defer mu.Unlock()
		if m.Snapshot != nil {
			if m.Snapshot.Version < latest {
				return
			}
			latest = m.Snapshot.Version
		}
		for {
			select {
			case out <- m:
				return
			default:
			}
			select {
			case <-out:
			default:
			}
		}
	}
	unsubscribe := c.Subscribe(func(s coordinator.Snapshot) {
		push(message{Snapshot: &s})
	})
	defer unsubscribe()

	first := c.Snapshot()
	push(message{Snapshot: &first})

	challenge, _ := h.flows.Challenge(flowID)
	go h.readIntents(ctx, cancel, conn, c, challenge, push)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) readIntents(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, c *coordinator.Coordinator, challenge string, push func(message)) {
	defer cancel()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req IntentRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			push(errorMessage(errors.NewBadRequestError("invalid intent payload")))
			continue
		}
		intent, err := req.Intent(h.validator, challenge)
		if err != nil {
			push(errorMessage(err))
			continue
		}
		// The published snapshot reaches the client through the
		// subscription.
		c.Dispatch(ctx, intent)
	}
}

func errorMessage(err error) message {
	status := statusFor(err)
	return message{Error: &Error{Status: status, Kind: errors.KindOf(err), Message: errors.UserMessage(err)}}
}
