// internal/api/handler/response.go
package handler

import (
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"auth-flow-server/pkg/errors"
)

// Error wraps error messages for consistent JSON responses
type Error struct {
	Status  int         `json:"status"`
	Kind    errors.Kind `json:"kind,omitempty"`
	Message string      `json:"message"`
}

// WriteJSON sends a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, r *http.Request, data interface{}, status int) {
	render.Status(r, status)
	render.JSON(w, r, data)
}

// WriteError sends a JSON error response. The status follows the error kind
// and the message is always safe to show a user.
func WriteError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.Error(err))
	}
	WriteJSON(w, r, Error{
		Status:  status,
		Kind:    errors.KindOf(err),
		Message: errors.UserMessage(err),
	}, status)
}

func writeNotFound(w http.ResponseWriter, r *http.Request, what string) {
	WriteJSON(w, r, Error{Status: http.StatusNotFound, Message: what + " not found"}, http.StatusNotFound)
}

func statusFor(err error) int {
	switch errors.KindOf(err) {
	case errors.KindValidation, errors.KindBadRequest:
		return http.StatusBadRequest
	case errors.KindAuthentication:
		return http.StatusUnauthorized
	case errors.KindAuthorization:
		return http.StatusForbidden
	case errors.KindConflict, errors.KindDuplicateLink, errors.KindInProgress, errors.KindLastAccountGuard:
		return http.StatusConflict
	case errors.KindTimeout:
		return http.StatusGatewayTimeout
	case errors.KindNetwork:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
