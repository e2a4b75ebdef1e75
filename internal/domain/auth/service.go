// internal/domain/auth/service.go
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"auth-flow-server/pkg/errors"
)

// SessionService opens application sessions for completed flows.
type SessionService struct {
	store    SessionStore
	duration time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewSessionService(store SessionStore, duration time.Duration, logger *zap.Logger) *SessionService {
	if duration <= 0 {
		duration = 24 * time.Hour
	}
	return &SessionService{
		store:    store,
		duration: duration,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *SessionService) Open(ctx context.Context, id Identity, isCreator bool) (*AppSession, error) {
	if id.KeyID == "" {
		return nil, errors.NewValidationError("identity has no key")
	}
	session := AppSession{
		ID:        generateSessionID(),
		KeyID:     id.KeyID,
		LegacyID:  id.LegacyID,
		IsCreator: isCreator,
		ExpiresAt: s.now().Add(s.duration),
	}
	if err := s.store.CreateSession(ctx, session, s.duration); err != nil {
		s.logger.Error("create app session", zap.String("key", id.KeyID.Short()), zap.Error(err))
		return nil, errors.NewNetworkError("create session", err)
	}
	return &session, nil
}

func (s *SessionService) Lookup(ctx context.Context, sessionID string) (*AppSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, errors.NewNetworkError("get session", err)
	}
	if session == nil {
		return nil, errors.NewSessionExpiredError()
	}
	return session, nil
}

func (s *SessionService) Close(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return errors.NewInternalError()
	}
	return nil
}

func generateSessionID() string {
	return uuid.New().String()
}
