// internal/domain/linking/linking.go

// Package linking associates key identities with a legacy identity.
package linking

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"auth-flow-server/internal/domain/auth"
	"auth-flow-server/internal/metrics"
	"auth-flow-server/pkg/errors"
)

// Invalidator drops cached discovery results for a legacy session.
type Invalidator interface {
	Invalidate(sessionID string)
}

type EventType string

const (
	EventLinked   EventType = "account-linked"
	EventUnlinked EventType = "account-unlinked"
)

// Event is delivered to subscribers after a link or unlink succeeds.
type Event struct {
	Type      EventType
	SessionID string
	KeyID     auth.KeyID
}

type Service struct {
	api    auth.LinkedIdentityAPI
	cache  Invalidator
	logger *zap.Logger

	// legacy session IDs with a link or unlink pending
	busyMu sync.Mutex
	busy   map[string]struct{}

	mu          sync.RWMutex
	subscribers map[uint64]func(Event)
	nextID      uint64
}

func NewService(api auth.LinkedIdentityAPI, cache Invalidator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		api:         api,
		cache:       cache,
		logger:      logger,
		busy:        make(map[string]struct{}),
		subscribers: make(map[uint64]func(Event)),
	}
}

// acquire claims the legacy identity behind sessionID for one operation.
func (s *Service) acquire(sessionID string) (release func(), ok bool) {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	if _, held := s.busy[sessionID]; held {
		return nil, false
	}
	s.busy[sessionID] = struct{}{}
	return func() {
		s.busyMu.Lock()
		delete(s.busy, sessionID)
		s.busyMu.Unlock()
	}, true
}

func (s *Service) pending(sessionID string) bool {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	_, held := s.busy[sessionID]
	return held
}

// Subscribe registers fn for link events. The returned func removes it.
func (s *Service) Subscribe(fn func(Event)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

// Link associates keyID with the legacy identity behind session. An
// existing association fails with DuplicateLinkError.
func (s *Service) Link(ctx context.Context, session auth.LegacySession, keyID string) (err error) {
	id, err := auth.ParseKeyID(keyID)
	if err != nil {
		metrics.LinkOperations.WithLabelValues("link", string(errors.KindValidation)).Inc()
		return err
	}
	if session == nil {
		return errors.NewSessionExpiredError()
	}
	release, ok := s.acquire(session.ID())
	if !ok {
		return errors.NewInProgressError("linking")
	}
	defer release()
	defer func() { s.record("link", err) }()

	if err := s.api.Link(ctx, session, id); err != nil {
		var conflict *errors.ConflictError
		if errors.As(err, &conflict) {
			err = errors.NewDuplicateLinkError(id.String())
		}
		if errors.IsWarning(err) {
			s.logger.Info("key identity already linked", zap.String("key", id.Short()))
		} else {
			s.logger.Warn("link key identity", zap.String("key", id.Short()), zap.Error(err))
		}
		return err
	}

	s.logger.Info("key identity linked", zap.String("key", id.Short()))
	s.invalidate(session.ID())
	s.notify(Event{Type: EventLinked, SessionID: session.ID(), KeyID: id})
	return nil
}

// Unlink removes keyID from the legacy identity. It refuses to leave the
// identity with no linked key identities or without its primary.
func (s *Service) Unlink(ctx context.Context, session auth.LegacySession, keyID string) (err error) {
	id, err := auth.ParseKeyID(keyID)
	if err != nil {
		metrics.LinkOperations.WithLabelValues("unlink", string(errors.KindValidation)).Inc()
		return err
	}
	if session == nil {
		return errors.NewSessionExpiredError()
	}
	release, ok := s.acquire(session.ID())
	if !ok {
		return errors.NewInProgressError("unlinking")
	}
	defer release()
	defer func() { s.record("unlink", err) }()

	accounts, err := s.api.ListLinked(ctx, session)
	if err != nil {
		return err
	}
	if err := guardUnlink(accounts, id); err != nil {
		return err
	}
	if err := s.api.Unlink(ctx, session, id); err != nil {
		s.logger.Warn("unlink key identity", zap.String("key", id.Short()), zap.Error(err))
		return err
	}

	s.logger.Info("key identity unlinked", zap.String("key", id.Short()))
	s.invalidate(session.ID())
	s.notify(Event{Type: EventUnlinked, SessionID: session.ID(), KeyID: id})
	return nil
}

func guardUnlink(accounts []auth.LinkedAccount, target auth.KeyID) error {
	var (
		found     bool
		isPrimary bool
		primaries int
	)
	for _, acct := range accounts {
		if acct.IsPrimary {
			primaries++
		}
		if normalized, err := auth.ParseKeyID(string(acct.KeyID)); err == nil && normalized == target {
			found = true
			isPrimary = acct.IsPrimary
		}
	}
	switch {
	case !found:
		return errors.NewValidationError("That key identity is not linked to this account.")
	case len(accounts) == 1:
		return errors.NewLastAccountGuardError("This is your only linked account. Link another account before removing it.")
	case isPrimary && primaries == 1:
		return errors.NewLastAccountGuardError("This is your primary account. Choose another primary account before removing it.")
	}
	return nil
}

func (s *Service) invalidate(sessionID string) {
	if s.cache != nil {
		s.cache.Invalidate(sessionID)
	}
}

func (s *Service) notify(e Event) {
	s.mu.RLock()
	fns := make([]func(Event), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

func (s *Service) record(op string, err error) {
	result := "ok"
	if err != nil {
		result = string(errors.KindOf(err))
	}
	metrics.LinkOperations.WithLabelValues(op, result).Inc()
}
