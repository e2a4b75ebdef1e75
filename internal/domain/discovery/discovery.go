// internal/domain/discovery/discovery.go

// Package discovery looks up the key identities and legacy profile already
// associated with a legacy session.
package discovery

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"auth-flow-server/internal/domain/auth"
	"auth-flow-server/internal/metrics"
	"auth-flow-server/pkg/errors"
)

// DefaultTTL is how long a discovery result stays fresh.
const DefaultTTL = 10 * time.Minute

// loadTimeout bounds a shared fetch, which outlives any one caller's context.
const loadTimeout = 30 * time.Second

type LinkedLister interface {
	ListLinked(ctx context.Context, session auth.LegacySession) ([]auth.LinkedAccount, error)
}

type Result struct {
	LinkedAccounts []auth.LinkedAccount `json:"linkedAccounts"`
	LegacyProfile  *auth.LegacyProfile  `json:"legacyProfile"`
	Err            error                `json:"-"`
}

type entry struct {
	result    Result
	fetchedAt time.Time
}

// Service is the only writer of the discovery cache. Linking invalidates
// entries through Invalidate.
type Service struct {
	linked   LinkedLister
	profiles auth.LegacyProfileAPI
	ttl      time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]entry
	epoch map[string]uint64
	group singleflight.Group
}

func NewService(linked LinkedLister, profiles auth.LegacyProfileAPI, ttl time.Duration, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		linked:   linked,
		profiles: profiles,
		ttl:      ttl,
		timeout:  loadTimeout,
		logger:   logger,
		now:      time.Now,
		cache:    make(map[string]entry),
		epoch:    make(map[string]uint64),
	}
}

// Discover returns the accounts linked to session. New users get an empty
// result without any network call.
func (s *Service) Discover(ctx context.Context, session auth.LegacySession, isNewUser bool) Result {
	if isNewUser {
		metrics.DiscoveryRequests.WithLabelValues("skipped", "ok").Inc()
		return Result{LinkedAccounts: []auth.LinkedAccount{}}
	}
	if session == nil {
		return Result{LinkedAccounts: []auth.LinkedAccount{}, Err: errors.NewValidationError("no legacy session")}
	}

	s.mu.Lock()
	e, ok := s.cache[session.ID()]
	s.mu.Unlock()
	if ok && s.now().Sub(e.fetchedAt) < s.ttl {
		metrics.DiscoveryRequests.WithLabelValues("cache", "ok").Inc()
		return e.result.clone()
	}
	return s.fetch(ctx, session)
}

// Refresh ignores staleness. Concurrent refreshes for one session still
// share a single request.
func (s *Service) Refresh(ctx context.Context, session auth.LegacySession) Result {
	if session == nil {
		return Result{LinkedAccounts: []auth.LinkedAccount{}, Err: errors.NewValidationError("no legacy session")}
	}
	return s.fetch(ctx, session)
}

// Invalidate drops the cached result for sessionID and detaches any fetch
// in flight so its result is not cached.
func (s *Service) Invalidate(sessionID string) {
	s.mu.Lock()
	delete(s.cache, sessionID)
	s.epoch[sessionID]++
	s.mu.Unlock()
	s.group.Forget(sessionID)
}

// fetch joins or starts the shared load for session. The load runs detached
// from ctx so one caller giving up does not fail the others waiting on it.
func (s *Service) fetch(ctx context.Context, session auth.LegacySession) Result {
	key := session.ID()
	ch := s.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.load(loadCtx, session), nil
	})
	select {
	case <-ctx.Done():
		return Result{LinkedAccounts: []auth.LinkedAccount{}, Err: errors.FromContext("discover accounts", ctx.Err())}
	case res := <-ch:
		return res.Val.(Result).clone()
	}
}

func (s *Service) load(ctx context.Context, session auth.LegacySession) Result {
	key := session.ID()
	s.mu.Lock()
	startEpoch := s.epoch[key]
	s.mu.Unlock()

	start := s.now()
	var (
		accounts []auth.LinkedAccount
		profile  *auth.LegacyProfile
	)
	var g errgroup.Group
	g.Go(func() error {
		var err error
		accounts, err = s.linked.ListLinked(ctx, session)
		return err
	})
	g.Go(func() error {
		var err error
		profile, err = s.profiles.LegacyProfile(ctx, session)
		return err
	})
	err := errors.FromContext("discover accounts", g.Wait())
	metrics.DiscoveryDuration.Observe(s.now().Sub(start).Seconds())

	res := Result{
		LinkedAccounts: Sort(sanitize(accounts, s.logger)),
		LegacyProfile:  profile,
		Err:            err,
	}
	if err != nil {
		s.logger.Warn("account discovery incomplete",
			zap.String("session", key),
			zap.Int("accounts", len(res.LinkedAccounts)),
			zap.Bool("profile", profile != nil),
			zap.Error(err),
		)
		metrics.DiscoveryRequests.WithLabelValues("network", string(errors.KindOf(err))).Inc()
		return res
	}

	metrics.DiscoveryRequests.WithLabelValues("network", "ok").Inc()
	s.mu.Lock()
	if s.epoch[key] == startEpoch {
		s.cache[key] = entry{result: res.clone(), fetchedAt: s.now()}
	}
	s.mu.Unlock()
	return res
}

// sanitize drops entries whose key id does not validate and normalises the
// rest.
func sanitize(accounts []auth.LinkedAccount, logger *zap.Logger) []auth.LinkedAccount {
	out := make([]auth.LinkedAccount, 0, len(accounts))
	for _, acct := range accounts {
		id, err := auth.ParseKeyID(string(acct.KeyID))
		if err != nil {
			logger.Warn("dropping linked account with malformed key id", zap.String("key", string(acct.KeyID)))
			continue
		}
		acct.KeyID = id
		out = append(out, acct)
	}
	return out
}

// Sort orders accounts primary first, then most recently linked, with
// undated accounts last. It sorts in place and returns accounts.
func Sort(accounts []auth.LinkedAccount) []auth.LinkedAccount {
	slices.SortStableFunc(accounts, func(a, b auth.LinkedAccount) int {
		if a.IsPrimary != b.IsPrimary {
			if a.IsPrimary {
				return -1
			}
			return 1
		}
		switch {
		case a.LinkedAt == nil && b.LinkedAt == nil:
			return 0
		case a.LinkedAt == nil:
			return 1
		case b.LinkedAt == nil:
			return -1
		case *a.LinkedAt > *b.LinkedAt:
			return -1
		case *a.LinkedAt < *b.LinkedAt:
			return 1
		}
		return 0
	})
	return accounts
}

func (r Result) clone() Result {
	r.LinkedAccounts = slices.Clone(r.LinkedAccounts)
	if r.LinkedAccounts == nil {
		r.LinkedAccounts = []auth.LinkedAccount{}
	}
	if r.LegacyProfile != nil {
		p := *r.LegacyProfile
		r.LegacyProfile = &p
	}
	return r
}
