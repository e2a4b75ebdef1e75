// internal/api/handler/registry.go
package handler

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"auth-flow-server/internal/domain/coordinator"
	"auth-flow-server/internal/domain/flow"
	"auth-flow-server/internal/domain/linking"
	"auth-flow-server/internal/metrics"
)

// Factory builds a coordinator for a new flow.
type Factory func(initial flow.State) *coordinator.Coordinator

type entry struct {
	c         *coordinator.Coordinator
	challenge string
	lastSeen  time.Time
}

// Registry holds the flows in progress. A flow that has not been touched
// for ttl is closed and forgotten.
type Registry struct {
	factory Factory
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	flows map[string]*entry
}

func NewRegistry(factory Factory, ttl time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		factory: factory,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		flows:   make(map[string]*entry),
	}
}

func (r *Registry) Create(initial flow.State) (string, *coordinator.Coordinator) {
	r.Sweep()
	id := uuid.New().String()
	c := r.factory(initial)

	r.mu.Lock()
	r.flows[id] = &entry{c: c, challenge: newChallenge(id), lastSeen: r.now()}
	n := len(r.flows)
	r.mu.Unlock()

	metrics.ActiveFlows.Set(float64(n))
	r.logger.Info("flow started", zap.String("flow_id", id), zap.String("step", string(initial.Step())))
	return id, c
}

// newChallenge is the text a key-identity holder signs to enter flow id.
func newChallenge(id string) string {
	return "auth-flow-server sign-in\nflow: " + id + "\nnonce: " + uuid.NewString()
}

// Challenge returns the sign-in challenge issued for flow id.
func (r *Registry) Challenge(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.flows[id]
	if !ok || r.expired(e) {
		return "", false
	}
	return e.challenge, true
}

func (r *Registry) Get(id string) (*coordinator.Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.flows[id]
	if !ok || r.expired(e) {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.c, true
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.flows[id]
	delete(r.flows, id)
	n := len(r.flows)
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.c.Close()
	metrics.ActiveFlows.Set(float64(n))
	return true
}

// Sweep closes expired flows and returns how many were removed.
func (r *Registry) Sweep() int {
	var stale []*coordinator.Coordinator
	r.mu.Lock()
	for id, e := range r.flows {
		if r.expired(e) {
			stale = append(stale, e.c)
			delete(r.flows, id)
		}
	}
	n := len(r.flows)
	r.mu.Unlock()

	for _, c := range stale {
		c.Close()
	}
	if len(stale) > 0 {
		metrics.ActiveFlows.Set(float64(n))
		r.logger.Debug("expired flows swept", zap.Int("count", len(stale)))
	}
	return len(stale)
}

func (r *Registry) expired(e *entry) bool {
	return r.now().Sub(e.lastSeen) > r.ttl
}

// OnAccountLinked forwards a link event to every live flow.
func (r *Registry) OnAccountLinked(e linking.Event) {
	r.mu.Lock()
	live := make([]*coordinator.Coordinator, 0, len(r.flows))
	for _, en := range r.flows {
		live = append(live, en.c)
	}
	r.mu.Unlock()

	for _, c := range live {
		c.OnAccountLinked(e)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

// Close closes every flow.
func (r *Registry) Close() {
	r.mu.Lock()
	flows := r.flows
	r.flows = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range flows {
		e.c.Close()
	}
	metrics.ActiveFlows.Set(0)
}
