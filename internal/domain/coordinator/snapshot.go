// internal/domain/coordinator/snapshot.go
package coordinator

import (
	"slices"

	"auth-flow-server/internal/domain/auth"
	"auth-flow-server/internal/domain/flow"
	"auth-flow-server/internal/domain/signin"
)

// Snapshot is what the UI renders. Version increases with every published
// change so a client can drop out-of-order updates.
type Snapshot struct {
	Version        uint64               `json:"version"`
	Step           flow.Step            `json:"step"`
	State          flow.State           `json:"state"`
	History        []flow.Step          `json:"history"`
	CanGoBack      bool                 `json:"canGoBack"`
	Progress       int                  `json:"progress"`
	FlowType       flow.Type            `json:"flowType"`
	Message        string               `json:"message,omitempty"`
	Warning        string               `json:"warning,omitempty"`
	OfferMigration bool                 `json:"offerMigration"`
	LinkedAccounts []auth.LinkedAccount `json:"linkedAccounts,omitempty"`
	LegacyProfile  *auth.LegacyProfile  `json:"legacyProfile,omitempty"`
	Identity       *auth.Identity       `json:"identity,omitempty"`
	Destination    string               `json:"destination,omitempty"`
	Session        *auth.AppSession     `json:"session,omitempty"`
}

// snapshotLocked must be called with c.mu held.
func (c *Coordinator) snapshotLocked() Snapshot {
	state := c.flow.State
	s := Snapshot{
		Version:        c.version,
		Step:           state.Step(),
		State:          state,
		History:        slices.Clone(c.flow.History),
		CanGoBack:      flow.CanGoBack(state),
		Progress:       flow.Progress(state),
		FlowType:       flow.FlowType(c.flow),
		Message:        c.message,
		Warning:        c.warning,
		OfferMigration: signin.ShouldOfferLegacyMigration(state, c.probe),
		Destination:    c.destination,
		Session:        c.session,
	}
	if s.History == nil {
		s.History = []flow.Step{}
	}
	if c.flow.Identity != nil {
		id := *c.flow.Identity
		s.Identity = &id
	}
	switch st := state.(type) {
	case flow.Error:
		if s.Message == "" {
			s.Message = st.Reason
		}
	case flow.AccountDiscovery, flow.AccountLinking:
		s.LinkedAccounts = slices.Clone(c.discovered.LinkedAccounts)
		if p := c.discovered.LegacyProfile; p != nil {
			profile := *p
			s.LegacyProfile = &profile
		}
	}
	return s
}
