// internal/domain/flow/reducer.go
package flow

import (
	"slices"

	"go.uber.org/zap"

	"auth-flow-server/internal/domain/auth"
	"auth-flow-server/internal/metrics"
)

// Reduce applies e to f. It is total: a pair with no defined transition
// returns f unchanged. Reduce never mutates its input.
func Reduce(f Flow, e Event) Flow {
	if f.State == nil {
		f.State = MethodSelection{}
	}
	if e == nil {
		return f
	}

	switch ev := e.(type) {
	case Fail:
		if _, ok := f.State.(Error); ok {
			return f
		}
		f.State = Error{Reason: ev.Reason, Previous: f.State}
		return f
	case Retry:
		if s, ok := f.State.(Error); ok {
			f.State = s.Previous
		}
		return f
	case GoBack:
		return goBack(f)
	}

	switch s := f.State.(type) {
	case MethodSelection:
		return reduceMethodSelection(f, e)
	case KeyIdentityAuth:
		return reduceKeyIdentityAuth(f, s, e)
	case LegacyAuth:
		return reduceLegacyAuth(f, s, e)
	case AccountDiscovery:
		return reduceAccountDiscovery(f, s, e)
	case AccountLinking:
		return reduceAccountLinking(f, s, e)
	case Signup:
		return reduceSignup(f, s, e)
	case ProfileSetup:
		if _, ok := e.(ProfileSaved); ok {
			if s.IsArtist {
				return f.advance(BackupEmailSetup{})
			}
			return f.advance(Welcome{})
		}
	case BackupEmailSetup:
		switch ev := e.(type) {
		case BackupEmailDone:
			if ev.Legacy != nil && f.Identity != nil {
				id := f.Identity.WithLegacy(ev.Legacy)
				f.Identity = &id
			}
			return f.advance(Welcome{})
		case SkipBackupEmail:
			return f.advance(Welcome{})
		}
	case Welcome:
		if _, ok := e.(Complete); ok && f.Outcome != OutcomeNone && f.Identity != nil {
			return f.advance(Completed{Identity: *f.Identity})
		}
	}
	return f
}

func reduceMethodSelection(f Flow, e Event) Flow {
	ev, ok := e.(SelectMethod)
	if !ok {
		return f
	}
	switch ev.Method {
	case MethodKeyIdentity:
		return f.advance(KeyIdentityAuth{Method: ev.SignerMethod})
	case MethodLegacySignIn:
		return f.advance(LegacyAuth{Mode: LegacySignIn})
	case MethodLegacySignUp:
		return f.advance(LegacyAuth{Mode: LegacySignUp})
	case MethodSignup:
		return f.advance(Signup{Stage: StageUserType})
	}
	return f
}

func reduceKeyIdentityAuth(f Flow, s KeyIdentityAuth, e Event) Flow {
	switch ev := e.(type) {
	case KeyIdentityConnected:
		if ev.Identity.KeyID == "" {
			return f
		}
		id := ev.Identity
		s.Connected = &id
		f.State = s
		return f
	case ContinueWithKeyIdentity:
		if s.Connected == nil || f.Outcome != OutcomeNone {
			return f
		}
		return f.establish(OutcomeKeyIdentity, *s.Connected).advance(Welcome{})
	case StartLegacyMigration:
		return f.advance(LegacyAuth{Mode: LegacySignIn, FromKeyIdentity: true})
	}
	return f
}

func reduceLegacyAuth(f Flow, s LegacyAuth, e Event) Flow {
	switch ev := e.(type) {
	case SwitchLegacyMode:
		if ev.Mode != LegacySignIn && ev.Mode != LegacySignUp {
			return f
		}
		s.Mode = ev.Mode
		f.State = s
		return f
	case LegacyAuthenticated:
		if ev.Session == nil {
			return f
		}
		return f.advance(AccountDiscovery{
			Session:   ev.Session,
			IsNewUser: ev.IsNewUser || s.Mode == LegacySignUp,
		})
	}
	return f
}

func reduceAccountDiscovery(f Flow, s AccountDiscovery, e Event) Flow {
	switch ev := e.(type) {
	case DiscoveryLoaded:
		found := make([]auth.KeyID, 0, len(ev.Accounts))
		for _, acct := range ev.Accounts {
			found = append(found, acct.KeyID)
		}
		s.Discovered = found
		s.Loaded = true
		f.State = s
		return f
	case SelectKeyIdentity:
		if !slices.Contains(s.Discovered, ev.KeyID) {
			return f
		}
		return f.advance(AccountLinking{
			Session:   s.Session,
			IsNewUser: s.IsNewUser,
			Selected:  ev.KeyID,
		})
	case KeyIdentityGenerated:
		id, err := auth.ParseKeyID(string(ev.KeyID))
		if err != nil {
			return f
		}
		return f.advance(AccountLinking{
			Session:   s.Session,
			IsNewUser: s.IsNewUser,
			Selected:  id,
			Generated: true,
		})
	case UseDifferentIdentity:
		return f.advance(KeyIdentityAuth{})
	}
	return f
}

func reduceAccountLinking(f Flow, s AccountLinking, e Event) Flow {
	switch ev := e.(type) {
	case AccountLinked:
		if ev.Identity.KeyID != s.Selected || f.Outcome != OutcomeNone {
			return f
		}
		return f.establish(OutcomeLinked, ev.Identity.WithLegacy(s.Session)).advance(Welcome{})
	case UseDifferentIdentity:
		return f.advance(KeyIdentityAuth{})
	}
	return f
}

func reduceSignup(f Flow, s Signup, e Event) Flow {
	switch ev := e.(type) {
	case SelectUserType:
		if s.Stage != StageUserType {
			return f
		}
		if ev.Artist {
			return f.advance(Signup{Stage: StageArtistType, UserTypeChosen: true, IsArtist: true})
		}
		f.State = Signup{Stage: StageUserType, UserTypeChosen: true}
		return f
	case SelectArtistType:
		if s.Stage != StageArtistType {
			return f
		}
		if ev.Solo {
			s.Kind = ArtistKindSolo
		} else {
			s.Kind = ArtistKindGroup
		}
		f.State = s
		return f
	case AccountCreated:
		if !s.ReadyToCreate() || f.Outcome != OutcomeNone || ev.Identity.KeyID == "" {
			return f
		}
		return f.establish(OutcomeKeyIdentity, ev.Identity).advance(ProfileSetup{IsArtist: s.IsArtist})
	}
	return f
}

// advance moves forward to next, recording the step being left.
func (f Flow) advance(next State) Flow {
	cur := f.State.Step()
	if n := len(f.History); n == 0 || f.History[n-1] != cur {
		f.History = append(slices.Clip(f.History), cur)
	}
	f.State = next
	return f
}

func (f Flow) establish(outcome Outcome, id auth.Identity) Flow {
	f.Outcome = outcome
	f.Identity = &id
	return f
}

// Machine wraps Reduce with diagnostics. The logging has no effect on the
// returned flow.
type Machine struct {
	logger *zap.Logger
}

func NewMachine(logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{logger: logger}
}

func (m *Machine) Transition(f Flow, e Event) Flow {
	from := StepMethodSelection
	if f.State != nil {
		from = f.State.Step()
	}
	evType := EventType("")
	if e != nil {
		evType = e.Type()
	}
	next := Reduce(f, e)
	m.logger.Debug("flow transition",
		zap.String("from", string(from)),
		zap.String("event", string(evType)),
		zap.String("to", string(next.State.Step())),
	)
	metrics.FlowTransitions.WithLabelValues(string(from), string(evType)).Inc()
	return next
}
