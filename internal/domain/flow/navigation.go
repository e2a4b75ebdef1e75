// internal/domain/flow/navigation.go
package flow

// Predecessor returns the state GoBack leads to from s. Each step has a
// fixed predecessor that can be rebuilt without the payloads of earlier
// states. ok is false where back navigation is rejected.
func Predecessor(s State) (prev State, ok bool) {
	switch s := s.(type) {
	case KeyIdentityAuth:
		return MethodSelection{}, true
	case LegacyAuth:
		if s.FromKeyIdentity {
			return KeyIdentityAuth{}, true
		}
		return MethodSelection{}, true
	case AccountDiscovery:
		return LegacyAuth{Mode: legacyModeFor(s.IsNewUser)}, true
	case AccountLinking:
		return LegacyAuth{Mode: legacyModeFor(s.IsNewUser)}, true
	case Signup:
		if s.Stage == StageArtistType {
			return Signup{Stage: StageUserType}, true
		}
		return MethodSelection{}, true
	case BackupEmailSetup:
		return ProfileSetup{IsArtist: true}, true
	case Error:
		return s.Previous, s.Previous != nil
	}
	// method-selection, profile-setup, welcome and completed have no way back.
	return nil, false
}

func legacyModeFor(isNewUser bool) LegacyMode {
	if isNewUser {
		return LegacySignUp
	}
	return LegacySignIn
}

func CanGoBack(s State) bool {
	_, ok := Predecessor(s)
	return ok
}

func goBack(f Flow) Flow {
	prev, ok := Predecessor(f.State)
	if !ok {
		return f
	}
	f.State = prev
	return f
}

var stepProgress = map[Step]int{
	StepMethodSelection:  0,
	StepKeyIdentityAuth:  25,
	StepLegacyAuth:       20,
	StepAccountDiscovery: 40,
	StepAccountLinking:   60,
	StepSignupUserType:   20,
	StepSignupArtistType: 35,
	StepProfileSetup:     55,
	StepBackupEmailSetup: 75,
	StepWelcome:          90,
	StepCompleted:        100,
}

// Progress is a completion percentage for the UI. An error reports the
// progress of the state it interrupted.
func Progress(s State) int {
	if e, ok := s.(Error); ok {
		if e.Previous == nil {
			return 0
		}
		return Progress(e.Previous)
	}
	if s == nil {
		return 0
	}
	return stepProgress[s.Step()]
}

type Type string

const (
	TypeUnknown Type = "unknown"
	TypeSignIn  Type = "signin"
	TypeSignUp  Type = "signup"
	TypeLinking Type = "linking"
)

// FlowType derives which kind of flow f is in.
func FlowType(f Flow) Type {
	switch s := f.State.(type) {
	case Error:
		return FlowType(Flow{State: s.Previous, History: f.History, Outcome: f.Outcome})
	case KeyIdentityAuth:
		return TypeSignIn
	case LegacyAuth:
		if s.Mode == LegacySignUp {
			return TypeSignUp
		}
		return TypeSignIn
	case AccountDiscovery, AccountLinking:
		return TypeLinking
	case Signup, ProfileSetup, BackupEmailSetup:
		return TypeSignUp
	case Welcome, Completed:
		switch {
		case f.Outcome == OutcomeLinked:
			return TypeLinking
		case f.visited(StepSignupUserType):
			return TypeSignUp
		case f.Outcome == OutcomeKeyIdentity:
			return TypeSignIn
		}
	}
	return TypeUnknown
}

func (f Flow) visited(step Step) bool {
	for _, s := range f.History {
		if s == step {
			return true
		}
	}
	return false
}
