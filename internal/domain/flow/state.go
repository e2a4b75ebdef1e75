// internal/domain/flow/state.go

// Package flow is the authentication flow state store: a closed set of
// state variants, the events that move between them, and a pure reducer.
package flow

import (
	"auth-flow-server/internal/domain/auth"
)

// Step names a state for history, logging and the UI.
type Step string

const (
	StepMethodSelection  Step = "method-selection"
	StepKeyIdentityAuth  Step = "key-identity-auth"
	StepLegacyAuth       Step = "legacy-auth"
	StepAccountDiscovery Step = "account-discovery"
	StepAccountLinking   Step = "account-linking"
	StepSignupUserType   Step = "signup-user-type"
	StepSignupArtistType Step = "signup-artist-type"
	StepProfileSetup     Step = "profile-setup"
	StepBackupEmailSetup Step = "backup-email-setup"
	StepWelcome          Step = "welcome"
	StepCompleted        Step = "completed"
	StepError            Step = "error"
)

// State is implemented only by the variants in this file.
type State interface {
	Step() Step
	isState()
}

type LegacyMode string

const (
	LegacySignIn LegacyMode = "signin"
	LegacySignUp LegacyMode = "signup"
)

type SignupStage string

const (
	StageUserType   SignupStage = "user-type"
	StageArtistType SignupStage = "artist-type"
)

type ArtistKind string

const (
	ArtistKindNone  ArtistKind = ""
	ArtistKindSolo  ArtistKind = "solo"
	ArtistKindGroup ArtistKind = "group"
)

// MethodSelection is the initial state.
type MethodSelection struct{}

// KeyIdentityAuth is direct key-identity authentication. Connected is set
// once the signer has answered and the user has not yet continued.
type KeyIdentityAuth struct {
	Method    string         `json:"method,omitempty"`
	Connected *auth.Identity `json:"connected,omitempty"`
}

// LegacyAuth collects legacy credentials. FromKeyIdentity records that the
// user arrived through the migration offer.
type LegacyAuth struct {
	Mode            LegacyMode `json:"mode"`
	FromKeyIdentity bool       `json:"fromKeyIdentity,omitempty"`
}

type AccountDiscovery struct {
	Session    auth.LegacySession `json:"-"`
	IsNewUser  bool               `json:"isNewUser"`
	Discovered []auth.KeyID       `json:"discovered,omitempty"`
	Loaded     bool               `json:"loaded"`
}

// AccountLinking holds a key identity that was either discovered for
// Session or generated in this flow.
type AccountLinking struct {
	Session   auth.LegacySession `json:"-"`
	IsNewUser bool               `json:"isNewUser"`
	Selected  auth.KeyID         `json:"selected"`
	Generated bool               `json:"generated,omitempty"`
}

type Signup struct {
	Stage          SignupStage `json:"stage"`
	UserTypeChosen bool        `json:"userTypeChosen,omitempty"`
	IsArtist       bool        `json:"isArtist"`
	Kind           ArtistKind  `json:"artistKind,omitempty"`
}

// ReadyToCreate reports whether every selection that shapes account
// creation has been made.
func (s Signup) ReadyToCreate() bool {
	if !s.UserTypeChosen {
		return false
	}
	return !s.IsArtist || s.Kind != ArtistKindNone
}

func (s Signup) IsSoloArtist() bool {
	return s.IsArtist && s.Kind == ArtistKindSolo
}

type ProfileSetup struct {
	IsArtist bool `json:"isArtist"`
}

type BackupEmailSetup struct{}

type Welcome struct{}

type Completed struct {
	Identity auth.Identity `json:"identity"`
}

// Error keeps the state it interrupted so Retry and GoBack can restore it.
type Error struct {
	Reason   string `json:"reason"`
	Previous State  `json:"previous"`
}

func (MethodSelection) Step() Step  { return StepMethodSelection }
func (KeyIdentityAuth) Step() Step  { return StepKeyIdentityAuth }
func (LegacyAuth) Step() Step       { return StepLegacyAuth }
func (AccountDiscovery) Step() Step { return StepAccountDiscovery }
func (AccountLinking) Step() Step   { return StepAccountLinking }
func (ProfileSetup) Step() Step     { return StepProfileSetup }
func (BackupEmailSetup) Step() Step { return StepBackupEmailSetup }
func (Welcome) Step() Step          { return StepWelcome }
func (Completed) Step() Step        { return StepCompleted }
func (Error) Step() Step            { return StepError }

func (s Signup) Step() Step {
	if s.Stage == StageArtistType {
		return StepSignupArtistType
	}
	return StepSignupUserType
}

func (MethodSelection) isState()  {}
func (KeyIdentityAuth) isState()  {}
func (LegacyAuth) isState()       {}
func (AccountDiscovery) isState() {}
func (AccountLinking) isState()   {}
func (Signup) isState()           {}
func (ProfileSetup) isState()     {}
func (BackupEmailSetup) isState() {}
func (Welcome) isState()          {}
func (Completed) isState()        {}
func (Error) isState()            {}

// Outcome records how the flow established its identity. It is set once.
type Outcome string

const (
	OutcomeNone        Outcome = ""
	OutcomeKeyIdentity Outcome = "key-identity"
	OutcomeLinked      Outcome = "linked"
)

// Flow is the value the reducer folds events into.
type Flow struct {
	State    State          `json:"state"`
	History  []Step         `json:"history"`
	Outcome  Outcome        `json:"outcome,omitempty"`
	Identity *auth.Identity `json:"identity,omitempty"`
}

// New returns a flow starting at initial, or at method selection when
// initial is nil.
func New(initial State) Flow {
	if initial == nil {
		initial = MethodSelection{}
	}
	return Flow{State: initial}
}

// InitialState maps a deep-link parameter to a starting state.
func InitialState(param string) State {
	switch param {
	case "legacy-auth", "legacy-signin":
		return LegacyAuth{Mode: LegacySignIn}
	case "legacy-signup":
		return LegacyAuth{Mode: LegacySignUp}
	case "key-identity-auth":
		return KeyIdentityAuth{}
	}
	return MethodSelection{}
}
