// internal/domain/flow/event.go
package flow

import (
	"auth-flow-server/internal/domain/auth"
)

type EventType string

const (
	EventSelectMethod            EventType = "SELECT_METHOD"
	EventKeyIdentityConnected    EventType = "KEY_IDENTITY_CONNECTED"
	EventContinueWithKeyIdentity EventType = "CONTINUE_WITH_KEY_IDENTITY"
	EventStartLegacyMigration    EventType = "START_LEGACY_MIGRATION"
	EventSwitchLegacyMode        EventType = "SWITCH_LEGACY_MODE"
	EventLegacyAuthenticated     EventType = "LEGACY_AUTHENTICATED"
	EventDiscoveryLoaded         EventType = "DISCOVERY_LOADED"
	EventSelectKeyIdentity       EventType = "SELECT_KEY_IDENTITY"
	EventKeyIdentityGenerated    EventType = "KEY_IDENTITY_GENERATED"
	EventUseDifferentIdentity    EventType = "USE_DIFFERENT_IDENTITY"
	EventAccountLinked           EventType = "ACCOUNT_LINKED"
	EventSelectUserType          EventType = "SELECT_USER_TYPE"
	EventSelectArtistType        EventType = "SELECT_ARTIST_TYPE"
	EventAccountCreated          EventType = "ACCOUNT_CREATED"
	EventProfileSaved            EventType = "PROFILE_SAVED"
	EventBackupEmailDone         EventType = "BACKUP_EMAIL_DONE"
	EventSkipBackupEmail         EventType = "SKIP_BACKUP_EMAIL"
	EventComplete                EventType = "COMPLETE"
	EventFail                    EventType = "FAIL"
	EventRetry                   EventType = "RETRY"
	EventGoBack                  EventType = "GO_BACK"
)

// Event is implemented only by the types in this file.
type Event interface {
	Type() EventType
	isEvent()
}

type Method string

const (
	MethodKeyIdentity  Method = "key-identity"
	MethodLegacySignIn Method = "legacy-signin"
	MethodLegacySignUp Method = "legacy-signup"
	MethodSignup       Method = "signup"
)

type SelectMethod struct {
	Method Method
	// SignerMethod names the key-identity signer kind, if any.
	SignerMethod string
}

type KeyIdentityConnected struct {
	Identity auth.Identity
}

type ContinueWithKeyIdentity struct{}

type StartLegacyMigration struct{}

type SwitchLegacyMode struct {
	Mode LegacyMode
}

type LegacyAuthenticated struct {
	Session   auth.LegacySession
	IsNewUser bool
}

type DiscoveryLoaded struct {
	Accounts []auth.LinkedAccount
}

type SelectKeyIdentity struct {
	KeyID auth.KeyID
}

type KeyIdentityGenerated struct {
	KeyID auth.KeyID
}

type UseDifferentIdentity struct{}

type AccountLinked struct {
	Identity auth.Identity
}

type SelectUserType struct {
	Artist bool
}

type SelectArtistType struct {
	Solo bool
}

type AccountCreated struct {
	Identity auth.Identity
}

type ProfileSaved struct{}

// BackupEmailDone carries the legacy session when backup linking worked.
type BackupEmailDone struct {
	Legacy auth.LegacySession
}

type SkipBackupEmail struct{}

type Complete struct{}

type Fail struct {
	Reason string
}

type Retry struct{}

type GoBack struct{}

func (SelectMethod) Type() EventType            { return EventSelectMethod }
func (KeyIdentityConnected) Type() EventType    { return EventKeyIdentityConnected }
func (ContinueWithKeyIdentity) Type() EventType { return EventContinueWithKeyIdentity }
func (StartLegacyMigration) Type() EventType    { return EventStartLegacyMigration }
func (SwitchLegacyMode) Type() EventType        { return EventSwitchLegacyMode }
func (LegacyAuthenticated) Type() EventType     { return EventLegacyAuthenticated }
func (DiscoveryLoaded) Type() EventType         { return EventDiscoveryLoaded }
func (SelectKeyIdentity) Type() EventType       { return EventSelectKeyIdentity }
func (KeyIdentityGenerated) Type() EventType    { return EventKeyIdentityGenerated }
func (UseDifferentIdentity) Type() EventType    { return EventUseDifferentIdentity }
func (AccountLinked) Type() EventType           { return EventAccountLinked }
func (SelectUserType) Type() EventType          { return EventSelectUserType }
func (SelectArtistType) Type() EventType        { return EventSelectArtistType }
func (AccountCreated) Type() EventType          { return EventAccountCreated }
func (ProfileSaved) Type() EventType            { return EventProfileSaved }
func (BackupEmailDone) Type() EventType         { return EventBackupEmailDone }
func (SkipBackupEmail) Type() EventType         { return EventSkipBackupEmail }
func (Complete) Type() EventType                { return EventComplete }
func (Fail) Type() EventType                    { return EventFail }
func (Retry) Type() EventType                   { return EventRetry }
func (GoBack) Type() EventType                  { return EventGoBack }

func (SelectMethod) isEvent()            {}
func (KeyIdentityConnected) isEvent()    {}
func (ContinueWithKeyIdentity) isEvent() {}
func (StartLegacyMigration) isEvent()    {}
func (SwitchLegacyMode) isEvent()        {}
func (LegacyAuthenticated) isEvent()     {}
func (DiscoveryLoaded) isEvent()         {}
func (SelectKeyIdentity) isEvent()       {}
func (KeyIdentityGenerated) isEvent()    {}
func (UseDifferentIdentity) isEvent()    {}
func (AccountLinked) isEvent()           {}
func (SelectUserType) isEvent()          {}
func (SelectArtistType) isEvent()        {}
func (AccountCreated) isEvent()          {}
func (ProfileSaved) isEvent()            {}
func (BackupEmailDone) isEvent()         {}
func (SkipBackupEmail) isEvent()         {}
func (Complete) isEvent()                {}
func (Fail) isEvent()                    {}
func (Retry) isEvent()                   {}
func (GoBack) isEvent()                  {}
