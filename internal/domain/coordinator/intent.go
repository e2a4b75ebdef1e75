// internal/domain/coordinator/intent.go
package coordinator

import (
	"auth-flow-server/internal/domain/auth"
	"auth-flow-server/internal/domain/flow"
)

// Intent is a user action dispatched to a Coordinator.
type Intent interface {
	Name() string
}

type ChooseMethod struct {
	Method       flow.Method
	SignerMethod string
}

type AuthenticateKeyIdentity struct {
	Signer auth.KeySigner
}

type ContinueWithKeyIdentity struct{}

type MigrateLegacyAccount struct{}

type SwitchLegacyMode struct {
	Mode flow.LegacyMode
}

type SubmitLegacyCredentials struct {
	Credentials auth.Credentials
}

type RefreshDiscovery struct{}

type ChooseLinkedAccount struct {
	KeyID string
}

type GenerateKeyIdentity struct{}

type ConfirmLink struct{}

type UseDifferentIdentity struct{}

type ChooseUserType struct {
	Artist bool
}

type ChooseArtistType struct {
	Solo bool
}

type SaveProfile struct{}

type SubmitBackupEmail struct {
	Credentials auth.Credentials
}

type SkipBackupEmail struct{}

type CompleteWelcome struct{}

type GoBack struct{}

type Retry struct{}

func (ChooseMethod) Name() string            { return "choose-method" }
func (AuthenticateKeyIdentity) Name() string { return "authenticate-key-identity" }
func (ContinueWithKeyIdentity) Name() string { return "continue-with-key-identity" }
func (MigrateLegacyAccount) Name() string    { return "migrate-legacy-account" }
func (SwitchLegacyMode) Name() string        { return "switch-legacy-mode" }
func (SubmitLegacyCredentials) Name() string { return "submit-legacy-credentials" }
func (RefreshDiscovery) Name() string        { return "refresh-discovery" }
func (ChooseLinkedAccount) Name() string     { return "choose-linked-account" }
func (GenerateKeyIdentity) Name() string     { return "generate-key-identity" }
func (ConfirmLink) Name() string             { return "confirm-link" }
func (UseDifferentIdentity) Name() string    { return "use-different-identity" }
func (ChooseUserType) Name() string          { return "choose-user-type" }
func (ChooseArtistType) Name() string        { return "choose-artist-type" }
func (SaveProfile) Name() string             { return "save-profile" }
func (SubmitBackupEmail) Name() string       { return "submit-backup-email" }
func (SkipBackupEmail) Name() string         { return "skip-backup-email" }
func (CompleteWelcome) Name() string         { return "complete-welcome" }
func (GoBack) Name() string                  { return "go-back" }
func (Retry) Name() string                   { return "retry" }
