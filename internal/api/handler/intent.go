// internal/api/handler/intent.go
package handler

import (
	"auth-flow-server/internal/domain/auth"
	"auth-flow-server/internal/domain/coordinator"
	"auth-flow-server/internal/domain/flow"
	"auth-flow-server/pkg/errors"
)

// IntentRequest is the wire form of an intent. Only the fields the named
// type uses are read.
type IntentRequest struct {
	Type          string `json:"type" validate:"required"`
	Method        string `json:"method,omitempty" validate:"omitempty,oneof=key-identity legacy-signin legacy-signup signup"`
	SignerMethod  string `json:"signerMethod,omitempty"`
	Mode          string `json:"mode,omitempty" validate:"omitempty,oneof=signin signup"`
	KeyID         string `json:"keyId,omitempty"`
	SessionHandle string `json:"sessionHandle,omitempty"`
	Signature     string `json:"signature,omitempty"`
	Email         string `json:"email,omitempty"`
	Password      string `json:"password,omitempty"`
	Artist        bool   `json:"artist,omitempty"`
	Solo          bool   `json:"solo,omitempty"`
}

func (req IntentRequest) credentials() auth.Credentials {
	return auth.Credentials{Email: req.Email, Password: req.Password}
}

// Intent converts req into a coordinator intent. challenge is the flow's
// sign-in challenge a presented key identity must have signed.
func (req IntentRequest) Intent(v auth.Validator, challenge string) (coordinator.Intent, error) {
	if err := v.Validate(req); err != nil {
		return nil, errors.NewBadRequestError("invalid intent: " + err.Error())
	}
	switch req.Type {
	case coordinator.ChooseMethod{}.Name():
		if req.Method == "" {
			return nil, errors.NewBadRequestError("choose-method needs a method")
		}
		return coordinator.ChooseMethod{Method: flow.Method(req.Method), SignerMethod: req.SignerMethod}, nil
	case coordinator.AuthenticateKeyIdentity{}.Name():
		return coordinator.AuthenticateKeyIdentity{
			Signer: auth.PresentedSigner{
				KeyID:         req.KeyID,
				SessionHandle: req.SessionHandle,
				Signature:     req.Signature,
				Challenge:     challenge,
			},
		}, nil
	case coordinator.ContinueWithKeyIdentity{}.Name():
		return coordinator.ContinueWithKeyIdentity{}, nil
	case coordinator.MigrateLegacyAccount{}.Name():
		return coordinator.MigrateLegacyAccount{}, nil
	case coordinator.SwitchLegacyMode{}.Name():
		if req.Mode == "" {
			return nil, errors.NewBadRequestError("switch-legacy-mode needs a mode")
		}
		return coordinator.SwitchLegacyMode{Mode: flow.LegacyMode(req.Mode)}, nil
	case coordinator.SubmitLegacyCredentials{}.Name():
		return coordinator.SubmitLegacyCredentials{Credentials: req.credentials()}, nil
	case coordinator.RefreshDiscovery{}.Name():
		return coordinator.RefreshDiscovery{}, nil
	case coordinator.ChooseLinkedAccount{}.Name():
		return coordinator.ChooseLinkedAccount{KeyID: req.KeyID}, nil
	case coordinator.GenerateKeyIdentity{}.Name():
		return coordinator.GenerateKeyIdentity{}, nil
	case coordinator.ConfirmLink{}.Name():
		return coordinator.ConfirmLink{}, nil
	case coordinator.UseDifferentIdentity{}.Name():
		return coordinator.UseDifferentIdentity{}, nil
	case coordinator.ChooseUserType{}.Name():
		return coordinator.ChooseUserType{Artist: req.Artist}, nil
	case coordinator.ChooseArtistType{}.Name():
		return coordinator.ChooseArtistType{Solo: req.Solo}, nil
	case coordinator.SaveProfile{}.Name():
		return coordinator.SaveProfile{}, nil
	case coordinator.SubmitBackupEmail{}.Name():
		return coordinator.SubmitBackupEmail{Credentials: req.credentials()}, nil
	case coordinator.SkipBackupEmail{}.Name():
		return coordinator.SkipBackupEmail{}, nil
	case coordinator.CompleteWelcome{}.Name():
		return coordinator.CompleteWelcome{}, nil
	case coordinator.GoBack{}.Name():
		return coordinator.GoBack{}, nil
	case coordinator.Retry{}.Name():
		return coordinator.Retry{}, nil
	}
	return nil, errors.NewBadRequestError("unknown intent type " + req.Type)
}
