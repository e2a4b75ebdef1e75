// internal/domain/auth/model.go
package auth

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"auth-flow-server/pkg/errors"
)

// KeyID is the hex public key of a key identity, always normalised to
// 64 lowercase hex characters.
type KeyID string

const keyIDLength = 64

// ParseKeyID validates raw and returns its normalised form.
func ParseKeyID(raw string) (KeyID, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if len(s) != keyIDLength {
		return "", errors.NewValidationError("key identity must be 64 hex characters")
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", errors.NewValidationError("key identity must be 64 hex characters")
	}
	return KeyID(s), nil
}

func (k KeyID) String() string {
	return string(k)
}

// Short returns an abbreviated form for logs.
func (k KeyID) Short() string {
	if len(k) < 12 {
		return string(k)
	}
	return string(k[:8]) + "…" + string(k[len(k)-4:])
}

type Profile struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Picture     string `json:"picture"`
	About       string `json:"about"`
}

// LinkedAccount is a key identity associated with a legacy identity.
// LinkedAt is epoch milliseconds and nil when the service has no date.
type LinkedAccount struct {
	KeyID     KeyID    `json:"keyId"`
	Profile   *Profile `json:"profile,omitempty"`
	LinkedAt  *int64   `json:"linkedAt,omitempty"`
	IsPrimary bool     `json:"isPrimary"`
}

// LegacyProfile fields are never nil so they merge cleanly into a new
// identity's profile document.
type LegacyProfile struct {
	Name           string `json:"name"`
	About          string `json:"about"`
	Picture        string `json:"picture"`
	Website        string `json:"website"`
	VerifiedHandle string `json:"verifiedHandle"`
}

// LegacySession is an authenticated session with the legacy credential
// system. Token must be called at the point of use; it may refresh.
type LegacySession interface {
	ID() string
	Email() string
	Token(ctx context.Context) (string, error)
}

// KeySession is what a key-identity signer returns after authenticating.
type KeySession struct {
	KeyID         KeyID
	SessionHandle string
}

// Identity is the application identity a flow resolves to.
type Identity struct {
	KeyID         KeyID         `json:"keyId"`
	SessionHandle string        `json:"-"`
	DisplayName   string        `json:"displayName,omitempty"`
	Legacy        LegacySession `json:"-"`
	LegacyID      string        `json:"legacyId,omitempty"`
}

// WithLegacy returns a copy of id bound to session.
func (id Identity) WithLegacy(session LegacySession) Identity {
	id.Legacy = session
	if session != nil {
		id.LegacyID = session.ID()
	}
	return id
}

// LegacyArtist is an artist record from the predecessor system.
type LegacyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

const SettingsVersion = 1

// Settings is the persisted, versioned user preferences document.
type Settings struct {
	Version   int       `json:"version"`
	IsCreator bool      `json:"isCreator"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Credentials struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6"`
}

type CreateOptions struct {
	GenerateDisplayName bool   `json:"generateDisplayName"`
	CreateWallet        bool   `json:"createWallet"`
	CustomName          string `json:"customName,omitempty"`
	ProfileTemplate     string `json:"profileTemplate,omitempty"`
}

type CreatedAccount struct {
	KeyID       KeyID  `json:"keyId"`
	Session     string `json:"session"`
	DisplayName string `json:"displayName"`
}

// AppSession is the application session opened when a flow completes.
type AppSession struct {
	ID        string    `json:"id"`
	KeyID     KeyID     `json:"keyId"`
	LegacyID  string    `json:"legacyId,omitempty"`
	IsCreator bool      `json:"isCreator"`
	ExpiresAt time.Time `json:"expiresAt"`
}
