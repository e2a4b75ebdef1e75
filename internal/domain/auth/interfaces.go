// internal/domain/auth/interfaces.go
package auth

import (
	"context"
	"time"
)

type Validator interface {
	Validate(interface{}) error
}

type SessionStore interface {
	CreateSession(ctx context.Context, session AppSession, duration time.Duration) error
	GetSession(ctx context.Context, sessionID string) (*AppSession, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// KeySigner authenticates a key identity. Implementations fail with
// UserRejectedError or TimeoutError.
type KeySigner interface {
	Authenticate(ctx context.Context) (KeySession, error)
}

// LegacyProvider exchanges credentials for a legacy session.
type LegacyProvider interface {
	SignIn(ctx context.Context, creds Credentials) (LegacySession, error)
	SignUp(ctx context.Context, creds Credentials) (LegacySession, error)
}

// LinkedIdentityAPI is the discovery/linking HTTP service.
type LinkedIdentityAPI interface {
	ListLinked(ctx context.Context, session LegacySession) ([]LinkedAccount, error)
	Link(ctx context.Context, session LegacySession, keyID KeyID) error
	Unlink(ctx context.Context, session LegacySession, keyID KeyID) error
}

// LegacyProfileAPI returns nil, nil when the legacy system has no profile.
type LegacyProfileAPI interface {
	LegacyProfile(ctx context.Context, session LegacySession) (*LegacyProfile, error)
}

type LegacyArtistAPI interface {
	LegacyArtists(ctx context.Context, keyID KeyID) ([]LegacyArtist, error)
}

// SettingsStore returns nil, nil when no document exists.
type SettingsStore interface {
	GetSettings(ctx context.Context, keyID KeyID) (*Settings, error)
	UpdateSettings(ctx context.Context, keyID KeyID, settings Settings) error
}

type AccountCreator interface {
	CreateAccount(ctx context.Context, opts CreateOptions) (*CreatedAccount, error)
}
