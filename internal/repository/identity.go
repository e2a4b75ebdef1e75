// internal/repository/identity.go
package repository

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"auth-flow-server/internal/domain/auth"
	"auth-flow-server/pkg/errors"
)

// IdentityClient talks to the identity service that owns the links
// between legacy identities and key identities.
type IdentityClient struct {
	c *client
}

func NewIdentityClient(cfg ClientConfig) (*IdentityClient, error) {
	c, err := newClient("identity", cfg)
	if err != nil {
		return nil, err
	}
	return &IdentityClient{c: c}, nil
}

type linkedAccountPayload struct {
	KeyID     string        `json:"keyId"`
	LinkedAt  *int64        `json:"linkedAt"`
	IsPrimary bool          `json:"isPrimary"`
	Profile   *auth.Profile `json:"profile"`
}

type legacyProfilePayload struct {
	Name           *string `json:"name"`
	About          *string `json:"about"`
	Picture        *string `json:"picture"`
	Website        *string `json:"website"`
	VerifiedHandle *string `json:"verifiedHandle"`
}

func (p legacyProfilePayload) profile() *auth.LegacyProfile {
	get := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	return &auth.LegacyProfile{
		Name:           get(p.Name),
		About:          get(p.About),
		Picture:        get(p.Picture),
		Website:        get(p.Website),
		VerifiedHandle: get(p.VerifiedHandle),
	}
}

func (i *IdentityClient) ListLinked(ctx context.Context, session auth.LegacySession) ([]auth.LinkedAccount, error) {
	if session == nil {
		return nil, errors.NewSessionExpiredError()
	}
	var payload []linkedAccountPayload
	err := i.c.do(ctx, request{
		op:     "list linked",
		method: http.MethodGet,
		path:   "/linked-identities",
		token:  session.Token,
	}, &payload)
	if err != nil {
		return nil, err
	}

	accounts := make([]auth.LinkedAccount, 0, len(payload))
	for _, p := range payload {
		keyID, err := auth.ParseKeyID(p.KeyID)
		if err != nil {
			i.c.logger.Warn("dropping malformed linked key", zap.String("key", p.KeyID))
			continue
		}
		accounts = append(accounts, auth.LinkedAccount{
			KeyID:     keyID,
			LinkedAt:  p.LinkedAt,
			IsPrimary: p.IsPrimary,
			Profile:   p.Profile,
		})
	}
	return accounts, nil
}

func (i *IdentityClient) Link(ctx context.Context, session auth.LegacySession, keyID auth.KeyID) error {
	if session == nil {
		return errors.NewSessionExpiredError()
	}
	err := i.c.do(ctx, request{
		op:     "link",
		method: http.MethodPost,
		path:   "/linked-identities",
		body:   map[string]string{"keyId": keyID.String()},
		token:  session.Token,
	}, nil)
	var conflict *errors.ConflictError
	if errors.As(err, &conflict) {
		return errors.NewDuplicateLinkError(keyID.String())
	}
	return err
}

func (i *IdentityClient) Unlink(ctx context.Context, session auth.LegacySession, keyID auth.KeyID) error {
	if session == nil {
		return errors.NewSessionExpiredError()
	}
	err := i.c.do(ctx, request{
		op:     "unlink",
		method: http.MethodDelete,
		path:   "/linked-identities/" + url.PathEscape(keyID.String()),
		token:  session.Token,
	}, nil)
	if errors.Is(err, errNotFound) {
		return errors.NewValidationError("key identity is not linked")
	}
	return err
}

// LegacyProfile returns nil, nil when the legacy system has no profile for
// the session's identity.
func (i *IdentityClient) LegacyProfile(ctx context.Context, session auth.LegacySession) (*auth.LegacyProfile, error) {
	if session == nil {
		return nil, errors.NewSessionExpiredError()
	}
	var payload *legacyProfilePayload
	err := i.c.do(ctx, request{
		op:     "legacy profile",
		method: http.MethodGet,
		path:   "/legacy-profile",
		token:  session.Token,
	}, &payload)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil || payload == nil {
		return nil, err
	}
	return payload.profile(), nil
}

func (i *IdentityClient) LegacyArtists(ctx context.Context, keyID auth.KeyID) ([]auth.LegacyArtist, error) {
	var artists []auth.LegacyArtist
	err := i.c.do(ctx, request{
		op:     "legacy artists",
		method: http.MethodGet,
		path:   "/legacy-artists",
		query:  url.Values{"keyId": []string{strings.ToLower(keyID.String())}},
	}, &artists)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	return artists, err
}
