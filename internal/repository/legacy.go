// internal/repository/legacy.go
package repository

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"auth-flow-server/internal/domain/auth"
	"auth-flow-server/pkg/errors"
)

// tokenSkew refreshes a token slightly before it actually expires.
const tokenSkew = 30 * time.Second

// LegacyClient signs users in to the legacy email/password system.
type LegacyClient struct {
	auth  *client
	token *client
	now   func() time.Time
}

// NewLegacyClient builds a client; tokenURL serves refresh-token grants.
func NewLegacyClient(cfg ClientConfig, tokenURL string) (*LegacyClient, error) {
	a, err := newClient("legacy-auth", cfg)
	if err != nil {
		return nil, err
	}
	tokenCfg := cfg
	tokenCfg.BaseURL = tokenURL
	t, err := newClient("legacy-token", tokenCfg)
	if err != nil {
		return nil, err
	}
	return &LegacyClient{auth: a, token: t, now: time.Now}, nil
}

type passwordRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type passwordResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	ExpiresIn    string `json:"expires_in"`
}

func (l *LegacyClient) SignIn(ctx context.Context, creds auth.Credentials) (auth.LegacySession, error) {
	return l.password(ctx, "sign in", "/accounts:signInWithPassword", l.auth.attempts, creds)
}

func (l *LegacyClient) SignUp(ctx context.Context, creds auth.Credentials) (auth.LegacySession, error) {
	// A retried sign up after the account was created upstream would come
	// back as EMAIL_EXISTS.
	return l.password(ctx, "sign up", "/accounts:signUp", 1, creds)
}

func (l *LegacyClient) password(ctx context.Context, op, path string, attempts int, creds auth.Credentials) (auth.LegacySession, error) {
	var resp passwordResponse
	req := request{
		op:     op,
		method: http.MethodPost,
		path:   path,
		body: passwordRequest{
			Email:             strings.TrimSpace(creds.Email),
			Password:          creds.Password,
			ReturnSecureToken: true,
		},
	}
	err := withRetry(ctx, "legacy "+op, attempts, func() error {
		return l.auth.once(ctx, req, &resp)
	})
	if err != nil {
		return nil, credentialError(err)
	}
	if resp.LocalID == "" || resp.IDToken == "" {
		return nil, errors.NewAuthenticationError("legacy " + op + ": empty session")
	}
	s := &legacySession{
		client:       l,
		id:           resp.LocalID,
		email:        resp.Email,
		idToken:      resp.IDToken,
		refreshToken: resp.RefreshToken,
	}
	s.expiresAt = l.expiry(resp.IDToken, resp.ExpiresIn)
	l.auth.logger.Info("legacy session opened", zap.String("op", op), zap.String("legacy_id", s.id))
	return s, nil
}

// credentialError folds the provider's 400 responses into the taxonomy.
// The provider reports every credential problem as a bad request.
func credentialError(err error) error {
	var v *errors.ValidationError
	if !errors.As(err, &v) {
		return err
	}
	code := strings.ToUpper(strings.TrimSpace(strings.SplitN(v.Message, ":", 2)[0]))
	switch code {
	case "EMAIL_EXISTS":
		return errors.NewConflictError("an account with this email already exists")
	case "INVALID_EMAIL", "MISSING_PASSWORD", "WEAK_PASSWORD":
		return errors.NewValidationError(strings.ToLower(strings.ReplaceAll(code, "_", " ")))
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		return errors.NewAuthorizationError("too many attempts, try again later")
	}
	return errors.NewAuthenticationError("invalid credentials")
}

// expiry prefers the exp claim of the id token and falls back to the
// expiresIn seconds the provider reported.
func (l *LegacyClient) expiry(idToken, expiresIn string) time.Time {
	if at, ok := tokenExpiry(idToken); ok {
		return at
	}
	if secs, err := strconv.Atoi(expiresIn); err == nil && secs > 0 {
		return l.now().Add(time.Duration(secs) * time.Second)
	}
	return l.now()
}

// tokenExpiry reads exp without verifying the signature; the token is only
// forwarded to services that verify it themselves.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func (l *LegacyClient) refresh(ctx context.Context, refreshToken string) (refreshResponse, error) {
	var resp refreshResponse
	err := l.token.do(ctx, request{
		op:     "refresh",
		method: http.MethodPost,
		path:   "/token",
		form: url.Values{
			"grant_type":    []string{"refresh_token"},
			"refresh_token": []string{refreshToken},
		},
	}, &resp)
	if err != nil {
		var v *errors.ValidationError
		var authn *errors.AuthenticationError
		if errors.As(err, &v) || errors.As(err, &authn) {
			return resp, errors.NewSessionExpiredError()
		}
		return resp, err
	}
	return resp, nil
}

type legacySession struct {
	client *LegacyClient
	id     string
	email  string

	mu           sync.Mutex
	idToken      string
	refreshToken string
	expiresAt    time.Time
}

func (s *legacySession) ID() string    { return s.id }
func (s *legacySession) Email() string { return s.email }

// Token returns a current id token, refreshing it when it is about to
// expire. Concurrent callers share one refresh.
func (s *legacySession) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client.now().Add(tokenSkew).Before(s.expiresAt) {
		return s.idToken, nil
	}
	if s.refreshToken == "" {
		return "", errors.NewSessionExpiredError()
	}
	resp, err := s.client.refresh(ctx, s.refreshToken)
	if err != nil {
		return "", err
	}
	s.idToken = resp.IDToken
	if resp.RefreshToken != "" {
		s.refreshToken = resp.RefreshToken
	}
	s.expiresAt = s.client.expiry(resp.IDToken, resp.ExpiresIn)
	return s.idToken, nil
}
