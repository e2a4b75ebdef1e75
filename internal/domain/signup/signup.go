// internal/domain/signup/signup.go

// Package signup holds the business rules for creating a new account.
package signup

import (
	"context"

	"go.uber.org/zap"

	"auth-flow-server/internal/domain/auth"
	"auth-flow-server/internal/domain/flow"
	"auth-flow-server/pkg/errors"
)

const (
	TemplateSoloArtist  = "solo-artist"
	TemplateArtistGroup = "artist-group"
)

// Linker is the part of the linking service used for backup email.
type Linker interface {
	Link(ctx context.Context, session auth.LegacySession, keyID string) error
}

type Service struct {
	accounts  auth.AccountCreator
	legacy    auth.LegacyProvider
	linker    Linker
	validator auth.Validator
	logger    *zap.Logger
}

func NewService(accounts auth.AccountCreator, legacy auth.LegacyProvider, linker Linker, validator auth.Validator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		accounts:  accounts,
		legacy:    legacy,
		linker:    linker,
		validator: validator,
		logger:    logger,
	}
}

// ShouldCreateOnUserType reports whether choosing the user type alone
// creates the account. Artists still have to pick solo or group.
func ShouldCreateOnUserType(artist bool) bool {
	return !artist
}

// RequiresBackupEmail reports whether the backup email step is offered.
func RequiresBackupEmail(isArtist bool) bool {
	return isArtist
}

// Options turns the signup selections into account creation options.
func Options(sel flow.Signup) (auth.CreateOptions, error) {
	if !sel.UserTypeChosen {
		return auth.CreateOptions{}, errors.NewValidationError("Choose how you want to use the app.")
	}
	if !sel.IsArtist {
		return auth.CreateOptions{GenerateDisplayName: true, CreateWallet: true}, nil
	}
	switch sel.Kind {
	case flow.ArtistKindSolo:
		return auth.CreateOptions{CreateWallet: true, ProfileTemplate: TemplateSoloArtist}, nil
	case flow.ArtistKindGroup:
		return auth.CreateOptions{CreateWallet: true, ProfileTemplate: TemplateArtistGroup}, nil
	}
	return auth.CreateOptions{}, errors.NewValidationError("Choose whether you are a solo artist or a group.")
}

// Create creates the account for sel and returns its identity.
func (s *Service) Create(ctx context.Context, sel flow.Signup) (auth.Identity, error) {
	opts, err := Options(sel)
	if err != nil {
		return auth.Identity{}, err
	}
	created, err := s.accounts.CreateAccount(ctx, opts)
	if err != nil {
		s.logger.Warn("create account", zap.Bool("artist", sel.IsArtist), zap.Error(err))
		return auth.Identity{}, err
	}
	keyID, err := auth.ParseKeyID(string(created.KeyID))
	if err != nil {
		s.logger.Error("account service returned malformed key id", zap.String("key", string(created.KeyID)))
		return auth.Identity{}, errors.NewInternalError()
	}
	s.logger.Info("account created",
		zap.String("key", keyID.Short()),
		zap.Bool("artist", sel.IsArtist),
		zap.String("template", opts.ProfileTemplate),
	)
	return auth.Identity{
		KeyID:         keyID,
		SessionHandle: created.Session,
		DisplayName:   created.DisplayName,
	}, nil
}

// CreateForLegacy creates a fresh key identity for a legacy user. The
// legacy profile name, when there is one, becomes the display name.
func (s *Service) CreateForLegacy(ctx context.Context, profile *auth.LegacyProfile) (auth.Identity, error) {
	opts := auth.CreateOptions{GenerateDisplayName: true, CreateWallet: true}
	if profile != nil && profile.Name != "" {
		opts.GenerateDisplayName = false
		opts.CustomName = profile.Name
	}
	created, err := s.accounts.CreateAccount(ctx, opts)
	if err != nil {
		s.logger.Warn("generate key identity", zap.Error(err))
		return auth.Identity{}, err
	}
	keyID, err := auth.ParseKeyID(string(created.KeyID))
	if err != nil {
		s.logger.Error("account service returned malformed key id", zap.String("key", string(created.KeyID)))
		return auth.Identity{}, errors.NewInternalError()
	}
	return auth.Identity{
		KeyID:         keyID,
		SessionHandle: created.Session,
		DisplayName:   created.DisplayName,
	}, nil
}

// LinkBackup creates a legacy identity from creds and links it to id. The
// returned session is nil unless the link was recorded. An existing link
// counts as recorded.
func (s *Service) LinkBackup(ctx context.Context, creds auth.Credentials, id auth.Identity) (auth.LegacySession, error) {
	if s.validator != nil {
		if err := s.validator.Validate(creds); err != nil {
			return nil, errors.NewValidationError("Enter a valid email address and a password of at least 6 characters.")
		}
	}
	session, err := s.legacy.SignUp(ctx, creds)
	if err != nil {
		s.logger.Warn("backup email signup", zap.String("key", id.KeyID.Short()), zap.Error(err))
		return nil, err
	}
	if err := s.linker.Link(ctx, session, string(id.KeyID)); err != nil && !errors.IsWarning(err) {
		s.logger.Warn("backup email link", zap.String("key", id.KeyID.Short()), zap.Error(err))
		return nil, err
	}
	return session, nil
}
