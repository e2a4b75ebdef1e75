// internal/domain/signin/signin.go

// Package signin holds the business rules for returning users: resolving
// the creator designation and detecting legacy artists who have not moved
// to a key identity yet.
package signin

import (
	"context"
	"time"

	"go.uber.org/zap"

	"auth-flow-server/internal/domain/auth"
	"auth-flow-server/internal/domain/flow"
	"auth-flow-server/pkg/errors"
)

type Source string

const (
	SourceSettings     Source = "settings"
	SourceLegacyArtist Source = "legacy-artist"
	SourceSignup       Source = "signup"
	SourceDefault      Source = "default"
)

// Designation is whether an identity is a content creator and where that
// answer came from.
type Designation struct {
	IsCreator bool   `json:"isCreator"`
	Source    Source `json:"source"`
}

// ResolveDesignation prefers an existing settings document over the
// legacy artist records.
func ResolveDesignation(settings *auth.Settings, legacyArtists []auth.LegacyArtist) Designation {
	if settings != nil {
		return Designation{IsCreator: settings.IsCreator, Source: SourceSettings}
	}
	if len(legacyArtists) > 0 {
		return Designation{IsCreator: true, Source: SourceLegacyArtist}
	}
	return Designation{Source: SourceDefault}
}

// FromSignup is the designation of an account created in this flow.
func FromSignup(isArtist bool) Designation {
	return Designation{IsCreator: isArtist, Source: SourceSignup}
}

type Service struct {
	settings auth.SettingsStore
	artists  auth.LegacyArtistAPI
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(settings auth.SettingsStore, artists auth.LegacyArtistAPI, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		settings: settings,
		artists:  artists,
		logger:   logger,
		now:      time.Now,
	}
}

// Settings returns the stored document for keyID, or nil when none exists.
func (s *Service) Settings(ctx context.Context, keyID auth.KeyID) (*auth.Settings, error) {
	settings, err := s.settings.GetSettings(ctx, keyID)
	if err != nil {
		s.logger.Warn("read settings", zap.String("key", keyID.Short()), zap.Error(err))
		return nil, err
	}
	return settings, nil
}

// EnsureSettings returns existing when it is set. Otherwise it writes a
// new document carrying d so later sessions skip the legacy lookup.
func (s *Service) EnsureSettings(ctx context.Context, keyID auth.KeyID, existing *auth.Settings, d Designation) (auth.Settings, error) {
	if existing != nil {
		return *existing, nil
	}
	settings := auth.Settings{
		Version:   auth.SettingsVersion,
		IsCreator: d.IsCreator,
		UpdatedAt: s.now().UTC(),
	}
	if err := s.settings.UpdateSettings(ctx, keyID, settings); err != nil {
		s.logger.Warn("write settings", zap.String("key", keyID.Short()), zap.Error(err))
		return auth.Settings{}, err
	}
	s.logger.Info("settings created",
		zap.String("key", keyID.Short()),
		zap.Bool("creator", d.IsCreator),
		zap.String("source", string(d.Source)),
	)
	return settings, nil
}

// StartProbe looks up legacy artist records for keyID in the background.
// The lookup stops when ctx ends or the probe is cancelled.
func (s *Service) StartProbe(ctx context.Context, keyID auth.KeyID) *Probe {
	ctx, cancel := context.WithCancel(ctx)
	p := &Probe{
		keyID:  keyID,
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer close(p.done)
		defer cancel()
		artists, err := s.artists.LegacyArtists(ctx, keyID)
		if err != nil {
			s.logger.Warn("legacy artist lookup", zap.String("key", keyID.Short()), zap.Error(err))
		}
		p.artists, p.err = artists, err
	}()
	return p
}

// Probe is one asynchronous legacy artist lookup.
type Probe struct {
	keyID  auth.KeyID
	done   chan struct{}
	cancel context.CancelFunc

	// written once before done is closed
	artists []auth.LegacyArtist
	err     error
}

func (p *Probe) KeyID() auth.KeyID {
	return p.keyID
}

func (p *Probe) Pending() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Result returns the lookup outcome. While pending it reports
// CheckingSettingsError.
func (p *Probe) Result() ([]auth.LegacyArtist, error) {
	if p.Pending() {
		return nil, errors.NewCheckingSettingsError()
	}
	return p.artists, p.err
}

// Found reports a finished lookup that returned artist records.
func (p *Probe) Found() bool {
	artists, err := p.Result()
	return err == nil && len(artists) > 0
}

// Wait blocks until the lookup finishes or ctx ends.
func (p *Probe) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return errors.FromContext("legacy artist lookup", ctx.Err())
	}
}

func (p *Probe) Done() <-chan struct{} {
	return p.done
}

func (p *Probe) Cancel() {
	p.cancel()
}

// ShouldOfferLegacyMigration is true while the user sits in key-identity
// authentication with a connected identity that has legacy artist records.
func ShouldOfferLegacyMigration(state flow.State, probe *Probe) bool {
	s, ok := state.(flow.KeyIdentityAuth)
	if !ok || s.Connected == nil || probe == nil {
		return false
	}
	return probe.KeyID() == s.Connected.KeyID && probe.Found()
}
