// internal/repository/settings.go
package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"auth-flow-server/internal/domain/auth"
	"auth-flow-server/pkg/errors"
)

const settingsSchema = `
CREATE TABLE IF NOT EXISTS user_settings (
	key_id     TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	document   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// An older document never overwrites a newer one.
const upsertSettings = `
INSERT INTO user_settings (key_id, version, document, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key_id) DO UPDATE
SET version = EXCLUDED.version, document = EXCLUDED.document, updated_at = EXCLUDED.updated_at
WHERE user_settings.version <= EXCLUDED.version`

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SettingsRepository stores the per-identity settings document.
type SettingsRepository struct {
	db DB
}

func NewSettingsRepository(db DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, settingsSchema); err != nil {
		return fmt.Errorf("create user_settings: %w", err)
	}
	return nil
}

// GetSettings returns nil, nil when the identity has no document.
func (r *SettingsRepository) GetSettings(ctx context.Context, keyID auth.KeyID) (*auth.Settings, error) {
	var raw []byte
	err := r.db.QueryRow(ctx,
		"SELECT document FROM user_settings WHERE key_id = $1", keyID.String()).
		Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(ctx, "get settings", err)
	}
	var settings auth.Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &settings, nil
}

func (r *SettingsRepository) UpdateSettings(ctx context.Context, keyID auth.KeyID, settings auth.Settings) error {
	if settings.Version <= 0 {
		return errors.NewValidationError("settings version must be positive")
	}
	doc, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	tag, err := r.db.Exec(ctx, upsertSettings,
		keyID.String(), settings.Version, doc, settings.UpdatedAt.UTC())
	if err != nil {
		return storeError(ctx, "update settings", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewConflictError("a newer settings document exists")
	}
	return nil
}

func storeError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return errors.FromContext(op, ctx.Err())
	}
	return errors.NewNetworkError(op, err)
}
