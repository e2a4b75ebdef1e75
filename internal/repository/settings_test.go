package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auth-flow-server/internal/domain/auth"
	"auth-flow-server/pkg/errors"
)

type settingsRow struct {
	version  int
	document []byte
}

// memDB applies the repository's statements to an in-memory table.
type memDB struct {
	rows    map[string]settingsRow
	failing error
	schema  bool
}

func newMemDB() *memDB {
	return &memDB{rows: make(map[string]settingsRow)}
}

func (m *memDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.failing != nil {
		return pgconn.CommandTag{}, m.failing
	}
	if strings.Contains(sql, "CREATE TABLE") {
		m.schema = true
		return pgconn.NewCommandTag("CREATE TABLE"), nil
	}
	key := args[0].(string)
	version := args[1].(int)
	if existing, ok := m.rows[key]; ok && existing.version > version {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	m.rows[key] = settingsRow{version: version, document: args[2].([]byte)}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (m *memDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.failing != nil {
		return errRow{m.failing}
	}
	row, ok := m.rows[args[0].(string)]
	if !ok {
		return errRow{pgx.ErrNoRows}
	}
	return docRow{row.document}
}

type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }

type docRow struct{ doc []byte }

func (r docRow) Scan(dest ...any) error {
	*(dest[0].(*[]byte)) = r.doc
	return nil
}

func TestSettingsRoundTrip(t *testing.T) {
	db := newMemDB()
	repo := NewSettingsRepository(db)
	ctx := context.Background()
	key := auth.KeyID(keyA)

	require.NoError(t, repo.EnsureSchema(ctx))
	assert.True(t, db.schema)

	got, err := repo.GetSettings(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got, "no document yet")

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateSettings(ctx, key, auth.Settings{Version: 1, IsCreator: true, UpdatedAt: now}))

	got, err = repo.GetSettings(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsCreator)
	assert.True(t, now.Equal(got.UpdatedAt))

	var stored map[string]any
	require.NoError(t, json.Unmarshal(db.rows[keyA].document, &stored))
	assert.Equal(t, true, stored["isCreator"])
}

func TestOlderSettingsAreRejected(t *testing.T) {
	db := newMemDB()
	repo := NewSettingsRepository(db)
	ctx := context.Background()
	key := auth.KeyID(keyA)

	require.NoError(t, repo.UpdateSettings(ctx, key, auth.Settings{Version: 2}))
	err := repo.UpdateSettings(ctx, key, auth.Settings{Version: 1})
	assert.Equal(t, errors.KindConflict, errors.KindOf(err))

	err = repo.UpdateSettings(ctx, key, auth.Settings{})
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestSettingsStoreFailures(t *testing.T) {
	db := newMemDB()
	db.failing = fmt.Errorf("connection refused")
	repo := NewSettingsRepository(db)

	_, err := repo.GetSettings(context.Background(), auth.KeyID(keyA))
	assert.Equal(t, errors.KindNetwork, errors.KindOf(err))

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	err = repo.UpdateSettings(ctx, auth.KeyID(keyA), auth.Settings{Version: 1})
	assert.Equal(t, errors.KindTimeout, errors.KindOf(err))
}
