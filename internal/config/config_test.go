package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.False(t, cfg.Production())
	assert.Equal(t, ":8080", cfg.ServerPort)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 10*time.Minute, cfg.DiscoveryTTL)
	assert.Equal(t, "/studio", cfg.CreatorDestination)
	assert.Equal(t, "/home", cfg.GeneralDestination)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("AUTHFLOW_SERVER_PORT", ":9000")
	t.Setenv("AUTHFLOW_REQUEST_TIMEOUT", "3s")
	t.Setenv("AUTHFLOW_RETRY_ATTEMPTS", "5")
	t.Setenv("AUTHFLOW_CREATOR_DESTINATION", "/dashboard")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ServerPort)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5, cfg.RetryAttempts)
	assert.Equal(t, "/dashboard", cfg.CreatorDestination)
}

func TestProductionRequiresHTTPS(t *testing.T) {
	t.Setenv("AUTHFLOW_ENV", "production")
	t.Setenv("AUTHFLOW_LEGACY_API_KEY", "key")

	_, err := Load()
	assert.ErrorContains(t, err, "https")

	for _, name := range []string{"IDENTITY_API_URL", "LEGACY_AUTH_URL", "LEGACY_TOKEN_URL", "ACCOUNT_API_URL"} {
		t.Setenv("AUTHFLOW_"+name, "https://"+name+".example.com")
	}
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Production())
}

func TestInvalidValues(t *testing.T) {
	t.Setenv("AUTHFLOW_RETRY_ATTEMPTS", "0")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("AUTHFLOW_RETRY_ATTEMPTS", "2")
	t.Setenv("AUTHFLOW_IDENTITY_API_URL", "identity")
	_, err = Load()
	assert.ErrorContains(t, err, "IDENTITY_API_URL")
}
