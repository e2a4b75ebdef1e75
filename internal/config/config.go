// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "AUTHFLOW"

type Config struct {
	Env        string
	ServerPort string
	DBUrl      string
	RedisURL   string

	IdentityAPIURL string
	LegacyAuthURL  string
	LegacyTokenURL string
	LegacyAPIKey   string
	AccountAPIURL  string

	RequestTimeout time.Duration
	RetryAttempts  int
	DiscoveryTTL   time.Duration
	FlowTTL        time.Duration
	SessionTTL     time.Duration

	CreatorDestination string
	GeneralDestination string
}

func (c *Config) Production() bool {
	return c.Env == "production" || c.Env == "prod"
}

func defaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("server_port", ":8080")
	v.SetDefault("db_url", "postgres://localhost:5432/authflow")
	v.SetDefault("redis_url", "localhost:6379")
	v.SetDefault("identity_api_url", "http://localhost:8081")
	v.SetDefault("legacy_auth_url", "http://localhost:9099/v1")
	v.SetDefault("legacy_token_url", "http://localhost:9099/v1")
	v.SetDefault("legacy_api_key", "")
	v.SetDefault("account_api_url", "http://localhost:8082")
	v.SetDefault("request_timeout", 10*time.Second)
	v.SetDefault("retry_attempts", 3)
	v.SetDefault("discovery_ttl", 10*time.Minute)
	v.SetDefault("flow_ttl", 30*time.Minute)
	v.SetDefault("session_ttl", 24*time.Hour)
	v.SetDefault("creator_destination", "/studio")
	v.SetDefault("general_destination", "/home")
}

// Load reads configuration from AUTHFLOW_* environment variables. A .env
// file in the working directory is loaded first if present; variables
// already set in the environment win.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Env:                strings.ToLower(v.GetString("env")),
		ServerPort:         v.GetString("server_port"),
		DBUrl:              v.GetString("db_url"),
		RedisURL:           v.GetString("redis_url"),
		IdentityAPIURL:     v.GetString("identity_api_url"),
		LegacyAuthURL:      v.GetString("legacy_auth_url"),
		LegacyTokenURL:     v.GetString("legacy_token_url"),
		LegacyAPIKey:       v.GetString("legacy_api_key"),
		AccountAPIURL:      v.GetString("account_api_url"),
		RequestTimeout:     v.GetDuration("request_timeout"),
		RetryAttempts:      v.GetInt("retry_attempts"),
		DiscoveryTTL:       v.GetDuration("discovery_ttl"),
		FlowTTL:            v.GetDuration("flow_ttl"),
		SessionTTL:         v.GetDuration("session_ttl"),
		CreatorDestination: v.GetString("creator_destination"),
		GeneralDestination: v.GetString("general_destination"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s_REQUEST_TIMEOUT must be positive", envPrefix)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("%s_RETRY_ATTEMPTS must be at least 1", envPrefix)
	}
	if c.FlowTTL <= 0 || c.SessionTTL <= 0 || c.DiscoveryTTL <= 0 {
		return fmt.Errorf("%s ttl values must be positive", envPrefix)
	}
	services := map[string]string{
		"IDENTITY_API_URL": c.IdentityAPIURL,
		"LEGACY_AUTH_URL":  c.LegacyAuthURL,
		"LEGACY_TOKEN_URL": c.LegacyTokenURL,
		"ACCOUNT_API_URL":  c.AccountAPIURL,
	}
	for name, raw := range services {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return fmt.Errorf("%s_%s is not a valid url: %q", envPrefix, name, raw)
		}
		if c.Production() && u.Scheme != "https" {
			return fmt.Errorf("%s_%s must use https in production", envPrefix, name)
		}
	}
	if c.Production() && c.LegacyAPIKey == "" {
		return fmt.Errorf("%s_LEGACY_API_KEY is required in production", envPrefix)
	}
	return nil
}
