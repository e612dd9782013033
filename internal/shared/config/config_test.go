package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadFromPath(t *testing.T) {
	t.Run("defaults apply when file is missing", func(t *testing.T) {
		t.Setenv("GATEWAY_AUTH_SIGNING_KEY", testSigningKey)

		cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "8080", cfg.Server.Port)
		assert.Equal(t, StrategyTokenBucket, cfg.RateLimit.Strategy)
		assert.Equal(t, 30*24*time.Hour, cfg.Usage.Retention)
		assert.Equal(t, "X-API-Key", cfg.Auth.APIKeyHeader)
		assert.Empty(t, cfg.Providers)
	})

	t.Run("yaml values and env overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		writeFile(t, path, `
env: staging
server:
  port: "9000"
rate_limit:
  strategy: Fixed_Window
  window: 30s
  strict: 2
providers:
  - id: stripe
    kind: Payment
    base_url: https://payments.example.com
    timeout: 5s
    max_retries: 3
    retry_base_delay: 200ms
    rate_limit_per_minute: 120
    auth_kind: bearer
    credential_env: TEST_STRIPE_SECRET
  - id: osm
    kind: maps
    base_url: https://maps.example.com
    enabled: false
`)
		t.Setenv("GATEWAY_AUTH_SIGNING_KEY", testSigningKey)
		t.Setenv("GATEWAY_SERVER_PORT", "9100")
		t.Setenv("GATEWAY_RATE_LIMIT_BOOKING", "7")
		t.Setenv("TEST_STRIPE_SECRET", "sk_test_123")

		cfg, err := LoadFromPath(path)
		require.NoError(t, err)

		assert.Equal(t, "staging", cfg.Env)
		assert.Equal(t, "9100", cfg.Server.Port)
		assert.Equal(t, StrategyFixedWindow, cfg.RateLimit.Strategy)
		assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
		assert.Equal(t, 2, cfg.RateLimit.Strict)
		assert.Equal(t, 7, cfg.RateLimit.Booking)

		require.Len(t, cfg.Providers, 2)
		stripe := cfg.Providers[0]
		assert.Equal(t, "payment", stripe.Kind)
		assert.Equal(t, 5*time.Second, stripe.Timeout)
		assert.Equal(t, 200*time.Millisecond, stripe.RetryBaseDelay)
		assert.Equal(t, "sk_test_123", stripe.Credential)
		assert.True(t, stripe.IsEnabled())
		assert.False(t, cfg.Providers[1].IsEnabled())
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		writeFile(t, path, "server: [")
		t.Setenv("GATEWAY_AUTH_SIGNING_KEY", testSigningKey)

		_, err := LoadFromPath(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing config file")
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Auth.SigningKey = testSigningKey
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing signing key", func(c *Config) { c.Auth.SigningKey = "" }, "SIGNING_KEY"},
		{"short signing key", func(c *Config) { c.Auth.SigningKey = "short" }, "at least 32 bytes"},
		{"unknown strategy", func(c *Config) { c.RateLimit.Strategy = "leaky" }, "strategy"},
		{"zero budget", func(c *Config) { c.RateLimit.Strict = 0 }, "strict"},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "disk" }, "cache backend"},
		{"production without database", func(c *Config) { c.Env = "production" }, "DATABASE_URL"},
		{"duplicate provider", func(c *Config) {
			c.Providers = []ProviderConfig{{ID: "a"}, {ID: "a"}}
		}, "duplicate provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadProviders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
server:
  port: "1"
providers:
  - id: tracker
    kind: tracking
    base_url: https://tracking.example.com
    rate_limit_per_minute: 10
`)

	providers, err := LoadProviders(path)
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, "tracker", providers[0].ID)
	assert.Equal(t, 10, providers[0].RateLimitPerMinute)
}

func TestLoadProvidersMatchesStartupNormalization(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
providers:
  - id: " osm "
    kind: " Maps "
    base_url: https://maps.example.com
    auth_kind: None
`)
	t.Setenv("GATEWAY_AUTH_SIGNING_KEY", testSigningKey)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	reloaded, err := LoadProviders(path)
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 1)
	require.Len(t, reloaded, 1)
	assert.Equal(t, "maps", reloaded[0].Kind)
	assert.Equal(t, "osm", reloaded[0].ID)
	assert.Equal(t, "none", reloaded[0].AuthKind)
	assert.Equal(t, cfg.Providers[0], reloaded[0])
}
