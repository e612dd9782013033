package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// defaultConfigFile is used when GATEWAY_CONFIG_FILE is unset. A missing
// file is not an error; defaults and env overrides still apply.
const defaultConfigFile = "config.yaml"

// Rate limit strategies.
const (
	StrategyFixedWindow = "fixed_window"
	StrategyTokenBucket = "token_bucket"
	StrategyRedis       = "redis"
)

// Cache backends.
const (
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

// Config holds all configuration for the gateway
type Config struct {
	Env string `yaml:"env" env:"ENV"`

	Server ServerConfig `yaml:"server" envPrefix:"SERVER_"`
	Log    LogConfig    `yaml:"log"    envPrefix:"LOG_"`

	// Database holds the credential store and request log. Empty selects
	// the in-memory credential store (not allowed in production).
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL    string `yaml:"redis_url"    env:"REDIS_URL"`

	Auth      AuthConfig      `yaml:"auth"       envPrefix:"AUTH_"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Cache     CacheConfig     `yaml:"cache"      envPrefix:"CACHE_"`
	Usage     UsageConfig     `yaml:"usage"      envPrefix:"USAGE_"`

	// Providers come from the YAML file only; credentials may be pulled
	// from the environment through ProviderConfig.CredentialEnv.
	Providers []ProviderConfig `yaml:"providers"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"             env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"IDLE_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout"  env:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type LogConfig struct {
	Level  string `yaml:"level"  env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

type AuthConfig struct {
	SigningKey   string        `yaml:"signing_key"    env:"SIGNING_KEY"`
	Issuer       string        `yaml:"issuer"         env:"ISSUER"`
	Audience     string        `yaml:"audience"       env:"AUDIENCE"`
	TokenTTL     time.Duration `yaml:"token_ttl"      env:"TOKEN_TTL"`
	APIKeyHeader string        `yaml:"api_key_header" env:"API_KEY_HEADER"`
}

// RateLimitConfig budgets are requests per Window for each inbound route
// group. Outbound budgets live on each provider.
type RateLimitConfig struct {
	Strategy string        `yaml:"strategy" env:"STRATEGY"`
	Window   time.Duration `yaml:"window"   env:"WINDOW"`
	Default  int           `yaml:"default"  env:"DEFAULT"`
	Moderate int           `yaml:"moderate" env:"MODERATE"`
	Booking  int           `yaml:"booking"  env:"BOOKING"`
	Strict   int           `yaml:"strict"   env:"STRICT"`
}

type CacheConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Backend string `yaml:"backend" env:"BACKEND"`

	ProvidersTTL    time.Duration `yaml:"providers_ttl"     env:"PROVIDERS_TTL"`
	DirectionsTTL   time.Duration `yaml:"directions_ttl"    env:"DIRECTIONS_TTL"`
	LocationTTL     time.Duration `yaml:"location_ttl"      env:"LOCATION_TTL"`
	FareEstimateTTL time.Duration `yaml:"fare_estimate_ttl" env:"FARE_ESTIMATE_TTL"`
}

type UsageConfig struct {
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
}

// ProviderConfig is the file representation of one upstream provider.
type ProviderConfig struct {
	ID                 string            `yaml:"id"`
	Kind               string            `yaml:"kind"`
	Name               string            `yaml:"name"`
	BaseURL            string            `yaml:"base_url"`
	Timeout            time.Duration     `yaml:"timeout"`
	MaxRetries         int               `yaml:"max_retries"`
	RetryBaseDelay     time.Duration     `yaml:"retry_base_delay"`
	RateLimitPerMinute int               `yaml:"rate_limit_per_minute"`
	Enabled            *bool             `yaml:"enabled"`
	AuthKind           string            `yaml:"auth_kind"`
	AuthHeader         string            `yaml:"auth_header"`
	Username           string            `yaml:"username"`
	Credential         string            `yaml:"credential"`
	CredentialEnv      string            `yaml:"credential_env"`
	Headers            map[string]string `yaml:"headers"`
}

// IsEnabled treats an omitted enabled flag as true.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Defaults returns a Config with every optional field populated.
func Defaults() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			RequestTimeout:  60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log:      LogConfig{Level: "info", Format: "json"},
		RedisURL: "redis://localhost:6379",
		Auth: AuthConfig{
			Issuer:       "ridegate",
			Audience:     "ridegate-api",
			TokenTTL:     time.Hour,
			APIKeyHeader: "X-API-Key",
		},
		RateLimit: RateLimitConfig{
			Strategy: StrategyTokenBucket,
			Window:   time.Minute,
			Default:  100,
			Moderate: 60,
			Booking:  20,
			Strict:   5,
		},
		Cache: CacheConfig{
			Enabled:         true,
			Backend:         CacheBackendRedis,
			ProvidersTTL:    time.Minute,
			DirectionsTTL:   30 * time.Second,
			LocationTTL:     5 * time.Second,
			FareEstimateTTL: 30 * time.Second,
		},
		Usage: UsageConfig{Retention: 30 * 24 * time.Hour},
	}
}

// ConfigFilePath returns the YAML path from GATEWAY_CONFIG_FILE or the default.
func ConfigFilePath() string {
	if p := os.Getenv("GATEWAY_CONFIG_FILE"); p != "" {
		return p
	}
	return defaultConfigFile
}

// Load loads configuration from .env, the YAML file and environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()
	return LoadFromPath(ConfigFilePath())
}

// LoadFromPath applies defaults, then the YAML file at path (if present),
// then GATEWAY_-prefixed environment variables, then validates.
func LoadFromPath(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "GATEWAY_"}); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}

	cfg.Providers = resolveCredentials(cfg.Providers)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadProviders reads only the providers section of the YAML file. Used by
// the watcher to reconfigure providers without touching the rest.
func LoadProviders(path string) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	var doc struct {
		Providers []ProviderConfig `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	providers := normalizeProviders(resolveCredentials(doc.Providers))
	if err := validateProviders(providers); err != nil {
		return nil, err
	}
	return providers, nil
}

func resolveCredentials(providers []ProviderConfig) []ProviderConfig {
	for i := range providers {
		if providers[i].CredentialEnv != "" {
			if v := os.Getenv(providers[i].CredentialEnv); v != "" {
				providers[i].Credential = v
			}
		}
	}
	return providers
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.RateLimit.Strategy = strings.ToLower(strings.TrimSpace(c.RateLimit.Strategy))
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	c.Providers = normalizeProviders(c.Providers)
}

// normalizeProviders is shared by startup and reload so both accept the
// same spellings.
func normalizeProviders(providers []ProviderConfig) []ProviderConfig {
	for i := range providers {
		providers[i].ID = strings.TrimSpace(providers[i].ID)
		providers[i].Kind = strings.ToLower(strings.TrimSpace(providers[i].Kind))
		providers[i].AuthKind = strings.ToLower(strings.TrimSpace(providers[i].AuthKind))
	}
	return providers
}

// IsProduction reports whether internal error details must be hidden.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Auth.SigningKey == "" {
		return fmt.Errorf("GATEWAY_AUTH_SIGNING_KEY is required")
	}
	if len(c.Auth.SigningKey) < 32 {
		return fmt.Errorf("auth signing key must be at least 32 bytes")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token_ttl must be positive")
	}
	if c.IsProduction() && c.DatabaseURL == "" {
		return fmt.Errorf("GATEWAY_DATABASE_URL is required in production")
	}

	switch c.RateLimit.Strategy {
	case StrategyFixedWindow, StrategyTokenBucket, StrategyRedis:
	default:
		return fmt.Errorf("unknown rate limit strategy %q", c.RateLimit.Strategy)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	for name, v := range map[string]int{
		"default":  c.RateLimit.Default,
		"moderate": c.RateLimit.Moderate,
		"booking":  c.RateLimit.Booking,
		"strict":   c.RateLimit.Strict,
	} {
		if v <= 0 {
			return fmt.Errorf("rate limit %s budget must be positive", name)
		}
	}
	if c.RateLimit.Strategy == StrategyRedis && c.RedisURL == "" {
		return fmt.Errorf("redis rate limit strategy requires GATEWAY_REDIS_URL")
	}

	switch c.Cache.Backend {
	case CacheBackendRedis, CacheBackendMemory:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Usage.Retention <= 0 {
		return fmt.Errorf("usage retention must be positive")
	}

	return validateProviders(c.Providers)
}

func validateProviders(providers []ProviderConfig) error {
	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if p.ID == "" {
			return fmt.Errorf("provider id is required")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
