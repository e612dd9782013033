// Package ratelimit enforces per-key request budgets for both the outbound
// (per provider) and inbound (per caller and route group) directions.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/mrmushfiq/ridegate/internal/shared/config"
)

// Decision is the result of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is how long a denied caller should wait before the key
	// has budget again.
	RetryAfter time.Duration
}

// Limiter counts requests per key. limit is the budget per window for
// that key; limit <= 0 disables limiting for the call.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int) (Decision, error)
	Remaining(ctx context.Context, key string, limit int) (int, error)
}

// Runner is implemented by limiters that need a background task.
type Runner interface {
	Run(ctx context.Context)
}

// Closer is implemented by limiters that hold resources.
type Closer interface {
	Close()
}

// New builds the limiter for cfg.Strategy. counter is only used by the
// redis strategy and may be nil otherwise.
func New(cfg config.RateLimitConfig, counter WindowCounter) (Limiter, error) {
	switch cfg.Strategy {
	case config.StrategyFixedWindow:
		return NewFixedWindow(cfg.Window), nil
	case config.StrategyTokenBucket:
		return NewTokenBucket(cfg.Window), nil
	case config.StrategyRedis:
		if counter == nil {
			return nil, fmt.Errorf("redis rate limit strategy requires a redis client")
		}
		return NewRedisWindow(counter, cfg.Window), nil
	default:
		return nil, fmt.Errorf("unknown rate limit strategy %q", cfg.Strategy)
	}
}

// NewOutbound builds the per-provider limiter. It uses the configured
// strategy but always a one-minute window, since provider budgets are
// expressed per minute regardless of the inbound window.
func NewOutbound(cfg config.RateLimitConfig, counter WindowCounter) (Limiter, error) {
	cfg.Window = time.Minute
	return New(cfg, counter)
}

// ProviderKey is the outbound limiter key for a provider.
func ProviderKey(providerID string) string {
	return "provider:" + providerID
}

func unlimited() Decision {
	return Decision{Allowed: true}
}
