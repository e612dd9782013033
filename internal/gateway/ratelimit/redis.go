package ratelimit

import (
	"context"
	"time"
)

// WindowCounter is the subset of the shared Redis client used for
// distributed fixed windows.
type WindowCounter interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, int, time.Duration, error)
	RateLimitRemaining(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (int, error)
}

// RedisWindow is a fixed window shared by every gateway instance. All keys
// roll over at the same wall-clock boundary, like FixedWindow.
type RedisWindow struct {
	counter WindowCounter
	window  time.Duration
	now     func() time.Time
}

func NewRedisWindow(counter WindowCounter, window time.Duration) *RedisWindow {
	return &RedisWindow{counter: counter, window: window, now: time.Now}
}

func (r *RedisWindow) Allow(ctx context.Context, key string, limit int) (Decision, error) {
	if limit <= 0 {
		return unlimited(), nil
	}
	exceeded, remaining, resetIn, err := r.counter.CheckRateLimit(ctx, key, limit, r.window, r.now())
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Allowed: !exceeded, Limit: limit, Remaining: remaining}
	if exceeded {
		d.RetryAfter = resetIn
	}
	return d, nil
}

func (r *RedisWindow) Remaining(ctx context.Context, key string, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	return r.counter.RateLimitRemaining(ctx, key, limit, r.window, r.now())
}
