package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrKeyNotFound is returned by Get when the key does not exist.
var ErrKeyNotFound = errors.New("key not found")

type Client struct {
	client *redis.Client
}

// New creates a new Redis client
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping checks connectivity for the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get retrieves a value by key
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// GetWithTTL returns the value and its remaining time to live in one round trip.
func (c *Client) GetWithTTL(ctx context.Context, key string) (string, time.Duration, error) {
	var get *redis.StringCmd
	var ttl *redis.DurationCmd
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		get = p.Get(ctx, key)
		ttl = p.PTTL(ctx, key)
		return nil
	})
	if err != nil && err != redis.Nil {
		return "", 0, err
	}
	val, err := get.Result()
	if err == redis.Nil {
		return "", 0, ErrKeyNotFound
	}
	if err != nil {
		return "", 0, err
	}
	return val, ttl.Val(), nil
}

// Set stores a value with TTL
func (c *Client) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// HIncrBy increments several hash fields and refreshes the key's TTL in a
// single MULTI/EXEC so concurrent writers never lose updates.
func (c *Client) HIncrBy(ctx context.Context, key string, fields map[string]int64, ttl time.Duration) error {
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for field, n := range fields {
			p.HIncrBy(ctx, key, field, n)
		}
		if ttl > 0 {
			p.Expire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

// HGetAll returns every field of each hash in one pipelined round trip,
// in key order. A missing key yields an empty map.
func (c *Client) HGetAll(ctx context.Context, keys ...string) ([]map[string]string, error) {
	cmds := make([]*redis.StringStringMapCmd, len(keys))
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = p.HGetAll(ctx, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]map[string]string, len(keys))
	for i, cmd := range cmds {
		out[i] = cmd.Val()
	}
	return out, nil
}

// windowKey suffixes key with the index of the fixed window containing now,
// so every key rolls over at the same boundary.
func windowKey(key string, window time.Duration, now time.Time) (string, time.Time) {
	idx := now.UnixNano() / int64(window)
	end := time.Unix(0, (idx+1)*int64(window))
	return fmt.Sprintf("ratelimit:%s:%d", key, idx), end
}

// CheckRateLimit consumes one request from the fixed window that contains
// now. INCR and EXPIREAT run in one transaction, so the counter can never
// be left without an expiry.
func (c *Client) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, int, time.Duration, error) {
	wkey, end := windowKey(key, window, now)

	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, wkey)
		p.ExpireAt(ctx, wkey, end.Add(time.Second))
		return nil
	})
	if err != nil {
		return false, 0, 0, err
	}

	count := incr.Val()
	resetIn := end.Sub(now)

	// Check if limit exceeded
	if count > int64(limit) {
		return true, 0, resetIn, nil
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return false, remaining, resetIn, nil
}

// RateLimitRemaining reports the remaining budget in the current window
// without consuming it.
func (c *Client) RateLimitRemaining(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (int, error) {
	wkey, _ := windowKey(key, window, now)
	count, err := c.client.Get(ctx, wkey).Int()
	if err == redis.Nil {
		return limit, nil
	}
	if err != nil {
		return 0, err
	}
	if count >= limit {
		return 0, nil
	}
	return limit - count, nil
}
