// Package cache stores successful responses of read-only inbound routes.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const keyPrefix = "cache:resp:"

// Entry is a cached HTTP response.
type Entry struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Store is a TTL-keyed response store shared by all cached routes.
type Store interface {
	// Get returns the entry and its remaining time to live.
	Get(ctx context.Context, key string) (*Entry, time.Duration, bool)
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// KeyFromRequest derives the cache key from method, path and query.
func KeyFromRequest(r *http.Request) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('|')
	b.WriteString(r.URL.Path)
	if r.URL.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(r.URL.RawQuery)
	}
	return b.String()
}

// redisClient is the part of the shared Redis client the store uses.
type redisClient interface {
	GetWithTTL(ctx context.Context, key string) (string, time.Duration, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// RedisStore shares cached responses across gateway instances.
type RedisStore struct {
	redis redisClient
}

// NewRedisStore creates a new cache instance
func NewRedisStore(redisClient redisClient) *RedisStore {
	return &RedisStore{redis: redisClient}
}

// Get retrieves a cached response. Any failure is reported as a miss.
func (c *RedisStore) Get(ctx context.Context, key string) (*Entry, time.Duration, bool) {
	val, ttl, err := c.redis.GetWithTTL(ctx, keyPrefix+key)
	if err != nil {
		return nil, 0, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, 0, false
	}
	return &entry, ttl, true
}

// Set stores a response in cache
func (c *RedisStore) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}

	return c.redis.Set(ctx, keyPrefix+key, string(data), ttl)
}

func (c *RedisStore) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx)
}
