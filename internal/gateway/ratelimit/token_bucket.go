package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
	"unsafe"

	"github.com/dgraph-io/ristretto/v2"
)

const defaultMaxCost = 64 << 20

var bucketCost = int64(unsafe.Sizeof(bucket{}))

// TokenBucket gives every key its own bucket of limit tokens refilled
// continuously over the window, so keys refill independently instead of
// all at one boundary.
//
// Buckets live in ristretto. An idle bucket is full after one window, so
// entries expire after that; eviction under memory pressure also yields a
// full bucket. Counts are per process.
type TokenBucket struct {
	cache  *ristretto.Cache[string, *bucket]
	window time.Duration
	now    func() time.Time

	// createMu serializes first-touch inserts so two concurrent first
	// requests do not both start from a full bucket.
	createMu sync.Mutex
}

type bucket struct {
	mu       sync.Mutex
	tokens   float64
	lastTime time.Time
}

func NewTokenBucket(window time.Duration) *TokenBucket {
	return newTokenBucket(window, time.Now)
}

func newTokenBucket(window time.Duration, now func() time.Time) *TokenBucket {
	estimatedItems := defaultMaxCost / bucketCost
	cache, err := ristretto.NewCache(&ristretto.Config[string, *bucket]{
		NumCounters: estimatedItems * 10,
		MaxCost:     defaultMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		panic("ristretto: " + err.Error())
	}
	return &TokenBucket{cache: cache, window: window, now: now}
}

func (t *TokenBucket) rate(limit int) float64 {
	return float64(limit) / t.window.Seconds()
}

// refill brings b up to date at now. Callers hold b.mu.
func (t *TokenBucket) refill(b *bucket, limit int, now time.Time) float64 {
	elapsed := now.Sub(b.lastTime).Seconds()
	tokens := b.tokens
	if elapsed > 0 {
		tokens += t.rate(limit) * elapsed
	}
	return math.Min(tokens, float64(limit))
}

func (t *TokenBucket) get(key string, limit int, now time.Time) *bucket {
	if b, ok := t.cache.Get(key); ok {
		return b
	}
	t.createMu.Lock()
	defer t.createMu.Unlock()
	if b, ok := t.cache.Get(key); ok {
		return b
	}
	b := &bucket{tokens: float64(limit), lastTime: now}
	t.cache.SetWithTTL(key, b, bucketCost, t.window)
	t.cache.Wait()
	return b
}

func (t *TokenBucket) Allow(_ context.Context, key string, limit int) (Decision, error) {
	if limit <= 0 {
		return unlimited(), nil
	}
	now := t.now()
	b := t.get(key, limit, now)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = t.refill(b, limit, now)
	b.lastTime = now
	// Keep the entry alive while it is in use.
	t.cache.SetWithTTL(key, b, bucketCost, t.window)

	d := Decision{Limit: limit}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
		d.Remaining = int(b.tokens)
		return d, nil
	}
	d.RetryAfter = time.Duration((1 - b.tokens) / t.rate(limit) * float64(time.Second))
	return d, nil
}

func (t *TokenBucket) Remaining(_ context.Context, key string, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	b, ok := t.cache.Get(key)
	if !ok {
		return limit, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(t.refill(b, limit, t.now())), nil
}

func (t *TokenBucket) Close() {
	t.cache.Close()
}
