package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrmushfiq/ridegate/internal/shared/config"
	"github.com/mrmushfiq/ridegate/internal/shared/redis"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestNewSelectsStrategy(t *testing.T) {
	cfg := config.Defaults().RateLimit

	cfg.Strategy = config.StrategyFixedWindow
	l, err := New(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &FixedWindow{}, l)
	_, isRunner := l.(Runner)
	assert.True(t, isRunner)

	cfg.Strategy = config.StrategyTokenBucket
	l, err = New(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &TokenBucket{}, l)
	l.(Closer).Close()

	cfg.Strategy = config.StrategyRedis
	_, err = New(cfg, nil)
	assert.Error(t, err)

	cfg.Strategy = "leaky"
	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestNewOutboundIsIndependentPerMinute(t *testing.T) {
	cfg := config.Defaults().RateLimit
	cfg.Strategy = config.StrategyFixedWindow
	cfg.Window = 10 * time.Second

	inbound, err := New(cfg, nil)
	require.NoError(t, err)
	outbound, err := NewOutbound(cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, inbound.(*FixedWindow).window)
	assert.Equal(t, time.Minute, outbound.(*FixedWindow).window)

	ctx := context.Background()
	key := ProviderKey("maps")
	d, err := inbound.Allow(ctx, key, 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = outbound.Allow(ctx, key, 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	cfg.Strategy = config.StrategyTokenBucket
	tb, err := NewOutbound(cfg, nil)
	require.NoError(t, err)
	defer tb.(Closer).Close()
	assert.Equal(t, time.Minute, tb.(*TokenBucket).window)
}

func TestFixedWindowDeniesUntilReset(t *testing.T) {
	clock := newFakeClock()
	f := newFixedWindow(time.Minute, clock.Now)
	ctx := context.Background()
	key := ProviderKey("maps")

	for i := 0; i < 2; i++ {
		d, err := f.Allow(ctx, key, 2)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	clock.Advance(20 * time.Second)
	d, err := f.Allow(ctx, key, 2)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 40*time.Second, d.RetryAfter)

	rem, err := f.Remaining(ctx, key, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, rem)

	// Time alone never resets counters.
	clock.Advance(5 * time.Minute)
	d, _ = f.Allow(ctx, key, 2)
	assert.False(t, d.Allowed)

	f.Reset()
	d, err = f.Allow(ctx, key, 2)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}

func TestFixedWindowKeysAreIndependent(t *testing.T) {
	f := NewFixedWindow(time.Minute)
	ctx := context.Background()

	d, _ := f.Allow(ctx, "a", 1)
	assert.True(t, d.Allowed)
	d, _ = f.Allow(ctx, "a", 1)
	assert.False(t, d.Allowed)
	d, _ = f.Allow(ctx, "b", 1)
	assert.True(t, d.Allowed)
}

func TestFixedWindowConcurrentAllowNeverOverAdmits(t *testing.T) {
	f := NewFixedWindow(time.Minute)
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if d, _ := f.Allow(context.Background(), "hot", 100); d.Allowed {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), allowed.Load())
}

func TestFixedWindowRunResets(t *testing.T) {
	f := NewFixedWindow(20 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, _ := f.Allow(ctx, "k", 1)
	require.True(t, d.Allowed)
	d, _ = f.Allow(ctx, "k", 1)
	require.False(t, d.Allowed)

	go f.Run(ctx)
	assert.Eventually(t, func() bool {
		rem, _ := f.Remaining(ctx, "k", 1)
		return rem == 1
	}, time.Second, 5*time.Millisecond)
}

func TestTokenBucketRefillsPerKey(t *testing.T) {
	clock := newFakeClock()
	tb := newTokenBucket(time.Minute, clock.Now)
	defer tb.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := tb.Allow(ctx, "caller", 2)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
	}
	d, err := tb.Allow(ctx, "caller", 2)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.InDelta(t, 30*time.Second, d.RetryAfter, float64(time.Millisecond))

	// Another key is unaffected.
	d, _ = tb.Allow(ctx, "other", 2)
	assert.True(t, d.Allowed)

	clock.Advance(31 * time.Second)
	d, err = tb.Allow(ctx, "caller", 2)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	rem, err := tb.Remaining(ctx, "caller", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, rem)
}

func TestUnlimited(t *testing.T) {
	ctx := context.Background()
	tb := NewTokenBucket(time.Minute)
	defer tb.Close()
	for _, l := range []Limiter{NewFixedWindow(time.Minute), tb} {
		for i := 0; i < 10; i++ {
			d, err := l.Allow(ctx, "k", 0)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		}
	}
}

func TestRedisWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.New(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	clock := newFakeClock()
	mr.SetTime(clock.Now())
	l := NewRedisWindow(client, time.Minute)
	l.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "strict:ip:10.0.0.1", 2)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := l.Allow(ctx, "strict:ip:10.0.0.1", 2)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))

	clock.Advance(time.Minute)
	mr.SetTime(clock.Now())
	d, err = l.Allow(ctx, "strict:ip:10.0.0.1", 2)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestInboundKey(t *testing.T) {
	assert.Equal(t, "booking:cred-1", InboundKey(GroupBooking, "cred-1", "10.0.0.1"))
	assert.Equal(t, "strict:ip:10.0.0.1", InboundKey(GroupStrict, "", "10.0.0.1"))

	b := BudgetsFromConfig(config.Defaults().RateLimit)
	assert.Equal(t, 5, b[GroupStrict])
	assert.Equal(t, 100, b[GroupDefault])
}
