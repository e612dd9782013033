package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestGetSet(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, c.Set(ctx, "k", "v", 10*time.Second))
	val, ttl, err := c.GetWithTTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
	assert.InDelta(t, 10*time.Second, ttl, float64(time.Second))

	mr.FastForward(11 * time.Second)
	_, _, err = c.GetWithTTL(ctx, "k")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestHIncrBy(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.HIncrBy(ctx, "h", map[string]int64{"total": 1, "errors": 1}, time.Hour))
	require.NoError(t, c.HIncrBy(ctx, "h", map[string]int64{"total": 1}, time.Hour))

	hashes, err := c.HGetAll(ctx, "h", "missing")
	require.NoError(t, err)
	require.Len(t, hashes, 2)
	assert.Equal(t, "2", hashes[0]["total"])
	assert.Equal(t, "1", hashes[0]["errors"])
	assert.Empty(t, hashes[1])
	assert.Equal(t, time.Hour, mr.TTL("h"))
}

func TestCheckRateLimit(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_010, 0)
	mr.SetTime(now)

	for i := 0; i < 2; i++ {
		exceeded, remaining, _, err := c.CheckRateLimit(ctx, "caller", 2, time.Minute, now)
		require.NoError(t, err)
		assert.False(t, exceeded)
		assert.Equal(t, 1-i, remaining)
	}

	exceeded, remaining, resetIn, err := c.CheckRateLimit(ctx, "caller", 2, time.Minute, now)
	require.NoError(t, err)
	assert.True(t, exceeded)
	assert.Equal(t, 0, remaining)
	assert.Greater(t, resetIn, time.Duration(0))
	assert.LessOrEqual(t, resetIn, time.Minute)

	rem, err := c.RateLimitRemaining(ctx, "caller", 2, time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 0, rem)

	// Next window starts fresh.
	mr.SetTime(now.Add(time.Minute))
	exceeded, _, _, err = c.CheckRateLimit(ctx, "caller", 2, time.Minute, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, exceeded)
}
