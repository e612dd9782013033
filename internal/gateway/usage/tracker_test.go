package usage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrmushfiq/ridegate/internal/shared/redis"
)

func newTestTracker(t *testing.T, retention time.Duration) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.New(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return New(client, retention), mr
}

func TestRecordAndStatistics(t *testing.T) {
	tr, mr := newTestTracker(t, 30*24*time.Hour)
	ctx := context.Background()

	day := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return day.AddDate(0, 0, -1) }
	require.NoError(t, tr.Record(ctx, "cred-1", "/api/external/providers", true))

	tr.now = func() time.Time { return day }
	require.NoError(t, tr.Record(ctx, "cred-1", "/api/external/providers", true))
	require.NoError(t, tr.Record(ctx, "cred-1", "/api/external/providers", true))
	require.NoError(t, tr.Record(ctx, "cred-1", "/api/external/directions", false))
	require.NoError(t, tr.Record(ctx, "cred-2", "/api/external/directions", true))

	assert.Equal(t, 30*24*time.Hour, mr.TTL("usage:cred-1:2026-03-10"))

	stats, err := tr.GetStatistics(ctx, "cred-1", 3)
	require.NoError(t, err)
	require.Len(t, stats, 3)

	assert.Equal(t, "2026-03-10", stats[0].Date)
	assert.Equal(t, int64(3), stats[0].Total)
	assert.Equal(t, int64(1), stats[0].Errors)
	assert.Equal(t, map[string]int64{
		"/api/external/providers":  2,
		"/api/external/directions": 1,
	}, stats[0].Endpoints)
	assert.Equal(t, []string{"/api/external/providers", "/api/external/directions"}, stats[0].TopEndpoints())

	assert.Equal(t, "2026-03-09", stats[1].Date)
	assert.Equal(t, int64(1), stats[1].Total)
	assert.Equal(t, int64(0), stats[1].Errors)

	assert.Equal(t, "2026-03-08", stats[2].Date)
	assert.Zero(t, stats[2].Total)
	assert.Empty(t, stats[2].Endpoints)
}

func TestRecordsExpireAfterRetention(t *testing.T) {
	tr, mr := newTestTracker(t, 48*time.Hour)
	ctx := context.Background()
	require.NoError(t, tr.Record(ctx, "maps", "maps.directions", true))

	mr.FastForward(49 * time.Hour)
	stats, err := tr.GetStatistics(ctx, "maps", 1)
	require.NoError(t, err)
	assert.Zero(t, stats[0].Total)
}

func TestStatisticsDaysClamped(t *testing.T) {
	tr, _ := newTestTracker(t, 7*24*time.Hour)
	stats, err := tr.GetStatistics(context.Background(), "x", 90)
	require.NoError(t, err)
	assert.Len(t, stats, 7)

	stats, err = tr.GetStatistics(context.Background(), "x", 0)
	require.NoError(t, err)
	assert.Len(t, stats, 1)
}

// countingStore wraps the Redis client and counts HGetAll round trips.
type countingStore struct {
	*redis.Client
	reads int
	keys  []string
}

func (s *countingStore) HGetAll(ctx context.Context, keys ...string) ([]map[string]string, error) {
	s.reads++
	s.keys = append(s.keys, keys...)
	return s.Client.HGetAll(ctx, keys...)
}

func TestStatisticsReadInOneRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.New(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store := &countingStore{Client: client}
	tr := New(store, 30*24*time.Hour)
	tr.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, tr.Record(context.Background(), "cred-1", "/api/user/me", true))

	stats, err := tr.GetStatistics(context.Background(), "cred-1", 30)
	require.NoError(t, err)
	require.Len(t, stats, 30)

	assert.Equal(t, 1, store.reads)
	require.Len(t, store.keys, 30)
	assert.Equal(t, "usage:cred-1:2026-03-10", store.keys[0])
	assert.Equal(t, "usage:cred-1:2026-02-09", store.keys[29])
	assert.Equal(t, int64(1), stats[0].Total)
	assert.Equal(t, "2026-02-09", stats[29].Date)
}
