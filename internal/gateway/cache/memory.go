package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

const memoryMaxCost = 64 << 20

type memoryItem struct {
	entry     *Entry
	expiresAt time.Time
}

// MemoryStore keeps responses in process. Expiry is tracked on the item as
// well as in ristretto so the remaining TTL can be reported exactly.
type MemoryStore struct {
	cache *ristretto.Cache[string, *memoryItem]
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return newMemoryStore(time.Now)
}

func newMemoryStore(now func() time.Time) *MemoryStore {
	c, err := ristretto.NewCache(&ristretto.Config[string, *memoryItem]{
		NumCounters: 1e6,
		MaxCost:     memoryMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		panic("ristretto: " + err.Error())
	}
	return &MemoryStore{cache: c, now: now}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Entry, time.Duration, bool) {
	item, ok := m.cache.Get(key)
	if !ok {
		return nil, 0, false
	}
	remaining := item.expiresAt.Sub(m.now())
	if remaining <= 0 {
		m.cache.Del(key)
		return nil, 0, false
	}
	return item.entry, remaining, true
}

func (m *MemoryStore) Set(_ context.Context, key string, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	item := &memoryItem{entry: entry, expiresAt: m.now().Add(ttl)}
	m.cache.SetWithTTL(key, item, int64(len(entry.Body)+len(key)+64), ttl)
	m.cache.Wait()
	return nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) Close() {
	m.cache.Close()
}
