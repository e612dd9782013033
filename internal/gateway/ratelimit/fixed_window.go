package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// FixedWindow counts requests per key in memory and zeroes every key at
// once when the shared window elapses. Counters are only ever reset by
// Reset, never by request handling.
type FixedWindow struct {
	window time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	counts    map[string]*atomic.Int64
	nextReset time.Time
}

func NewFixedWindow(window time.Duration) *FixedWindow {
	return newFixedWindow(window, time.Now)
}

func newFixedWindow(window time.Duration, now func() time.Time) *FixedWindow {
	return &FixedWindow{
		window:    window,
		now:       now,
		counts:    make(map[string]*atomic.Int64),
		nextReset: now().Add(window),
	}
}

// Allow consumes one unit from key. The increment and the comparison run
// under the lock, so a concurrent Reset cannot land between them.
func (f *FixedWindow) Allow(_ context.Context, key string, limit int) (Decision, error) {
	if limit <= 0 {
		return unlimited(), nil
	}

	f.mu.RLock()
	if c, ok := f.counts[key]; ok {
		d := f.decide(c.Add(1), limit)
		f.mu.RUnlock()
		return d, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.counts[key]
	if !ok {
		c = new(atomic.Int64)
		f.counts[key] = c
	}
	return f.decide(c.Add(1), limit), nil
}

func (f *FixedWindow) decide(n int64, limit int) Decision {
	d := Decision{Allowed: n <= int64(limit), Limit: limit}
	if d.Allowed {
		d.Remaining = limit - int(n)
		return d
	}
	d.RetryAfter = f.nextReset.Sub(f.now())
	if d.RetryAfter < 0 {
		d.RetryAfter = 0
	}
	return d
}

func (f *FixedWindow) Remaining(_ context.Context, key string, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.counts[key]
	if !ok {
		return limit, nil
	}
	if n := c.Load(); n < int64(limit) {
		return limit - int(n), nil
	}
	return 0, nil
}

// Reset zeroes every counter and starts the next window.
func (f *FixedWindow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = make(map[string]*atomic.Int64)
	f.nextReset = f.now().Add(f.window)
}

// Run resets all counters every window until ctx is canceled.
func (f *FixedWindow) Run(ctx context.Context) {
	ticker := time.NewTicker(f.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Reset()
		}
	}
}
