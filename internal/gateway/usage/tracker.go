// Package usage keeps per-caller and per-provider daily request counters.
package usage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout    = "2006-01-02"
	fieldTotal    = "total"
	fieldErrors   = "errors"
	endpointField = "ep:"
	maxDays       = 366
)

// Store is the part of the shared Redis client the tracker uses.
type Store interface {
	HIncrBy(ctx context.Context, key string, fields map[string]int64, ttl time.Duration) error
	HGetAll(ctx context.Context, keys ...string) ([]map[string]string, error)
}

// DailySummary is one day of counters for an id.
type DailySummary struct {
	Date      string           `json:"date"`
	Total     int64            `json:"total"`
	Errors    int64            `json:"errors"`
	Endpoints map[string]int64 `json:"endpoints"`
}

// Tracker records usage into one Redis hash per id and UTC day. Each hash
// expires after the retention window.
type Tracker struct {
	store     Store
	retention time.Duration
	now       func() time.Time
}

func New(store Store, retention time.Duration) *Tracker {
	return &Tracker{store: store, retention: retention, now: time.Now}
}

func key(id string, day time.Time) string {
	return fmt.Sprintf("usage:%s:%s", id, day.UTC().Format(dateLayout))
}

// Record counts one request by id against endpoint.
func (t *Tracker) Record(ctx context.Context, id, endpoint string, success bool) error {
	fields := map[string]int64{fieldTotal: 1}
	fields[endpointField+endpoint] = 1
	if !success {
		fields[fieldErrors] = 1
	}
	if err := t.store.HIncrBy(ctx, key(id, t.now()), fields, t.retention); err != nil {
		return fmt.Errorf("recording usage for %s: %w", id, err)
	}
	return nil
}

// GetStatistics returns the last days of counters for id, newest first.
// Days without traffic are included with zero counts.
func (t *Tracker) GetStatistics(ctx context.Context, id string, days int) ([]DailySummary, error) {
	if days < 1 {
		days = 1
	}
	if limit := int(t.retention / (24 * time.Hour)); limit > 0 && days > limit {
		days = limit
	}
	if days > maxDays {
		days = maxDays
	}

	today := t.now().UTC()
	dates := make([]string, days)
	keys := make([]string, days)
	for i := range days {
		day := today.AddDate(0, 0, -i)
		dates[i] = day.Format(dateLayout)
		keys[i] = key(id, day)
	}

	hashes, err := t.store.HGetAll(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("reading usage for %s: %w", id, err)
	}
	out := make([]DailySummary, days)
	for i, fields := range hashes {
		out[i] = summarize(dates[i], fields)
	}
	return out, nil
}

func summarize(date string, fields map[string]string) DailySummary {
	s := DailySummary{Date: date, Endpoints: map[string]int64{}}
	for f, v := range fields {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		switch {
		case f == fieldTotal:
			s.Total = n
		case f == fieldErrors:
			s.Errors = n
		case strings.HasPrefix(f, endpointField):
			s.Endpoints[strings.TrimPrefix(f, endpointField)] = n
		}
	}
	return s
}

// TopEndpoints returns endpoint names of s ordered by count, highest first.
func (s DailySummary) TopEndpoints() []string {
	names := make([]string, 0, len(s.Endpoints))
	for name := range s.Endpoints {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if s.Endpoints[names[i]] != s.Endpoints[names[j]] {
			return s.Endpoints[names[i]] > s.Endpoints[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
