package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrmushfiq/ridegate/internal/gateway/providers"
)

// instantTimer fires immediately and records every requested delay.
type instantTimer struct {
	c      chan time.Time
	delays []time.Duration
}

func newInstantTimer() *instantTimer {
	return &instantTimer{c: make(chan time.Time, 1)}
}

func (t *instantTimer) Start(d time.Duration) {
	t.delays = append(t.delays, d)
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time {
	return t.c
}

func status(code int) error {
	return &providers.StatusError{StatusCode: code}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"408", status(http.StatusRequestTimeout), true},
		{"429", status(http.StatusTooManyRequests), true},
		{"500", status(http.StatusInternalServerError), true},
		{"502", status(http.StatusBadGateway), true},
		{"503", status(http.StatusServiceUnavailable), true},
		{"504", status(http.StatusGatewayTimeout), true},
		{"400", status(http.StatusBadRequest), false},
		{"401", status(http.StatusUnauthorized), false},
		{"404", status(http.StatusNotFound), false},
		{"501", status(http.StatusNotImplemented), false},
		{"transport", &providers.TransportError{Err: errors.New("connection reset")}, true},
		{"deadline", fmt.Errorf("attempt: %w", context.DeadlineExceeded), true},
		{"unsupported", providers.ErrUnsupportedOperation, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestDelay(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, time.Duration(0), Policy{}.Delay(3))
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	timer := newInstantTimer()
	p := Policy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond}
	responses := []error{status(503), status(503), nil}

	out, err := Do(context.Background(), p, func(_ context.Context, attempt int) error {
		return responses[attempt-1]
	}, WithTimer(timer))

	require.NoError(t, err)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 2, out.Retries)
	assert.Equal(t, []time.Duration{p.Delay(0), p.Delay(1)}, timer.delays)
}

func TestDoStopsAfterMaxRetries(t *testing.T) {
	timer := newInstantTimer()
	p := Policy{MaxRetries: 3, BaseDelay: 50 * time.Millisecond}

	var notified []int
	out, err := Do(context.Background(), p, func(context.Context, int) error {
		return status(503)
	}, WithTimer(timer), WithNotify(func(_ error, attempt int, _ time.Duration) {
		notified = append(notified, attempt)
	}))

	var se *providers.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 503, se.StatusCode)
	assert.Equal(t, 4, out.Attempts)
	assert.Equal(t, 3, out.Retries)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}, timer.delays)
	assert.Equal(t, []int{1, 2, 3}, notified)
}

func TestDoTerminalErrorIsNotRetried(t *testing.T) {
	timer := newInstantTimer()
	out, err := Do(context.Background(), Policy{MaxRetries: 3}, func(context.Context, int) error {
		return status(http.StatusBadRequest)
	}, WithTimer(timer))

	var se *providers.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 0, out.Retries)
	assert.Empty(t, timer.delays)
}

func TestDoZeroRetriesIsSingleAttempt(t *testing.T) {
	out, err := Do(context.Background(), Policy{}, func(context.Context, int) error {
		return status(503)
	}, WithTimer(newInstantTimer()))

	assert.Error(t, err)
	assert.Equal(t, 1, out.Attempts)
}

func TestDoRealTimerWaits(t *testing.T) {
	p := Policy{MaxRetries: 1, BaseDelay: 20 * time.Millisecond}
	start := time.Now()
	out, err := Do(context.Background(), p, func(_ context.Context, attempt int) error {
		if attempt == 1 {
			return status(502)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Attempts)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
