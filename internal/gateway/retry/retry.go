// Package retry runs one outbound call chain with bounded exponential
// backoff. Classification of which failures are transient lives here too,
// so the executor and the metrics agree on it.
package retry

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mrmushfiq/ridegate/internal/gateway/providers"
)

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Retryable reports whether err is transient: a retryable upstream status,
// or no response at all (network failure or attempt timeout).
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var se *providers.StatusError
	if errors.As(err, &se) {
		return retryableStatus[se.StatusCode]
	}

	var te *providers.TransportError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// Policy bounds one call chain: at most 1+MaxRetries attempts, the i-th
// retry (from 0) waiting BaseDelay*2^i.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Delay returns the wait before retry i, counting from 0.
func (p Policy) Delay(i int) time.Duration {
	if i < 0 || p.BaseDelay <= 0 {
		return 0
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(i))
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxInterval = time.Duration(math.MaxInt64)
	eb.MaxElapsedTime = 0

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

// Outcome reports how many attempts a chain used.
type Outcome struct {
	Attempts int
	Retries  int
}

// Notify is called before each backoff wait with the failed attempt number
// (from 1) and the delay about to be slept.
type Notify func(err error, attempt int, delay time.Duration)

type options struct {
	timer  backoff.Timer
	notify Notify
}

type Option func(*options)

// WithTimer replaces the wall-clock timer used between attempts.
func WithTimer(t backoff.Timer) Option {
	return func(o *options) { o.timer = t }
}

func WithNotify(fn Notify) Option {
	return func(o *options) { o.notify = fn }
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// policy's retries are spent. fn receives the 1-based attempt number. The
// returned error is the last one fn produced.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error, opts ...Option) (Outcome, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var out Outcome
	operation := func() error {
		out.Attempts++
		err := fn(ctx, out.Attempts)
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if o.notify != nil {
		notify = func(err error, d time.Duration) { o.notify(err, out.Attempts, d) }
	}

	err := backoff.RetryNotifyWithTimer(operation, p.backOff(ctx), notify, o.timer)
	out.Retries = out.Attempts - 1
	return out, err
}
