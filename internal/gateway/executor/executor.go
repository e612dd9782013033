// Package executor runs outbound provider calls: availability check,
// outbound rate limit, bounded retries, and a uniform result.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mrmushfiq/ridegate/internal/gateway/providers"
	"github.com/mrmushfiq/ridegate/internal/gateway/ratelimit"
	"github.com/mrmushfiq/ridegate/internal/gateway/registry"
	"github.com/mrmushfiq/ridegate/internal/gateway/retry"
	"github.com/mrmushfiq/ridegate/internal/shared/apperrors"
	"github.com/mrmushfiq/ridegate/internal/shared/metrics"
	"github.com/mrmushfiq/ridegate/internal/shared/models"
)

// sideEffectTimeout bounds the async usage and request-log writes.
const sideEffectTimeout = 5 * time.Second

// UsageRecorder counts completed call chains per provider.
type UsageRecorder interface {
	Record(ctx context.Context, id, endpoint string, success bool) error
}

// RequestLogger persists one row per call chain.
type RequestLogger interface {
	LogRequest(ctx context.Context, log *models.RequestLog) error
}

// Result is the outcome of one call chain. Ordinary failures are reported
// here, never as a Go error.
type Result struct {
	Success    bool             `json:"success"`
	Data       json.RawMessage  `json:"data,omitempty"`
	Error      *apperrors.Error `json:"-"`
	StatusCode int              `json:"status_code"`
	Elapsed    time.Duration    `json:"-"`
	RequestID  string           `json:"request_id"`
	ProviderID string           `json:"provider_id"`
	Attempts   int              `json:"attempts"`
	Retries    int              `json:"retries"`
}

// Executor is safe for concurrent use.
type Executor struct {
	registry   *registry.Registry
	limiter    ratelimit.Limiter
	usage      UsageRecorder
	requestLog RequestLogger
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	wg sync.WaitGroup
}

type Option func(*Executor)

func WithUsage(u UsageRecorder) Option {
	return func(e *Executor) { e.usage = u }
}

func WithRequestLog(l RequestLogger) Option {
	return func(e *Executor) { e.requestLog = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// New creates an executor over reg. limiter is the outbound limiter.
func New(reg *registry.Registry, limiter ratelimit.Limiter, logger zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{registry: reg, limiter: limiter, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute calls providerID with req. Attempts are detached from ctx's
// cancellation: once started, a chain runs to completion, failure or
// per-attempt timeout.
func (e *Executor) Execute(ctx context.Context, providerID string, req *providers.Request) *Result {
	start := time.Now()
	res := &Result{RequestID: uuid.NewString(), ProviderID: providerID}

	logger := e.logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		logger = *l
	}
	logger = logger.With().
		Str("provider", providerID).
		Str("operation", req.Operation).
		Str("outbound_request_id", res.RequestID).
		Str("request_id", middleware.GetReqID(ctx)).
		Logger()

	entry, ok := e.registry.Lookup(providerID)
	if !ok || !entry.Config.Enabled {
		return e.fail(res, start, apperrors.ServiceUnavailable(providerID))
	}
	cfg := entry.Config

	if cfg.RateLimitPerMinute > 0 {
		d, err := e.limiter.Allow(ctx, ratelimit.ProviderKey(providerID), cfg.RateLimitPerMinute)
		switch {
		case err != nil:
			// Limiter backend down: fail open rather than block bookings.
			logger.Warn().Err(err).Msg("outbound rate limiter unavailable")
		case !d.Allowed:
			e.metrics.IncRateLimited("provider")
			return e.fail(res, start, apperrors.RateLimited(d.RetryAfter))
		}
	}

	policy := retry.Policy{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.RetryBaseDelay}
	if req.Mutating && req.IdempotencyKey == "" {
		policy.MaxRetries = 0
	}

	var resp *providers.Response
	attemptCtx := context.WithoutCancel(ctx)
	outcome, err := retry.Do(attemptCtx, policy, func(ctx context.Context, attempt int) error {
		attemptStart := time.Now()
		r, err := entry.Adapter.Do(ctx, req)
		ev := logger.Debug().Int("attempt", attempt).Dur("elapsed", time.Since(attemptStart))
		switch {
		case err == nil:
			e.metrics.ObserveAttempt(providerID, "success")
			ev.Int("status", r.StatusCode).Msg("outbound attempt succeeded")
			resp = r
		case retry.Retryable(err):
			e.metrics.ObserveAttempt(providerID, "retryable")
			ev.Err(err).Msg("outbound attempt failed")
		default:
			e.metrics.ObserveAttempt(providerID, "terminal")
			ev.Err(err).Msg("outbound attempt failed")
		}
		return err
	}, retry.WithNotify(func(err error, attempt int, delay time.Duration) {
		logger.Info().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying outbound call")
	}))

	res.Attempts = outcome.Attempts
	res.Retries = outcome.Retries

	if err != nil {
		r := e.fail(res, start, classify(providerID, err))
		if r.Error.Kind == apperrors.KindInternal {
			logger.Error().Err(err).Msg("outbound call failed unexpectedly")
		} else {
			logger.Warn().Err(err).Int("attempts", r.Attempts).Msg("outbound call failed")
		}
		e.complete(req, r)
		return r
	}

	res.Success = true
	res.StatusCode = resp.StatusCode
	res.Data = payload(resp.Body)
	res.Elapsed = time.Since(start)
	e.metrics.ObserveChain(providerID, "ok", res.Elapsed)
	logger.Info().Int("status", res.StatusCode).Int("attempts", res.Attempts).Dur("elapsed", res.Elapsed).Msg("outbound call completed")
	e.complete(req, res)
	return res
}

// Wait blocks until pending usage and request-log writes finish.
func (e *Executor) Wait() {
	e.wg.Wait()
}

func (e *Executor) fail(res *Result, start time.Time, err *apperrors.Error) *Result {
	res.Success = false
	res.Error = err
	if res.StatusCode == 0 {
		res.StatusCode = err.Status
	}
	res.Elapsed = time.Since(start)
	e.metrics.ObserveChain(res.ProviderID, err.Code, res.Elapsed)
	return res
}

// complete records usage and the request log for chains that reached the
// network.
func (e *Executor) complete(req *providers.Request, res *Result) {
	if res.Attempts == 0 {
		return
	}
	entry := &models.RequestLog{
		RequestID:  res.RequestID,
		Provider:   res.ProviderID,
		Operation:  req.Operation,
		StatusCode: res.StatusCode,
		Attempts:   res.Attempts,
		LatencyMs:  int(res.Elapsed.Milliseconds()),
		Success:    res.Success,
		CreatedAt:  time.Now().UTC(),
	}
	if res.Error != nil {
		msg := res.Error.Error()
		entry.ErrorMessage = &msg
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()

		if e.usage != nil {
			if err := e.usage.Record(ctx, entry.Provider, entry.Operation, entry.Success); err != nil {
				e.logger.Warn().Err(err).Str("provider", entry.Provider).Msg("failed to record usage")
			}
		}
		if e.requestLog != nil {
			if err := e.requestLog.LogRequest(ctx, entry); err != nil {
				e.logger.Warn().Err(err).Str("provider", entry.Provider).Msg("failed to write request log")
			}
		}
	}()
}

// classify maps the last attempt error onto the gateway taxonomy.
func classify(providerID string, err error) *apperrors.Error {
	var se *providers.StatusError
	if errors.As(err, &se) {
		status := se.StatusCode
		// The provider rejected our own credentials; that is not the
		// caller's auth problem.
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			status = 0
		}
		return apperrors.Upstream(providerID, status, err)
	}
	if isTimeout(err) {
		return apperrors.UpstreamTimeout(providerID, err)
	}
	var te *providers.TransportError
	var tl *providers.ResponseTooLargeError
	if errors.As(err, &te) || errors.As(err, &tl) {
		return apperrors.Upstream(providerID, 0, err)
	}
	return apperrors.Internal(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// payload keeps JSON bodies as-is and wraps anything else as a JSON string.
func payload(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
