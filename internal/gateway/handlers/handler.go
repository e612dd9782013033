// Package handlers exposes the gateway's inbound HTTP API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/mrmushfiq/ridegate/internal/gateway/auth"
	"github.com/mrmushfiq/ridegate/internal/gateway/cache"
	"github.com/mrmushfiq/ridegate/internal/gateway/executor"
	"github.com/mrmushfiq/ridegate/internal/gateway/presenter"
	"github.com/mrmushfiq/ridegate/internal/gateway/providers"
	"github.com/mrmushfiq/ridegate/internal/gateway/ratelimit"
	"github.com/mrmushfiq/ridegate/internal/gateway/registry"
	"github.com/mrmushfiq/ridegate/internal/gateway/usage"
	"github.com/mrmushfiq/ridegate/internal/shared/apperrors"
	"github.com/mrmushfiq/ridegate/internal/shared/config"
	"github.com/mrmushfiq/ridegate/internal/shared/metrics"
)

// Permissions checked by the route table.
const (
	PermMapsRead      = "maps:read"
	PermPartnerRead   = "partner:read"
	PermPartnerWrite  = "partner:write"
	PermTrackingRead  = "tracking:read"
	PermBookingRead   = "booking:read"
	PermBookingWrite  = "booking:write"
	headerIdempotency = "Idempotency-Key"
)

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the handlers are built from. Cache, Usage,
// Metrics and Gatherer may be nil.
type Deps struct {
	Registry *registry.Registry
	Executor *executor.Executor
	Auth     *auth.Authenticator
	Tokens   *auth.TokenService
	Limiter  ratelimit.Limiter
	Budgets  ratelimit.Budgets
	Cache    cache.Store
	CacheTTL config.CacheConfig
	Usage    *usage.Tracker
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	// HealthChecks are probed by GET /api/health, keyed by service name.
	HealthChecks map[string]Pinger

	APIKeyHeader   string
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

type Handler struct {
	registry *registry.Registry
	executor *executor.Executor
	auth     *auth.Authenticator
	tokens   *auth.TokenService
	authn    *auth.Middleware
	limiter  ratelimit.Limiter
	budgets  ratelimit.Budgets
	cache    cache.Store
	cacheTTL config.CacheConfig
	usage    *usage.Tracker
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	health   map[string]Pinger
	timeout  time.Duration
	logger   zerolog.Logger
	fares    FareSchedule
}

func New(d Deps) *Handler {
	return &Handler{
		registry: d.Registry,
		executor: d.Executor,
		auth:     d.Auth,
		tokens:   d.Tokens,
		authn:    auth.NewMiddleware(d.Auth, d.Tokens, d.APIKeyHeader, d.Metrics),
		limiter:  d.Limiter,
		budgets:  d.Budgets,
		cache:    d.Cache,
		cacheTTL: d.CacheTTL,
		usage:    d.Usage,
		metrics:  d.Metrics,
		gatherer: d.Gatherer,
		health:   d.HealthChecks,
		timeout:  d.RequestTimeout,
		logger:   d.Logger,
		fares:    DefaultFareSchedule,
	}
}

// providerFor picks the provider serving kind: the first enabled one by id,
// else the first configured one so the executor reports it unavailable.
func (h *Handler) providerFor(kind providers.Kind) (string, error) {
	var fallback string
	for _, cfg := range h.registry.List() {
		if cfg.Kind != kind {
			continue
		}
		if cfg.Enabled {
			return cfg.ID, nil
		}
		if fallback == "" {
			fallback = cfg.ID
		}
	}
	if fallback == "" {
		return "", apperrors.ServiceUnavailable(string(kind))
	}
	return fallback, nil
}

// call runs req against the provider for kind. A failed call is reported
// in the result; the error is only set when no provider serves kind.
func (h *Handler) call(ctx context.Context, kind providers.Kind, req *providers.Request) (*executor.Result, error) {
	id, err := h.providerFor(kind)
	if err != nil {
		return nil, err
	}
	return h.executor.Execute(ctx, id, req), nil
}

// proxy runs req and writes the result.
func (h *Handler) proxy(w http.ResponseWriter, r *http.Request, kind providers.Kind, req *providers.Request, status int) {
	res, err := h.call(r.Context(), kind, req)
	if err != nil {
		presenter.Error(w, r, err)
		return
	}
	h.writeResult(w, r, res, status)
}

// providerPayload is the data of a proxied provider call.
type providerPayload struct {
	Provider  string          `json:"provider"`
	RequestID string          `json:"request_id"`
	Attempts  int             `json:"attempts"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// writeResult writes a provider result in the success envelope or the
// error envelope.
func (h *Handler) writeResult(w http.ResponseWriter, r *http.Request, res *executor.Result, status int) {
	setProviderHeaders(w, res)
	if !res.Success {
		presenter.Error(w, r, res.Error)
		return
	}
	presenter.OK(w, r, providerPayload{
		Provider:  res.ProviderID,
		RequestID: res.RequestID,
		Attempts:  res.Attempts,
		Result:    res.Data,
	}, status)
}

func setProviderHeaders(w http.ResponseWriter, res *executor.Result) {
	if res == nil {
		return
	}
	w.Header().Set("X-Provider", res.ProviderID)
	w.Header().Set("X-Provider-Attempts", strconv.Itoa(res.Attempts))
	w.Header().Set("X-Latency-Ms", strconv.FormatInt(res.Elapsed.Milliseconds(), 10))
}
