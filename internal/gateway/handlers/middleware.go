package handlers

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mrmushfiq/ridegate/internal/gateway/auth"
	"github.com/mrmushfiq/ridegate/internal/gateway/cache"
	"github.com/mrmushfiq/ridegate/internal/gateway/presenter"
	"github.com/mrmushfiq/ridegate/internal/gateway/ratelimit"
	"github.com/mrmushfiq/ridegate/internal/shared/apperrors"
)

// RequestLogger stores a request-scoped logger in the context and logs
// each completed request. It must run after middleware.RequestID.
func (h *Handler) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := h.logger.With().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context())))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		ev := logger.Info()
		if status >= http.StatusInternalServerError {
			ev = logger.Warn()
		}
		ev.Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Str("remote", r.RemoteAddr).
			Dur("elapsed", time.Since(start)).
			Msg("request completed")
	})
}

// CORS handles CORS
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, Idempotency-Key")
		w.Header().Set("Access-Control-Expose-Headers", "X-Cache, X-Cache-TTL, X-RateLimit-Limit, X-RateLimit-Remaining, Retry-After")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RateLimit enforces the budget of group. Authenticated callers are keyed
// by credential and limited to the smaller of the group budget and their
// own; anonymous callers are keyed by client address.
func (h *Handler) RateLimit(group ratelimit.Group) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit := h.budgets[group]
			var callerID string
			if id, ok := auth.FromContext(r.Context()); ok {
				callerID = id.Subject
				if id.RateLimitPerMinute > 0 && (limit <= 0 || id.RateLimitPerMinute < limit) {
					limit = id.RateLimitPerMinute
				}
			}
			if limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			key := ratelimit.InboundKey(group, callerID, clientIP(r))
			d, err := h.limiter.Allow(r.Context(), key, limit)
			if err != nil {
				// Limiter backend down: fail open.
				zerolog.Ctx(r.Context()).Warn().Err(err).Str("group", string(group)).Msg("inbound rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				h.metrics.IncRateLimited(string(group))
				presenter.Error(w, r, apperrors.RateLimited(d.RetryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TrackUsage counts each authenticated request against its credential,
// by route pattern.
func (h *Handler) TrackUsage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		id, ok := auth.FromContext(r.Context())
		if !ok || h.usage == nil {
			return
		}
		endpoint := r.Method + " " + r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = r.Method + " " + rctx.RoutePattern()
		}
		status := ww.Status()
		success := status == 0 || status < http.StatusBadRequest

		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
		defer cancel()
		if err := h.usage.Record(ctx, id.Subject, endpoint, success); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to record usage")
		}
	})
}

// cached wraps a route with the response cache when one is configured.
func (h *Handler) cached(ttl time.Duration, route string) func(http.Handler) http.Handler {
	if h.cache == nil || ttl <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return cache.Middleware(h.cache, ttl, route, h.metrics)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
