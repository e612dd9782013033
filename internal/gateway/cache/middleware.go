package cache

import (
	"bytes"
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrmushfiq/ridegate/internal/shared/metrics"
)

// Cache signalling headers.
const (
	HeaderCache    = "X-Cache"
	HeaderCacheTTL = "X-Cache-TTL"
)

const maxBodySize = 1 << 20

// Middleware serves GET and HEAD requests from store when possible and
// stores 2xx responses for ttl. route labels metrics. Other methods pass
// through untouched.
func Middleware(store Store, ttl time.Duration, route string, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			key := KeyFromRequest(r)
			if entry, remaining, ok := store.Get(r.Context(), key); ok {
				m.IncCache(route, true)
				for k, vs := range entry.Header {
					w.Header()[k] = append([]string(nil), vs...)
				}
				w.Header().Set(HeaderCache, "HIT")
				w.Header().Set(HeaderCacheTTL, seconds(remaining))
				w.WriteHeader(entry.StatusCode)
				if r.Method == http.MethodGet {
					_, _ = w.Write(entry.Body)
				}
				return
			}

			m.IncCache(route, false)
			w.Header().Set(HeaderCache, "MISS")
			w.Header().Set(HeaderCacheTTL, seconds(ttl))

			// Only headers the handler adds are replayed on a hit; outer
			// middleware headers (rate limits, request ids) are per request.
			preset := make(map[string]bool, len(w.Header()))
			for k := range w.Header() {
				preset[k] = true
			}

			cw := &captureWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(cw, r)

			if r.Method != http.MethodGet || !cw.cacheable() {
				return
			}
			header := make(http.Header)
			for k, vs := range w.Header() {
				if !preset[k] {
					header[k] = append([]string(nil), vs...)
				}
			}
			entry := &Entry{
				StatusCode: cw.statusCode,
				Header:     header,
				Body:       cw.buf.Bytes(),
				CreatedAt:  time.Now(),
			}
			if err := store.Set(context.WithoutCancel(r.Context()), key, entry, ttl); err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Str("route", route).Msg("cache store failed")
			}
		})
	}
}

func seconds(d time.Duration) string {
	return strconv.Itoa(int(math.Ceil(d.Seconds())))
}

// captureWriter passes the response through while buffering the body.
type captureWriter struct {
	http.ResponseWriter
	statusCode int
	buf        bytes.Buffer
	overflow   bool
	headerSent bool
}

func (cw *captureWriter) WriteHeader(code int) {
	if cw.headerSent {
		return
	}
	cw.headerSent = true
	cw.statusCode = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if !cw.headerSent {
		cw.WriteHeader(http.StatusOK)
	}
	n, err := cw.ResponseWriter.Write(b)
	if !cw.overflow {
		cw.buf.Write(b[:n])
		if cw.buf.Len() > maxBodySize {
			cw.overflow = true
			cw.buf.Reset()
		}
	}
	return n, err
}

func (cw *captureWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}

func (cw *captureWriter) cacheable() bool {
	return !cw.overflow && cw.statusCode >= 200 && cw.statusCode <= 299
}
