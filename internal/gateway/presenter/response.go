// Package presenter writes the gateway's JSON envelopes.
package presenter

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mrmushfiq/ridegate/internal/shared/apperrors"
)

// exposeInternal controls whether internal error details reach clients.
// It is off in production.
var exposeInternal atomic.Bool

// ExposeInternalErrors sets whether 500 responses carry the error detail.
func ExposeInternalErrors(v bool) {
	exposeInternal.Store(v)
}

type Envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

type ErrorResponse struct {
	Success    bool              `json:"success"`
	Error      string            `json:"error"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Timestamp  time.Time         `json:"timestamp"`
	RequestID  string            `json:"request_id,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	RetryAfter *int              `json:"retryAfter,omitempty"`
	Detail     string            `json:"detail,omitempty"`
}

func JSON(w http.ResponseWriter, r *http.Request, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to write json response")
	}
}

// OK wraps data in the success envelope.
func OK(w http.ResponseWriter, r *http.Request, data any, status int) {
	JSON(w, r, Envelope{Success: true, Data: data}, status)
}

// Error normalizes err and writes the error envelope. Internal errors are
// logged with full detail and returned with a generic message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	e := apperrors.As(err)

	resp := ErrorResponse{
		Success:   false,
		Error:     e.Message,
		Code:      e.Code,
		Message:   e.Message,
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetReqID(r.Context()),
		Fields:    e.Fields,
	}

	if e.Kind == apperrors.KindRateLimit {
		secs := int(math.Ceil(e.RetryAfter.Seconds()))
		resp.Error = "too many requests"
		resp.RetryAfter = &secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	logger := zerolog.Ctx(r.Context())
	if e.Status >= http.StatusInternalServerError {
		logger.Error().Err(e).Str("code", e.Code).Int("status", e.Status).Msg("request failed")
	} else {
		logger.Debug().Str("code", e.Code).Int("status", e.Status).Msg("request rejected")
	}
	if e.Kind == apperrors.KindInternal && exposeInternal.Load() && e.Err != nil {
		resp.Detail = e.Err.Error()
	}

	JSON(w, r, resp, e.Status)
}
