package auth

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mrmushfiq/ridegate/internal/gateway/presenter"
	"github.com/mrmushfiq/ridegate/internal/shared/apperrors"
	"github.com/mrmushfiq/ridegate/internal/shared/metrics"
)

// Middleware attaches identities to requests.
type Middleware struct {
	auth         *Authenticator
	tokens       *TokenService
	apiKeyHeader string
	metrics      *metrics.Metrics
}

func NewMiddleware(auth *Authenticator, tokens *TokenService, apiKeyHeader string, m *metrics.Metrics) *Middleware {
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	return &Middleware{auth: auth, tokens: tokens, apiKeyHeader: apiKeyHeader, metrics: m}
}

// RequireAPIKey authenticates the request by its API key header.
func (m *Middleware) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.auth.AuthenticateAPIKey(r.Context(), strings.TrimSpace(r.Header.Get(m.apiKeyHeader)))
		if err != nil {
			m.reject(w, r, err)
			return
		}
		m.serve(w, r, next, id)
	})
}

// RequireBearer authenticates the request by its Authorization header.
func (m *Middleware) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			m.reject(w, r, apperrors.CredentialRequired())
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			m.reject(w, r, apperrors.InvalidCredential(nil))
			return
		}

		id, err := m.tokens.Verify(strings.TrimSpace(token))
		if err != nil {
			m.reject(w, r, err)
			return
		}
		m.serve(w, r, next, id)
	})
}

func (m *Middleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler, id *Identity) {
	ctx := WithIdentity(r.Context(), id)
	logger := zerolog.Ctx(ctx).With().Str("caller", id.Subject).Str("credential_kind", string(id.Kind)).Logger()
	next.ServeHTTP(w, r.WithContext(logger.WithContext(ctx)))
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	m.metrics.IncAuthFailure(apperrors.As(err).Code)
	presenter.Error(w, r, err)
}

// RequirePermission rejects callers whose identity lacks perm (and admin).
// It must run after RequireAPIKey or RequireBearer.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				presenter.Error(w, r, apperrors.CredentialRequired())
				return
			}
			if !id.Has(perm) {
				presenter.Error(w, r, apperrors.Forbidden(perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
