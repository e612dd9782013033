package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mrmushfiq/ridegate/internal/gateway/auth"
	"github.com/mrmushfiq/ridegate/internal/gateway/presenter"
	"github.com/mrmushfiq/ridegate/internal/gateway/providers"
	"github.com/mrmushfiq/ridegate/internal/gateway/registry"
	"github.com/mrmushfiq/ridegate/internal/shared/apperrors"
	"github.com/mrmushfiq/ridegate/internal/shared/models"
)

const defaultUsageDays = 7

// jsonDuration reads Go duration strings such as "1.5s".
type jsonDuration time.Duration

func (d *jsonDuration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.New(`duration must be a string like "5s"`)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = jsonDuration(v)
	return nil
}

func (d *jsonDuration) ptr() *time.Duration {
	if d == nil {
		return nil
	}
	v := time.Duration(*d)
	return &v
}

// adminProvider is the operator view of a provider. Secrets are reduced to
// whether they are set.
type adminProvider struct {
	providers.ServiceConfig
	Timeout        string   `json:"timeout"`
	RetryBaseDelay string   `json:"retry_base_delay"`
	HasCredential  bool     `json:"has_credential"`
	ExtraHeaders   []string `json:"extra_headers,omitempty"`
}

func newAdminProvider(cfg providers.ServiceConfig) adminProvider {
	headers := make([]string, 0, len(cfg.ExtraHeaders))
	for k := range cfg.ExtraHeaders {
		headers = append(headers, k)
	}
	sort.Strings(headers)
	return adminProvider{
		ServiceConfig:  cfg,
		Timeout:        cfg.Timeout.String(),
		RetryBaseDelay: cfg.RetryBaseDelay.String(),
		HasCredential:  cfg.Credential != "",
		ExtraHeaders:   headers,
	}
}

// AdminListProviders handles GET /api/admin/providers
func (h *Handler) AdminListProviders(w http.ResponseWriter, r *http.Request) {
	cfgs := h.registry.List()
	out := make([]adminProvider, 0, len(cfgs))
	for _, cfg := range cfgs {
		out = append(out, newAdminProvider(cfg))
	}
	presenter.OK(w, r, out, http.StatusOK)
}

type providerPatchRequest struct {
	DisplayName        *string           `json:"display_name" validate:"omitempty,min=1,max=100"`
	BaseURL            *string           `json:"base_url" validate:"omitempty,url"`
	Timeout            *jsonDuration     `json:"timeout"`
	MaxRetries         *int              `json:"max_retries" validate:"omitempty,min=0,max=10"`
	RetryBaseDelay     *jsonDuration     `json:"retry_base_delay"`
	RateLimitPerMinute *int              `json:"rate_limit_per_minute" validate:"omitempty,min=0"`
	Enabled            *bool             `json:"enabled"`
	AuthKind           *string           `json:"auth_kind" validate:"omitempty,oneof=none bearer basic custom"`
	AuthHeader         *string           `json:"auth_header"`
	Username           *string           `json:"username"`
	Credential         *string           `json:"credential"`
	ExtraHeaders       map[string]string `json:"extra_headers"`
}

func (p providerPatchRequest) patch() registry.Patch {
	patch := registry.Patch{
		DisplayName:        p.DisplayName,
		BaseURL:            p.BaseURL,
		Timeout:            p.Timeout.ptr(),
		MaxRetries:         p.MaxRetries,
		RetryBaseDelay:     p.RetryBaseDelay.ptr(),
		RateLimitPerMinute: p.RateLimitPerMinute,
		Enabled:            p.Enabled,
		AuthHeader:         p.AuthHeader,
		Username:           p.Username,
		Credential:         p.Credential,
		ExtraHeaders:       p.ExtraHeaders,
	}
	if p.AuthKind != nil {
		kind := providers.AuthKind(*p.AuthKind)
		patch.AuthKind = &kind
	}
	return patch
}

// ConfigureProvider handles PATCH /api/admin/providers/{id}. The new
// configuration applies to calls started after the swap.
func (h *Handler) ConfigureProvider(w http.ResponseWriter, r *http.Request) {
	var req providerPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		presenter.Error(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	cfg, err := h.registry.Configure(id, req.patch())
	if err != nil {
		presenter.Error(w, r, err)
		return
	}

	var by string
	if caller, ok := auth.FromContext(r.Context()); ok {
		by = caller.Subject
	}
	zerolog.Ctx(r.Context()).Info().
		Str("provider", id).
		Str("by", by).
		Bool("enabled", cfg.Enabled).
		Msg("provider reconfigured")
	presenter.OK(w, r, newAdminProvider(cfg), http.StatusOK)
}

type createCredentialRequest struct {
	ServiceName        string     `json:"service_name" validate:"required,max=100"`
	KeyName            string     `json:"key_name" validate:"required,max=100"`
	Permissions        []string   `json:"permissions" validate:"dive,required"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute" validate:"min=0"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
}

type credentialView struct {
	ID                 string     `json:"id"`
	ServiceName        string     `json:"service_name"`
	KeyName            string     `json:"key_name"`
	Permissions        []string   `json:"permissions"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute"`
	IsActive           bool       `json:"is_active"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

type createdCredential struct {
	Key        string         `json:"key"`
	Credential credentialView `json:"credential"`
}

func newCredentialView(c *models.Credential) credentialView {
	return credentialView{
		ID:                 c.ID,
		ServiceName:        c.ServiceName,
		KeyName:            c.KeyName,
		Permissions:        c.Permissions,
		RateLimitPerMinute: c.RateLimitPerMinute,
		IsActive:           c.IsActive,
		ExpiresAt:          c.ExpiresAt,
		CreatedAt:          c.CreatedAt,
	}
}

// CreateCredential handles POST /api/admin/credentials. The plaintext key
// is only ever returned here.
func (h *Handler) CreateCredential(w http.ResponseWriter, r *http.Request) {
	var req createCredentialRequest
	if err := decodeJSON(r, &req); err != nil {
		presenter.Error(w, r, err)
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		presenter.Error(w, r, apperrors.Validation("request validation failed", map[string]string{
			"expires_at": "must be in the future",
		}))
		return
	}

	key, cred, err := h.auth.CreateCredential(r.Context(), auth.NewCredential{
		ServiceName:        req.ServiceName,
		KeyName:            req.KeyName,
		Permissions:        req.Permissions,
		RateLimitPerMinute: req.RateLimitPerMinute,
		ExpiresAt:          req.ExpiresAt,
	})
	if err != nil {
		presenter.Error(w, r, err)
		return
	}
	presenter.OK(w, r, createdCredential{Key: key, Credential: newCredentialView(cred)}, http.StatusCreated)
}

// RevokeCredential handles DELETE /api/admin/credentials/{id}
func (h *Handler) RevokeCredential(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.RevokeCredential(r.Context(), chi.URLParam(r, "id")); err != nil {
		presenter.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type usageResponse struct {
	ID   string     `json:"id"`
	Days []usageDay `json:"days"`
}

type usageDay struct {
	Date         string           `json:"date"`
	Total        int64            `json:"total"`
	Errors       int64            `json:"errors"`
	Endpoints    map[string]int64 `json:"endpoints"`
	TopEndpoints []string         `json:"top_endpoints"`
}

// UsageStats handles GET /api/admin/usage/{id}?days=N for a credential or
// provider id.
func (h *Handler) UsageStats(w http.ResponseWriter, r *http.Request) {
	if h.usage == nil {
		presenter.Error(w, r, apperrors.NotFound("usage tracking"))
		return
	}

	days := defaultUsageDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			presenter.Error(w, r, apperrors.Validation("request validation failed", map[string]string{
				"days": "must be a positive integer",
			}))
			return
		}
		days = n
	}

	id := chi.URLParam(r, "id")
	stats, err := h.usage.GetStatistics(r.Context(), id, days)
	if err != nil {
		presenter.Error(w, r, apperrors.Internal(err))
		return
	}

	out := usageResponse{ID: id, Days: make([]usageDay, 0, len(stats))}
	for _, s := range stats {
		out.Days = append(out.Days, usageDay{
			Date:         s.Date,
			Total:        s.Total,
			Errors:       s.Errors,
			Endpoints:    s.Endpoints,
			TopEndpoints: s.TopEndpoints(),
		})
	}
	presenter.OK(w, r, out, http.StatusOK)
}
