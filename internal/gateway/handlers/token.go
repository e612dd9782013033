package handlers

import (
	"net/http"
	"time"

	"github.com/mrmushfiq/ridegate/internal/gateway/presenter"
	"github.com/mrmushfiq/ridegate/internal/shared/apperrors"
)

// tokenRequest is a client-credentials grant.
type tokenRequest struct {
	GrantType string `json:"grant_type" validate:"required,oneof=client_credentials"`
	APIKey    string `json:"api_key" validate:"required"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IssueToken exchanges an API key for a bearer token carrying the key's
// permissions.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		presenter.Error(w, r, err)
		return
	}

	id, err := h.auth.AuthenticateAPIKey(r.Context(), req.APIKey)
	if err != nil {
		h.metrics.IncAuthFailure(apperrors.As(err).Code)
		presenter.Error(w, r, err)
		return
	}

	token, exp, err := h.tokens.Issue(id.Subject, "service", id.Permissions)
	if err != nil {
		presenter.Error(w, r, apperrors.Internal(err))
		return
	}

	presenter.OK(w, r, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(exp).Round(time.Second).Seconds()),
		ExpiresAt:   exp,
	}, http.StatusOK)
}
