package auth

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/mrmushfiq/ridegate/internal/shared/apperrors"
	"github.com/mrmushfiq/ridegate/internal/shared/database"
	"github.com/mrmushfiq/ridegate/internal/shared/models"
)

// NewCredential describes an API key to issue.
type NewCredential struct {
	ServiceName        string
	KeyName            string
	Permissions        []string
	RateLimitPerMinute int
	ExpiresAt          *time.Time
}

// Authenticator validates API keys against the credential store and
// manages their lifecycle.
type Authenticator struct {
	store  CredentialStore
	logger zerolog.Logger
	now    func() time.Time
	cost   int
}

type Option func(*Authenticator)

// WithHashCost overrides the bcrypt cost used for new keys.
func WithHashCost(cost int) Option {
	return func(a *Authenticator) { a.cost = cost }
}

func NewAuthenticator(store CredentialStore, logger zerolog.Logger, opts ...Option) *Authenticator {
	a := &Authenticator{
		store:  store,
		logger: logger,
		now:    time.Now,
		cost:   bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AuthenticateAPIKey resolves key to an identity. Unknown, malformed,
// inactive or mismatched keys are invalid; a matching key past its expiry
// is expired.
func (a *Authenticator) AuthenticateAPIKey(ctx context.Context, key string) (*Identity, error) {
	if key == "" {
		return nil, apperrors.CredentialRequired()
	}

	id, secret, ok := parseKey(key)
	if !ok {
		return nil, apperrors.InvalidCredential(errors.New("malformed api key"))
	}

	cred, err := a.store.GetCredential(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.InvalidCredential(errors.New("unknown api key"))
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	if !verifySecret(cred.HashedSecret, secret) {
		return nil, apperrors.InvalidCredential(errors.New("api key secret mismatch"))
	}
	if !cred.IsActive {
		return nil, apperrors.InvalidCredential(errors.New("api key revoked"))
	}
	if cred.Expired(a.now()) {
		return nil, apperrors.CredentialExpired()
	}

	// Update last used timestamp (async)
	go func(id string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.store.TouchCredential(ctx, id); err != nil {
			a.logger.Warn().Err(err).Str("credential_id", id).Msg("failed to update last_used_at")
		}
	}(cred.ID)

	return &Identity{
		Subject:            cred.ID,
		Kind:               KindAPIKey,
		Name:               cred.ServiceName,
		Permissions:        cred.Permissions,
		RateLimitPerMinute: cred.RateLimitPerMinute,
	}, nil
}

// CreateCredential issues a new API key. The plaintext key is returned once
// and never stored.
func (a *Authenticator) CreateCredential(ctx context.Context, nc NewCredential) (string, *models.Credential, error) {
	id, secret, plaintext, err := generateKey()
	if err != nil {
		return "", nil, apperrors.Internal(err)
	}
	hash, err := hashSecret(secret, a.cost)
	if err != nil {
		return "", nil, apperrors.Internal(err)
	}

	now := a.now().UTC()
	cred := &models.Credential{
		ID:                 id,
		ServiceName:        nc.ServiceName,
		KeyName:            nc.KeyName,
		HashedSecret:       hash,
		Permissions:        nc.Permissions,
		RateLimitPerMinute: nc.RateLimitPerMinute,
		IsActive:           true,
		ExpiresAt:          nc.ExpiresAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if cred.Permissions == nil {
		cred.Permissions = []string{}
	}
	if err := a.store.CreateCredential(ctx, cred); err != nil {
		return "", nil, apperrors.Internal(err)
	}

	a.logger.Info().Str("credential_id", id).Str("service", nc.ServiceName).Strs("permissions", cred.Permissions).Msg("credential created")
	return plaintext, cred, nil
}

// RevokeCredential deactivates a credential; the row is kept.
func (a *Authenticator) RevokeCredential(ctx context.Context, id string) error {
	err := a.store.DeactivateCredential(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return apperrors.NotFound("credential " + id)
	}
	if err != nil {
		return apperrors.Internal(err)
	}
	a.logger.Info().Str("credential_id", id).Msg("credential revoked")
	return nil
}

// Ping reports credential store reachability.
func (a *Authenticator) Ping(ctx context.Context) error {
	return a.store.Ping(ctx)
}
