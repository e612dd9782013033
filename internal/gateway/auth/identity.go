// Package auth authenticates inbound callers by API key or bearer token and
// gates routes on permissions.
package auth

import (
	"context"
	"slices"
)

// PermissionAdmin satisfies every permission check.
const PermissionAdmin = "admin"

// CredentialKind is how a caller authenticated.
type CredentialKind string

const (
	KindAPIKey CredentialKind = "api_key"
	KindBearer CredentialKind = "bearer"
)

// Identity is the authenticated caller attached to a request.
type Identity struct {
	Subject     string         `json:"subject"`
	Kind        CredentialKind `json:"kind"`
	Name        string         `json:"name,omitempty"`
	Role        string         `json:"role,omitempty"`
	Permissions []string       `json:"permissions"`
	// RateLimitPerMinute is the credential's own budget, 0 when unset.
	RateLimitPerMinute int `json:"rate_limit_per_minute,omitempty"`
}

// Has reports whether the identity holds perm or the admin override.
func (i *Identity) Has(perm string) bool {
	return slices.Contains(i.Permissions, perm) || slices.Contains(i.Permissions, PermissionAdmin)
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}
