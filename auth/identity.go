package auth

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Method records how an Identity was established.
type Method string

const (
	MethodAPIKey    Method = "api_key"
	MethodJWT       Method = "jwt"
	MethodAnonymous Method = "anonymous"
)

// Identity is an authenticated caller of the admin API.
type Identity struct {
	Principal string
	Roles     []string
	Method    Method

	// KeyID names the API key used, never the key itself.
	KeyID string

	// ExpiresAt is zero for credentials that never expire.
	ExpiresAt time.Time

	// Claims holds the verified token claims of a JWT identity.
	Claims map[string]any
}

// HasRole reports whether id was granted role. A nil identity has none.
func (id *Identity) HasRole(role string) bool {
	return id != nil && slices.Contains(id.Roles, role)
}

// Expired reports whether the credentials had expired at now.
func (id *Identity) Expired(now time.Time) bool {
	return !id.ExpiresAt.IsZero() && !now.Before(id.ExpiresAt)
}

func (id *Identity) String() string {
	if id == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s (%s)", id.Principal, id.Method)
}

type identityKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity Require attached, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// PrincipalFromContext is the attached identity's principal, or "".
func PrincipalFromContext(ctx context.Context) string {
	if id := IdentityFromContext(ctx); id != nil {
		return id.Principal
	}
	return ""
}
