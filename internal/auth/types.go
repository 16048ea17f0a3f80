// Package auth provides bearer-token authentication for Meridian Vault.
package auth

import (
	"context"
)

// contextKey is a private type for context values set by this package.
type contextKey string

// identityContextKey is the context key holding the authenticated identity.
const identityContextKey contextKey = "auth:identity"

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	// UserID is the authenticated user's ID.
	UserID int64

	// Email is the authenticated user's email.
	Email string

	// IsAdmin indicates administrative privileges.
	IsAdmin bool
}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFrom extracts the identity from a context.
// Returns nil if the request was anonymous.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey).(*Identity)
	return id
}
