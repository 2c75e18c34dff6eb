// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"context"
	"time"
)

// authContextKey is the context key for authenticated request information.
type authContextKey struct{}

// AuthContext carries the authenticated tenant identity enriched into the
// request context after a successful API key check.
type AuthContext struct {
	// OrganizationID scopes the request to one tenant.
	OrganizationID string

	// ProjectID scopes the request to one project within OrganizationID.
	ProjectID string

	// KeyID is the API key ID used for authentication (for audit logging).
	KeyID string

	// AuthTime is the timestamp when authentication occurred.
	AuthTime time.Time
}

// GetAuthContext extracts AuthContext from the request context.
// Returns (context, true) if authenticated, (empty, false) if not found.
func GetAuthContext(ctx context.Context) (AuthContext, bool) {
	authCtx, ok := ctx.Value(authContextKey{}).(AuthContext)

	return authCtx, ok
}

// SetAuthContext adds AuthContext to the request context. Used by the
// authentication middleware to enrich the request context after a
// successful API key check.
func SetAuthContext(ctx context.Context, authCtx AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, authCtx)
}
