// Package auth guards the HTTP surface with static API keys and
// JWKS-backed JWT validation.
//
// Authentication is off by default; a LAN deployment talking to local
// satellites rarely needs it. When enabled, requests present either a
// pre-shared API key (Authorization: Bearer or X-API-Key) or a JWT
// signed by the configured identity provider. Health and metrics paths
// stay open so probes keep working.
package auth

import (
	"context"
	"errors"
)

var (
	// ErrMissingCredentials is returned when a request carries no
	// API key and no bearer token.
	ErrMissingCredentials = errors.New("authentication required")

	// ErrInvalidToken is returned when a token fails validation.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims holds the identity extracted from a validated JWT.
type Claims struct {
	// Subject is the unique identifier for the caller (sub claim).
	Subject string `json:"sub"`

	// Email is the caller's email address, if the provider sets one.
	Email string `json:"email,omitempty"`

	// Role is the caller's role, if the provider sets one.
	Role string `json:"role,omitempty"`

	// Custom contains claims not mapped to struct fields.
	Custom map[string]any `json:"-"`
}

// GetClaim retrieves a custom claim by key.
func (c *Claims) GetClaim(key string) (any, bool) {
	if c.Custom == nil {
		return nil, false
	}
	val, ok := c.Custom[key]
	return val, ok
}

// GetStringClaim retrieves a custom claim as a string, or "" when the
// claim is absent or not a string.
func (c *Claims) GetStringClaim(key string) string {
	if val, ok := c.GetClaim(key); ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

// HasRole reports whether the caller has the given role.
func (c *Claims) HasRole(role string) bool {
	return c.Role == role
}

type contextKey string

const claimsContextKey contextKey = "hearth_auth_claims"

// ContextWithClaims returns a new context carrying the given claims.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext extracts claims from a context. Returns nil when
// the request was authorized by API key or auth is disabled.
func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(claimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}
