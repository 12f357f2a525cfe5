package auth

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hearthd/hearth/pkg/config"
)

// Middleware returns an HTTP middleware enforcing the auth config.
//
// Requests authenticate with a static API key (Authorization: Bearer
// or X-API-Key header) or, when a validator is configured, a JWT.
// Static keys are checked first so a matching key never incurs a
// JWKS round trip. Excluded paths pass through untouched.
func Middleware(cfg *config.AuthConfig, validator *JWTValidator) func(http.Handler) http.Handler {
	excluded := make(map[string]struct{})
	if cfg != nil {
		for _, p := range cfg.ExcludedPaths {
			excluded[p] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		if !cfg.IsEnabled() {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := excluded[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			credential := extractCredential(r)
			if credential == "" {
				unauthorized(w, "authentication required: provide an API key or bearer token")
				return
			}

			if matchesAPIKey(cfg.APIKeys, credential) {
				next.ServeHTTP(w, r)
				return
			}

			if validator != nil {
				claims, err := validator.ValidateToken(r.Context(), credential)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
					return
				}
				slog.Debug("JWT validation failed", "path", r.URL.Path, "error", err)
			}

			unauthorized(w, "invalid credentials")
		})
	}
}

// GetClaims returns the validated JWT claims for a request, or nil
// when the request was authorized by API key or auth is disabled.
func GetClaims(r *http.Request) *Claims {
	return ClaimsFromContext(r.Context())
}

// extractCredential pulls the presented credential from the request.
// X-API-Key wins over the Authorization header when both are set.
func extractCredential(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader {
		return ""
	}
	return token
}

func matchesAPIKey(keys []string, credential string) bool {
	cred := []byte(credential)
	for _, key := range keys {
		if subtle.ConstantTimeCompare([]byte(key), cred) == 1 {
			return true
		}
	}
	return false
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "authentication_error",
		},
	})
}
