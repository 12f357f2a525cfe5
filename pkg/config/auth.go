package config

import (
	"fmt"
	"time"
)

// AuthConfig configures request authentication.
//
// Authentication is disabled by default. When enabled, requests must
// carry either a static API key or a valid JWT. Health checks and
// metrics stay open.
//
// Example configuration:
//
//	auth:
//	  enabled: true
//	  api_keys:
//	    - "${HEARTH_API_KEY}"
//	  jwt:
//	    jwks_url: "https://auth.example.com/.well-known/jwks.json"
//	    issuer: "https://auth.example.com"
//	    audience: "hearth-api"
type AuthConfig struct {
	// Enabled controls whether authentication is required.
	// Default: false
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// APIKeys are accepted as bearer tokens or X-API-Key headers.
	APIKeys []string `yaml:"api_keys,omitempty" json:"api_keys,omitempty"`

	// JWT configures JWKS-based token validation. Optional; static
	// keys alone are fine for LAN deployments.
	JWT *JWTConfig `yaml:"jwt,omitempty" json:"jwt,omitempty"`

	// ExcludedPaths are paths that don't require authentication.
	// Default: health, liveness, readiness, startup, and metrics.
	ExcludedPaths []string `yaml:"excluded_paths,omitempty" json:"excluded_paths,omitempty"`
}

// JWTConfig configures JWT validation against a JWKS endpoint.
type JWTConfig struct {
	// JWKSURL is the URL to fetch the JSON Web Key Set from.
	JWKSURL string `yaml:"jwks_url,omitempty" json:"jwks_url,omitempty"`

	// Issuer is the expected token issuer (iss claim).
	Issuer string `yaml:"issuer,omitempty" json:"issuer,omitempty"`

	// Audience is the expected token audience (aud claim).
	Audience string `yaml:"audience,omitempty" json:"audience,omitempty"`

	// RefreshInterval is how often to refresh the JWKS.
	// Default: 15m
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty" json:"refresh_interval,omitempty"`
}

// SetDefaults applies default values to AuthConfig.
func (c *AuthConfig) SetDefaults() {
	if len(c.ExcludedPaths) == 0 {
		c.ExcludedPaths = []string{
			"/health",
			"/health/live",
			"/health/ready",
			"/health/startup",
			"/metrics",
		}
	}

	if c.JWT != nil && c.JWT.RefreshInterval == 0 {
		c.JWT.RefreshInterval = 15 * time.Minute
	}
}

// Validate checks the AuthConfig for errors.
func (c *AuthConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if len(c.APIKeys) == 0 && c.JWT == nil {
		return fmt.Errorf("auth enabled but no api_keys or jwt configured")
	}

	if c.JWT != nil {
		if c.JWT.JWKSURL == "" {
			return fmt.Errorf("jwt.jwks_url is required")
		}
		if c.JWT.Issuer == "" {
			return fmt.Errorf("jwt.issuer is required")
		}
		if c.JWT.Audience == "" {
			return fmt.Errorf("jwt.audience is required")
		}
		if c.JWT.RefreshInterval < time.Minute {
			return fmt.Errorf("jwt.refresh_interval must be at least 1 minute")
		}
	}

	return nil
}

// IsEnabled returns true if authentication is configured and enabled.
func (c *AuthConfig) IsEnabled() bool {
	return c != nil && c.Enabled
}
