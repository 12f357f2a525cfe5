package config

import (
	"fmt"
	"os"
	"time"
)

// AdminConfig configures synchronization with the admin API, which owns
// feature flags, cache TTL overrides, and provider credentials.
type AdminConfig struct {
	// APIURL is the base URL of the admin API. Empty disables sync and
	// the instance runs on local config alone.
	// Overridable via ADMIN_API_URL.
	APIURL string `yaml:"api_url,omitempty" json:"api_url,omitempty"`

	// APIKey authenticates calls to the admin API.
	// Overridable via ADMIN_API_KEY.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// PollInterval is how often flags and TTL overrides are refreshed.
	PollInterval time.Duration `yaml:"poll_interval,omitempty" json:"poll_interval,omitempty"`

	// CredentialCacheTTL is how long fetched provider credentials stay
	// cached before re-fetch. Default: 5m
	CredentialCacheTTL time.Duration `yaml:"credential_cache_ttl,omitempty" json:"credential_cache_ttl,omitempty"`

	// Timeout for a single admin API call.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// SetDefaults applies default values to AdminConfig.
func (c *AdminConfig) SetDefaults() {
	if c.APIURL == "" {
		c.APIURL = os.Getenv("ADMIN_API_URL")
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("ADMIN_API_KEY")
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Minute
	}
	if c.CredentialCacheTTL == 0 {
		c.CredentialCacheTTL = 5 * time.Minute
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Validate checks the AdminConfig.
func (c *AdminConfig) Validate() error {
	if c.APIURL == "" {
		return nil // Sync disabled
	}

	if c.PollInterval < time.Second {
		return fmt.Errorf("poll_interval must be at least 1s")
	}
	if c.CredentialCacheTTL < time.Second {
		return fmt.Errorf("credential_cache_ttl must be at least 1s")
	}

	return nil
}

// IsEnabled reports whether admin sync is configured.
func (c *AdminConfig) IsEnabled() bool {
	return c.APIURL != ""
}
