package config

import (
	"fmt"
	"os"
	"time"
)

// SearchConfig configures web and event search.
type SearchConfig struct {
	// Enabled turns search context gathering on. Default: true
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Timeout bounds the whole fan-out. Overridable via SEARCH_TIMEOUT
	// (seconds). Default: 3s
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// ProviderTimeout bounds each provider call inside Timeout.
	// Default: 2500ms
	ProviderTimeout time.Duration `yaml:"provider_timeout,omitempty" json:"provider_timeout,omitempty"`

	// DedupThreshold is the title similarity above which two results
	// are considered duplicates during fusion.
	DedupThreshold float64 `yaml:"dedup_threshold,omitempty" json:"dedup_threshold,omitempty"`

	// MinConfidence drops fused results scoring below it. Default: 0.3
	MinConfidence float64 `yaml:"min_confidence,omitempty" json:"min_confidence,omitempty"`

	// MaxResults caps the fused result list.
	MaxResults int `yaml:"max_results,omitempty" json:"max_results,omitempty"`

	// RAGOwnedIntents are answered by the dedicated retrieval service;
	// search returns empty for them unless the caller forces it.
	// Default: [weather, sports]
	RAGOwnedIntents []string `yaml:"rag_owned_intents,omitempty" json:"rag_owned_intents,omitempty"`

	// IntentProviders orders providers per intent. Intents not listed
	// fall back to a built-in table.
	IntentProviders map[string][]string `yaml:"intent_providers,omitempty" json:"intent_providers,omitempty"`

	// Providers maps provider names to their settings. Known names:
	// duckduckgo, brave, searxng, ticketmaster, eventbrite.
	Providers map[string]*SearchProviderConfig `yaml:"providers,omitempty" json:"providers,omitempty"`
}

// SearchProviderConfig configures one search provider.
type SearchProviderConfig struct {
	// Enabled turns the provider on. Default: true when configured.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// APIKey for providers that need one (brave, ticketmaster, eventbrite).
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// BaseURL overrides the provider endpoint (required for searxng).
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}

// IsEnabled reports whether the provider is on.
func (c *SearchProviderConfig) IsEnabled() bool {
	return c != nil && (c.Enabled == nil || *c.Enabled)
}

// SetDefaults applies default values to SearchConfig.
func (c *SearchConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}

	if c.Timeout == 0 {
		c.Timeout = time.Duration(envInt("SEARCH_TIMEOUT", 3)) * time.Second
	}
	if c.ProviderTimeout == 0 {
		c.ProviderTimeout = 2500 * time.Millisecond
	}
	if c.DedupThreshold == 0 {
		c.DedupThreshold = 0.7
	}
	if c.MinConfidence == 0 {
		c.MinConfidence = 0.3
	}
	if c.MaxResults == 0 {
		c.MaxResults = 8
	}
	if c.RAGOwnedIntents == nil {
		c.RAGOwnedIntents = []string{"weather", "sports"}
	}

	if c.Providers == nil {
		c.Providers = make(map[string]*SearchProviderConfig)
	}

	// DuckDuckGo needs no credentials, so it is always available.
	if _, ok := c.Providers["duckduckgo"]; !ok {
		c.Providers["duckduckgo"] = &SearchProviderConfig{}
	}

	// Keyed providers join automatically when their key is in the
	// environment.
	envKeys := map[string]string{
		"brave":        "BRAVE_API_KEY",
		"ticketmaster": "TICKETMASTER_API_KEY",
		"eventbrite":   "EVENTBRITE_API_KEY",
	}
	for name, envVar := range envKeys {
		p, ok := c.Providers[name]
		if !ok {
			if key := os.Getenv(envVar); key != "" {
				c.Providers[name] = &SearchProviderConfig{APIKey: key}
			}
			continue
		}
		if p.APIKey == "" {
			p.APIKey = os.Getenv(envVar)
		}
	}
}

// Validate checks the SearchConfig.
func (c *SearchConfig) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	if c.DedupThreshold < 0 || c.DedupThreshold > 1 {
		return fmt.Errorf("dedup_threshold must be between 0 and 1, got %f", c.DedupThreshold)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %f", c.MinConfidence)
	}
	if c.MaxResults < 1 {
		return fmt.Errorf("max_results must be at least 1, got %d", c.MaxResults)
	}

	for intent, names := range c.IntentProviders {
		for _, name := range names {
			switch name {
			case "duckduckgo", "brave", "searxng", "ticketmaster", "eventbrite":
			default:
				return fmt.Errorf("intent %q routes to unknown provider %q", intent, name)
			}
		}
	}

	for name, p := range c.Providers {
		switch name {
		case "duckduckgo":
		case "brave", "ticketmaster", "eventbrite":
			if p.IsEnabled() && p.APIKey == "" {
				return fmt.Errorf("provider %q requires api_key", name)
			}
		case "searxng":
			if p.IsEnabled() && p.BaseURL == "" {
				return fmt.Errorf("provider searxng requires base_url")
			}
		default:
			return fmt.Errorf("unknown search provider %q (valid: duckduckgo, brave, searxng, ticketmaster, eventbrite)", name)
		}
	}

	return nil
}

// IsEnabled reports whether search is on.
func (c *SearchConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
