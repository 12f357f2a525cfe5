// Package adminconfig reads dynamic configuration from the admin API:
// feature flags, backend descriptors, model configs, intent routing,
// component-model assignments and provider credentials. Reads are
// TTL-cached; the admin surface pushes invalidations after writes.
package adminconfig

import "encoding/json"

// FeatureFlag is one admin-owned feature switch. Flags marked Required
// are security-critical and never served from the local cache.
type FeatureFlag struct {
	Name     string          `json:"name"`
	Enabled  bool            `json:"enabled"`
	Category string          `json:"category,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`
	Required bool            `json:"required,omitempty"`
}

// Well-known flag names consulted by the pipeline.
const (
	FlagSemanticCache           = "semantic_cache"
	FlagSemanticCacheSimilarity = "semantic_cache_similarity"
	FlagParallelSearch          = "parallel_search"
	FlagLLMIntentClassifier     = "llm_intent_classifier"
	FlagSmartHomeLLMFallback    = "smart_home_llm_fallback"
	FlagRoomDetectionCache      = "room_detection_cache"
)

// fallbackFlags let the process boot degraded when the admin API is
// unreachable. Core paths stay on, experimental paths stay off.
var fallbackFlags = map[string]FeatureFlag{
	FlagSemanticCache:           {Name: FlagSemanticCache, Enabled: true, Category: "performance"},
	FlagSemanticCacheSimilarity: {Name: FlagSemanticCacheSimilarity, Enabled: false, Category: "performance"},
	FlagParallelSearch:          {Name: FlagParallelSearch, Enabled: true, Category: "search"},
	FlagLLMIntentClassifier:     {Name: FlagLLMIntentClassifier, Enabled: false, Category: "routing"},
	FlagSmartHomeLLMFallback:    {Name: FlagSmartHomeLLMFallback, Enabled: true, Category: "smart_home"},
	FlagRoomDetectionCache:      {Name: FlagRoomDetectionCache, Enabled: true, Category: "latency"},
}

// BackendDescriptor is a routable backend as the admin store sees it.
type BackendDescriptor struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Host     string `json:"host,omitempty"`
	Enabled  bool   `json:"enabled"`
	Priority int    `json:"priority,omitempty"`
}

// ModelConfig is a named generation parameter set assignable to
// components.
type ModelConfig struct {
	Name        string   `json:"name"`
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// IntentRoute maps a classified intent to the backend serving it.
type IntentRoute struct {
	Intent   string `json:"intent"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// ComponentAssignment binds a pipeline component (classifier, cache
// embedder, smart-home fallback, ...) to a model config by name.
type ComponentAssignment struct {
	Component string `json:"component"`
	Model     string `json:"model"`
}

// Credential is a decrypted provider API key. It only ever transits
// the trusted admin channel and the in-process cache.
type Credential struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
}
