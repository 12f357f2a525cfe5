package config

import (
	"fmt"
	"time"
)

// Provider identifies an LLM backend provider type.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
	ProviderOllama    Provider = "ollama"
	ProviderLlamaCpp  Provider = "llamacpp"
)

// IsLocal reports whether the provider runs on-box. Local calls carry
// no per-token cost.
func (p Provider) IsLocal() bool {
	return p == ProviderOllama || p == ProviderLlamaCpp
}

// BackendType names a routing target as requests express it. It is
// distinct from Provider: a backend type is what callers ask for, a
// provider is how the backend speaks.
type BackendType string

const (
	BackendLocalA         BackendType = "local_inference_a"
	BackendLocalB         BackendType = "local_inference_b"
	BackendProviderOpenAI BackendType = "provider_openai"
	BackendProviderClaude BackendType = "provider_anthropic"
	BackendProviderGoogle BackendType = "provider_google"
	BackendAuto           BackendType = "auto"
)

// ParseBackendType converts a string into a BackendType.
func ParseBackendType(s string) (BackendType, error) {
	switch BackendType(s) {
	case BackendLocalA, BackendLocalB, BackendProviderOpenAI,
		BackendProviderClaude, BackendProviderGoogle, BackendAuto:
		return BackendType(s), nil
	case "":
		return BackendAuto, nil
	default:
		return "", fmt.Errorf("unknown backend type %q", s)
	}
}

// ProviderFor maps a backend type to the provider that serves it.
// BackendAuto has no fixed provider and returns "".
func (t BackendType) ProviderFor() Provider {
	switch t {
	case BackendLocalA:
		return ProviderOllama
	case BackendLocalB:
		return ProviderLlamaCpp
	case BackendProviderOpenAI:
		return ProviderOpenAI
	case BackendProviderClaude:
		return ProviderAnthropic
	case BackendProviderGoogle:
		return ProviderGoogle
	default:
		return ""
	}
}

// BackendConfig configures a single LLM backend.
type BackendConfig struct {
	// Provider type (openai, anthropic, google, ollama, llamacpp).
	Provider Provider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=LLM provider,enum=openai,enum=anthropic,enum=google,enum=ollama,enum=llamacpp"`

	// Model name (e.g., "gpt-4o-mini", "claude-3-5-haiku-20241022", "llama3.2").
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Model identifier"`

	// APIKey for authentication. Supports ${VAR} expansion. Local
	// backends don't need one.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key (use ${ENV_VAR})"`

	// Host overrides the default API endpoint.
	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"title=Host,description=Custom base URL"`

	// Temperature for generation.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"title=Temperature,minimum=0,maximum=2,default=0.7"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"title=Max Tokens,minimum=1,default=1024"`

	// KeepAliveSeconds controls model residency for local backends:
	// -1 keeps the model loaded indefinitely, 0 unloads after each
	// request, >0 unloads after that many idle seconds. Advisory for
	// backends that don't manage residency.
	KeepAliveSeconds *int `yaml:"keep_alive_seconds,omitempty" json:"keep_alive_seconds,omitempty" jsonschema:"title=Keep Alive Seconds,description=Model residency: -1 forever 0 unload immediately >0 idle seconds"`

	// Timeout for a single completion call.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// SetDefaults applies defaults. The map key the backend was registered
// under doubles as the provider name when none is set.
func (c *BackendConfig) SetDefaults(name string) {
	if c.Provider == "" {
		switch name {
		case "openai", "anthropic", "google", "ollama", "llamacpp":
			c.Provider = Provider(name)
		default:
			c.Provider = ProviderOllama
		}
	}

	if c.Model == "" {
		switch c.Provider {
		case ProviderOpenAI:
			c.Model = "gpt-4o-mini"
		case ProviderAnthropic:
			c.Model = "claude-3-5-haiku-20241022"
		case ProviderGoogle:
			c.Model = "gemini-2.0-flash"
		case ProviderOllama:
			c.Model = "llama3.2"
		case ProviderLlamaCpp:
			c.Model = "default"
		}
	}

	// Local endpoints are overridable via OLLAMA_URL and LLAMACPP_URL.
	if c.Host == "" {
		switch c.Provider {
		case ProviderOpenAI:
			c.Host = "https://api.openai.com/v1"
		case ProviderAnthropic:
			c.Host = "https://api.anthropic.com"
		case ProviderGoogle:
			c.Host = "https://generativelanguage.googleapis.com"
		case ProviderOllama:
			c.Host = envStr("OLLAMA_URL", "http://localhost:11434")
		case ProviderLlamaCpp:
			c.Host = envStr("LLAMACPP_URL", "http://localhost:8081")
		}
	}

	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(string(c.Provider))
	}

	if c.Temperature == nil {
		c.Temperature = Float64Ptr(0.7)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
	if c.KeepAliveSeconds == nil && c.IsLocal() {
		keep := -1
		c.KeepAliveSeconds = &keep
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
}

// Validate checks the BackendConfig.
func (c *BackendConfig) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle, ProviderOllama, ProviderLlamaCpp:
	default:
		return fmt.Errorf("invalid provider %q (valid: openai, anthropic, google, ollama, llamacpp)", c.Provider)
	}

	// Local backends run without credentials.
	if !c.IsLocal() && c.APIKey == "" {
		return fmt.Errorf("api_key is required for provider %q", c.Provider)
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	if c.KeepAliveSeconds != nil && *c.KeepAliveSeconds < -1 {
		return fmt.Errorf("keep_alive_seconds must be -1, 0, or positive")
	}

	return nil
}

// IsLocal reports whether the backend runs on-box.
func (c *BackendConfig) IsLocal() bool {
	return c.Provider == ProviderOllama || c.Provider == ProviderLlamaCpp
}

// KeepAlive returns the residency hint, defaulting to keep-forever.
func (c *BackendConfig) KeepAlive() int {
	if c.KeepAliveSeconds == nil {
		return -1
	}
	return *c.KeepAliveSeconds
}

// PriceConfig is the price pair for one model, in USD per million tokens.
type PriceConfig struct {
	InputPer1M  float64 `yaml:"input_per_1m,omitempty" json:"input_per_1m,omitempty" jsonschema:"title=Input price per 1M tokens,minimum=0"`
	OutputPer1M float64 `yaml:"output_per_1m,omitempty" json:"output_per_1m,omitempty" jsonschema:"title=Output price per 1M tokens,minimum=0"`
}

// RouterConfig configures backend selection.
type RouterConfig struct {
	// DefaultBackend is the backend type used when a request names none.
	DefaultBackend BackendType `yaml:"default_backend,omitempty" json:"default_backend,omitempty" jsonschema:"title=Default Backend,enum=local_inference_a,enum=local_inference_b,enum=provider_openai,enum=provider_anthropic,enum=provider_google,enum=auto,default=auto"`

	// AutoOrder lists backend names in preference order for auto routing.
	AutoOrder []string `yaml:"auto_order,omitempty" json:"auto_order,omitempty"`

	// MetricsWindow is how many recent calls feed per-backend latency stats.
	MetricsWindow int `yaml:"metrics_window,omitempty" json:"metrics_window,omitempty"`

	// Pricing overrides the built-in provider price tables, keyed
	// provider then model.
	Pricing map[string]map[string]PriceConfig `yaml:"pricing,omitempty" json:"pricing,omitempty"`
}

// SetDefaults applies defaults. Auto order prefers whichever local
// backends are configured, then the cloud ones.
func (c *RouterConfig) SetDefaults(backends map[string]*BackendConfig) {
	if c.DefaultBackend == "" {
		c.DefaultBackend = BackendAuto
	}
	if c.MetricsWindow == 0 {
		c.MetricsWindow = 256
	}

	if len(c.AutoOrder) == 0 {
		for _, name := range []string{"ollama", "llamacpp", "openai", "anthropic", "google"} {
			if _, ok := backends[name]; ok {
				c.AutoOrder = append(c.AutoOrder, name)
			}
		}
	}
}

// Validate checks the RouterConfig against the configured backends.
func (c *RouterConfig) Validate(backends map[string]*BackendConfig) error {
	if _, err := ParseBackendType(string(c.DefaultBackend)); err != nil {
		return err
	}

	for _, name := range c.AutoOrder {
		if _, ok := backends[name]; !ok {
			return fmt.Errorf("auto_order references unknown backend %q", name)
		}
	}

	if c.MetricsWindow < 1 {
		return fmt.Errorf("metrics_window must be at least 1, got %d", c.MetricsWindow)
	}

	for provider, models := range c.Pricing {
		for model, price := range models {
			if price.InputPer1M < 0 || price.OutputPer1M < 0 {
				return fmt.Errorf("pricing for %s/%s must not be negative", provider, model)
			}
		}
	}

	return nil
}
