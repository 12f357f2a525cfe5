// Package config defines the Hearth configuration model and loading
// pipeline. Configuration is loaded from a file (or a remote source such
// as Consul, etcd, or ZooKeeper), environment variables are expanded,
// defaults applied, and the result validated before the server starts.
package config

import "fmt"

// Config is the root configuration for a Hearth instance.
type Config struct {
	// Version of the config schema.
	Version string `yaml:"version,omitempty" json:"version,omitempty" jsonschema:"title=Version,description=Config schema version,default=1"`

	// Name identifies this instance in logs and traces.
	Name string `yaml:"name,omitempty" json:"name,omitempty" jsonschema:"title=Name,description=Instance name"`

	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server,omitempty" json:"server,omitempty"`

	// Gateway configures the query pipeline front door.
	Gateway GatewayConfig `yaml:"gateway,omitempty" json:"gateway,omitempty"`

	// Backends maps backend names to LLM backend configurations.
	Backends map[string]*BackendConfig `yaml:"backends,omitempty" json:"backends,omitempty"`

	// Router configures backend selection.
	Router RouterConfig `yaml:"router,omitempty" json:"router,omitempty"`

	// Resilience configures circuit breakers for upstream calls.
	Resilience ResilienceConfig `yaml:"resilience,omitempty" json:"resilience,omitempty"`

	// Cache configures the semantic response cache.
	Cache CacheConfig `yaml:"cache,omitempty" json:"cache,omitempty"`

	// Search configures web and event search.
	Search SearchConfig `yaml:"search,omitempty" json:"search,omitempty"`

	// SmartHome configures device command handling.
	SmartHome SmartHomeConfig `yaml:"smart_home,omitempty" json:"smart_home,omitempty"`

	// Admin configures the admin API sync (feature flags, TTLs, credentials).
	Admin AdminConfig `yaml:"admin,omitempty" json:"admin,omitempty"`

	// Session configures conversation session storage.
	Session SessionConfig `yaml:"session,omitempty" json:"session,omitempty"`

	// Usage configures usage accounting.
	Usage UsageConfig `yaml:"usage,omitempty" json:"usage,omitempty"`

	// Auth configures request authentication.
	Auth AuthConfig `yaml:"auth,omitempty" json:"auth,omitempty"`

	// Logging configures log output.
	Logging LoggerConfig `yaml:"logging,omitempty" json:"logging,omitempty"`

	// Observability configures tracing and metrics.
	Observability ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// SetDefaults applies defaults to the whole config tree.
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = "1"
	}
	if c.Name == "" {
		c.Name = "hearth"
	}

	if c.Backends == nil {
		c.Backends = make(map[string]*BackendConfig)
	}

	// A bare config gets a local Ollama backend so the server can start
	// without any cloud credentials.
	if len(c.Backends) == 0 {
		c.Backends["ollama"] = &BackendConfig{Provider: ProviderOllama}
	}

	for name, b := range c.Backends {
		if b == nil {
			b = &BackendConfig{}
			c.Backends[name] = b
		}
		b.SetDefaults(name)
	}

	c.Server.SetDefaults()
	c.Gateway.SetDefaults()
	c.Router.SetDefaults(c.Backends)
	c.Resilience.SetDefaults()
	c.Cache.SetDefaults()
	c.Search.SetDefaults()
	c.SmartHome.SetDefaults()
	c.Admin.SetDefaults()
	c.Session.SetDefaults()
	c.Usage.SetDefaults()
	c.Auth.SetDefaults()
	c.Logging.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks the whole config tree.
func (c *Config) Validate() error {
	for name, b := range c.Backends {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("backend %q: %w", name, err)
		}
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if err := c.Router.Validate(c.Backends); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	if err := c.Resilience.Validate(); err != nil {
		return fmt.Errorf("resilience: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if err := c.SmartHome.Validate(); err != nil {
		return fmt.Errorf("smart_home: %w", err)
	}
	if err := c.Admin.Validate(); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.Usage.Validate(); err != nil {
		return fmt.Errorf("usage: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}

	return nil
}

// Sanitized returns a deep copy with secrets redacted, suitable for the
// config inspection endpoint.
func (c *Config) Sanitized() *Config {
	out := *c

	out.Backends = make(map[string]*BackendConfig, len(c.Backends))
	for name, b := range c.Backends {
		cp := *b
		if cp.APIKey != "" {
			cp.APIKey = redacted
		}
		out.Backends[name] = &cp
	}

	if out.Cache.Redis.Password != "" {
		out.Cache.Redis.Password = redacted
	}
	if out.Session.Redis.Password != "" {
		out.Session.Redis.Password = redacted
	}
	if out.SmartHome.HomeAssistant.Token != "" {
		out.SmartHome.HomeAssistant.Token = redacted
	}
	if out.Admin.APIKey != "" {
		out.Admin.APIKey = redacted
	}
	if out.Usage.Database.Password != "" {
		out.Usage.Database.Password = redacted
	}
	if len(out.Auth.APIKeys) > 0 {
		out.Auth.APIKeys = []string{redacted}
	}

	out.Search.Providers = make(map[string]*SearchProviderConfig, len(c.Search.Providers))
	for name, p := range c.Search.Providers {
		cp := *p
		if cp.APIKey != "" {
			cp.APIKey = redacted
		}
		out.Search.Providers[name] = &cp
	}

	return &out
}

const redacted = "[REDACTED]"

// BoolPtr returns a pointer to b. Helper for optional bool fields.
func BoolPtr(b bool) *bool {
	return &b
}

// Float64Ptr returns a pointer to f. Helper for optional float fields.
func Float64Ptr(f float64) *float64 {
	return &f
}
