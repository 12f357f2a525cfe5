package config

import "fmt"

// CacheConfig configures the semantic response cache.
type CacheConfig struct {
	// Enabled turns the cache on. Default: true
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Backend selects the store: "memory" or "redis". Default: memory
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"title=Backend,enum=memory,enum=redis,default=memory"`

	// Redis connection settings, used when Backend is "redis".
	Redis RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`

	// MaxEntries bounds the in-memory store.
	MaxEntries int `yaml:"max_entries,omitempty" json:"max_entries,omitempty"`

	// DefaultLocation is the canonical location token assumed for
	// location-sensitive queries that do not name a place.
	DefaultLocation string `yaml:"default_location,omitempty" json:"default_location,omitempty"`

	// TTL overrides per query category, in seconds. Categories not
	// listed use built-in defaults; the admin API can override both.
	TTL map[string]int `yaml:"ttl,omitempty" json:"ttl,omitempty"`

	// Similarity configures the optional embedding-based lookup layer.
	Similarity SimilarityConfig `yaml:"similarity,omitempty" json:"similarity,omitempty"`
}

// SimilarityConfig configures embedding-based near-match cache lookup.
// Exact-match lookup always runs; this layer only adds a second chance
// and is gated behind a feature flag at runtime.
type SimilarityConfig struct {
	// Threshold is the minimum cosine similarity for a near match.
	Threshold float32 `yaml:"threshold,omitempty" json:"threshold,omitempty"`

	// Embedder names the backend used to embed queries. Must be a
	// configured local backend; empty disables the layer.
	Embedder string `yaml:"embedder,omitempty" json:"embedder,omitempty"`

	// EmbeddingModel overrides the embedder's default model.
	EmbeddingModel string `yaml:"embedding_model,omitempty" json:"embedding_model,omitempty"`

	// MaxEntries bounds the vector store.
	MaxEntries int `yaml:"max_entries,omitempty" json:"max_entries,omitempty"`
}

// RedisConfig configures a Redis connection.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty"`

	// Password for AUTH, if required.
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// DB selects the Redis logical database.
	DB int `yaml:"db,omitempty" json:"db,omitempty"`
}

// SetDefaults applies default values to CacheConfig.
func (c *CacheConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Backend == "redis" && c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = 4096
	}
	if c.DefaultLocation == "" {
		c.DefaultLocation = "home"
	}
	if c.Similarity.Threshold == 0 {
		c.Similarity.Threshold = 0.85
	}
	if c.Similarity.MaxEntries == 0 {
		c.Similarity.MaxEntries = 2048
	}
}

// Validate checks the CacheConfig.
func (c *CacheConfig) Validate() error {
	switch c.Backend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("invalid backend %q (valid: memory, redis)", c.Backend)
	}

	if c.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required for redis backend")
	}

	for category, ttl := range c.TTL {
		if ttl < 0 {
			return fmt.Errorf("ttl for %q must be non-negative, got %d", category, ttl)
		}
	}

	if c.Similarity.Threshold < 0 || c.Similarity.Threshold > 1 {
		return fmt.Errorf("similarity.threshold must be between 0 and 1")
	}

	return nil
}

// IsEnabled reports whether the cache is on.
func (c *CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
