package config

import (
	"fmt"
	"time"
)

// SessionConfig configures conversation session storage.
type SessionConfig struct {
	// Backend selects the store: "memory" or "redis". Default: memory
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"title=Backend,enum=memory,enum=redis,default=memory"`

	// Redis connection settings, used when Backend is "redis".
	Redis RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`

	// MaxHistory is the number of turns kept per session.
	MaxHistory int `yaml:"max_history,omitempty" json:"max_history,omitempty"`

	// TTL is how long an idle session survives.
	TTL time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// SetDefaults applies default values to SessionConfig.
func (c *SessionConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Backend == "redis" && c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.MaxHistory == 0 {
		c.MaxHistory = 50
	}
	if c.TTL == 0 {
		c.TTL = 24 * time.Hour
	}
}

// Validate checks the SessionConfig.
func (c *SessionConfig) Validate() error {
	switch c.Backend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("invalid backend %q (valid: memory, redis)", c.Backend)
	}

	if c.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required for redis backend")
	}

	if c.MaxHistory < 1 {
		return fmt.Errorf("max_history must be at least 1, got %d", c.MaxHistory)
	}

	return nil
}

// UsageConfig configures usage accounting.
type UsageConfig struct {
	// Enabled turns usage recording on. Default: true
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Database holds the SQL connection for the usage store.
	Database DatabaseConfig `yaml:"database,omitempty" json:"database,omitempty"`

	// BufferSize is the pending-record channel capacity. Records are
	// written off the request path; a full buffer drops the record
	// rather than block a response.
	BufferSize int `yaml:"buffer_size,omitempty" json:"buffer_size,omitempty"`

	// FlushInterval bounds how long a record waits before being written.
	FlushInterval time.Duration `yaml:"flush_interval,omitempty" json:"flush_interval,omitempty"`
}

// SetDefaults applies default values to UsageConfig.
func (c *UsageConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Database == "" && (c.Database.Driver == "sqlite" || c.Database.Driver == "sqlite3") {
		c.Database.Database = "hearth_usage.db"
	}
	c.Database.SetDefaults()

	if c.BufferSize == 0 {
		c.BufferSize = 256
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = 5 * time.Second
	}
}

// Validate checks the UsageConfig.
func (c *UsageConfig) Validate() error {
	if !c.IsEnabled() {
		return nil
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.BufferSize < 1 {
		return fmt.Errorf("buffer_size must be at least 1, got %d", c.BufferSize)
	}

	return nil
}

// IsEnabled reports whether usage recording is on.
func (c *UsageConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
