package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Host to bind to. Default: 0.0.0.0
	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"title=Host,description=Bind address,default=0.0.0.0"`

	// Port to listen on. Default: 8080
	Port int `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"title=Port,description=Listen port,minimum=1,maximum=65535,default=8080"`

	// ReadTimeout for incoming requests.
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`

	// WriteTimeout for responses. Zero disables the write deadline, which
	// streaming responses require.
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`

	// IdleTimeout for keep-alive connections.
	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty" json:"idle_timeout,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty" json:"shutdown_timeout,omitempty"`
}

// SetDefaults applies default values to ServerConfig.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	// WriteTimeout stays zero: SSE streams outlive any fixed deadline.
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
}

// Validate checks the ServerConfig.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// Address returns the listen address in host:port form.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GatewayConfig configures the query pipeline front door: admission
// control and acknowledgement streaming.
type GatewayConfig struct {
	// RateLimitRPM is the admission rate in requests per minute.
	// The token bucket holds twice this many tokens. -1 disables
	// admission control entirely.
	// Overridable via RATE_LIMIT_RPM. Default: 60
	RateLimitRPM int `yaml:"rate_limit_rpm,omitempty" json:"rate_limit_rpm,omitempty" jsonschema:"title=Rate Limit RPM,description=Requests per minute admitted (-1 disables),default=60"`

	// AckEnabled turns on immediate acknowledgement chunks for streamed
	// responses while the pipeline works.
	AckEnabled *bool `yaml:"ack_enabled,omitempty" json:"ack_enabled,omitempty"`

	// StreamBuffer is the chunk channel capacity per streamed response.
	StreamBuffer int `yaml:"stream_buffer,omitempty" json:"stream_buffer,omitempty"`

	// DefaultRoom is assumed when a request carries no room hint.
	DefaultRoom string `yaml:"default_room,omitempty" json:"default_room,omitempty"`
}

// SetDefaults applies default values to GatewayConfig.
func (c *GatewayConfig) SetDefaults() {
	if c.RateLimitRPM == 0 {
		c.RateLimitRPM = envInt("RATE_LIMIT_RPM", 60)
	}
	if c.AckEnabled == nil {
		c.AckEnabled = BoolPtr(true)
	}
	if c.StreamBuffer == 0 {
		c.StreamBuffer = 64
	}
}

// Validate checks the GatewayConfig.
func (c *GatewayConfig) Validate() error {
	if c.RateLimitRPM < -1 {
		return fmt.Errorf("rate_limit_rpm must be -1, 0, or positive, got %d", c.RateLimitRPM)
	}
	if c.StreamBuffer < 1 {
		return fmt.Errorf("stream_buffer must be at least 1, got %d", c.StreamBuffer)
	}
	return nil
}

// IsAckEnabled reports whether acknowledgement streaming is on.
func (c *GatewayConfig) IsAckEnabled() bool {
	return c.AckEnabled == nil || *c.AckEnabled
}

// ResilienceConfig configures the circuit breakers wrapped around
// upstream backends.
type ResilienceConfig struct {
	// FailureThreshold is the consecutive failure count that opens a breaker.
	// Overridable via CIRCUIT_BREAKER_FAILURE_THRESHOLD. Default: 5
	FailureThreshold int `yaml:"failure_threshold,omitempty" json:"failure_threshold,omitempty" jsonschema:"title=Failure Threshold,description=Consecutive failures before the breaker opens,minimum=1,default=5"`

	// RecoverySeconds is how long an open breaker waits before probing.
	// Overridable via CIRCUIT_BREAKER_RECOVERY_SECONDS. Default: 30
	RecoverySeconds int `yaml:"recovery_seconds,omitempty" json:"recovery_seconds,omitempty" jsonschema:"title=Recovery Seconds,description=Seconds before an open breaker allows a probe,minimum=1,default=30"`
}

// SetDefaults applies default values to ResilienceConfig.
func (c *ResilienceConfig) SetDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = envInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5)
	}
	if c.RecoverySeconds == 0 {
		c.RecoverySeconds = envInt("CIRCUIT_BREAKER_RECOVERY_SECONDS", 30)
	}
}

// Validate checks the ResilienceConfig.
func (c *ResilienceConfig) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.RecoverySeconds < 1 {
		return fmt.Errorf("recovery_seconds must be at least 1, got %d", c.RecoverySeconds)
	}
	return nil
}

// RecoveryTimeout returns the recovery window as a duration.
func (c *ResilienceConfig) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoverySeconds) * time.Second
}

// envInt returns the integer value of an environment variable, or the
// fallback when unset or unparsable.
func envInt(name string, fallback int) int {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}

// envStr returns the value of an environment variable, or the fallback
// when unset.
func envStr(name, fallback string) string {
	if raw := os.Getenv(name); raw != "" {
		return raw
	}
	return fallback
}
