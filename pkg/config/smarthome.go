package config

import (
	"fmt"
	"os"
	"time"
)

// SmartHomeConfig configures device command handling.
type SmartHomeConfig struct {
	// Enabled turns the smart-home fast path on. Default: true when a
	// Home Assistant URL is configured.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// HomeAssistant is the controller connection.
	HomeAssistant HomeAssistantConfig `yaml:"home_assistant,omitempty" json:"home_assistant,omitempty"`

	// Exclusions lists phrases that must never be treated as device
	// commands even when they look like one.
	Exclusions []string `yaml:"exclusions,omitempty" json:"exclusions,omitempty"`

	// LLMFallback enables parsing ambiguous commands with a local LLM
	// when the rule engine can't resolve them.
	LLMFallback *bool `yaml:"llm_fallback,omitempty" json:"llm_fallback,omitempty"`

	// FallbackBackend names the backend used for LLM fallback parsing.
	// Empty picks the first local backend.
	FallbackBackend string `yaml:"fallback_backend,omitempty" json:"fallback_backend,omitempty"`

	// RoomGroups maps logical group names to member rooms, so
	// "downstairs" can fan out to several rooms at once.
	RoomGroups map[string][]string `yaml:"room_groups,omitempty" json:"room_groups,omitempty"`

	// DefaultRoom is targeted when a command names no room and the
	// request carries no room context.
	DefaultRoom string `yaml:"default_room,omitempty" json:"default_room,omitempty"`
}

// HomeAssistantConfig configures the Home Assistant connection.
type HomeAssistantConfig struct {
	// BaseURL of the Home Assistant instance, e.g. "http://homeassistant.local:8123".
	// Overridable via HOME_ASSISTANT_URL.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Token is a long-lived access token.
	// Overridable via HOME_ASSISTANT_TOKEN.
	Token string `yaml:"token,omitempty" json:"token,omitempty"`

	// Timeout for a single service call.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// InsecureSkipVerify allows self-signed certificates, common on
	// LAN installs.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty"`
}

// SetDefaults applies default values to SmartHomeConfig.
func (c *SmartHomeConfig) SetDefaults() {
	if c.HomeAssistant.BaseURL == "" {
		c.HomeAssistant.BaseURL = os.Getenv("HOME_ASSISTANT_URL")
	}
	if c.HomeAssistant.Token == "" {
		c.HomeAssistant.Token = os.Getenv("HOME_ASSISTANT_TOKEN")
	}
	if c.HomeAssistant.Timeout == 0 {
		c.HomeAssistant.Timeout = 5 * time.Second
	}

	if c.Enabled == nil {
		c.Enabled = BoolPtr(c.HomeAssistant.BaseURL != "")
	}
	if c.LLMFallback == nil {
		c.LLMFallback = BoolPtr(true)
	}
	if c.RoomGroups == nil {
		c.RoomGroups = map[string][]string{
			"downstairs": {"living_room", "kitchen", "dining_room"},
			"upstairs":   {"bedroom", "office", "bathroom"},
		}
	}
}

// Validate checks the SmartHomeConfig.
func (c *SmartHomeConfig) Validate() error {
	if !c.IsEnabled() {
		return nil
	}

	if c.HomeAssistant.BaseURL == "" {
		return fmt.Errorf("home_assistant.base_url is required when smart home is enabled")
	}
	if c.HomeAssistant.Token == "" {
		return fmt.Errorf("home_assistant.token is required when smart home is enabled")
	}

	return nil
}

// IsEnabled reports whether the smart-home path is on.
func (c *SmartHomeConfig) IsEnabled() bool {
	return c.Enabled != nil && *c.Enabled
}

// IsLLMFallbackEnabled reports whether ambiguous commands fall through
// to an LLM parser.
func (c *SmartHomeConfig) IsLLMFallbackEnabled() bool {
	return c.LLMFallback == nil || *c.LLMFallback
}
