package llms

import (
	"strings"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/faults"
)

// NewLlamaCppProvider builds a provider for a llama.cpp server, which
// exposes an OpenAI-compatible surface under /v1. No API key is
// required for a local server.
func NewLlamaCppProvider(cfg *config.BackendConfig) (*OpenAIProvider, error) {
	if cfg.Host == "" {
		return nil, faults.New(faults.KindProviderNotConfigured, "llamacpp host is missing")
	}

	adjusted := *cfg
	adjusted.Host = strings.TrimSuffix(adjusted.Host, "/")
	if !strings.HasSuffix(adjusted.Host, "/v1") {
		adjusted.Host += "/v1"
	}

	return newOpenAICompatProvider(&adjusted, config.ProviderLlamaCpp), nil
}
