package llms

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/faults"
	"github.com/hearthd/hearth/pkg/httpclient"
	"github.com/hearthd/hearth/pkg/registry"
)

// Provider is one LLM backend speaking its native wire format.
type Provider interface {
	// Generate performs a blocking completion.
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (*Result, error)

	// GenerateStreaming starts a completion and yields chunks as the
	// backend produces them. The channel is closed after the terminal
	// ChunkDone or ChunkError item.
	GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (<-chan StreamChunk, error)

	// ModelName is the concrete model identifier requests are sent with.
	ModelName() string

	// ProviderName identifies the wire format.
	ProviderName() config.Provider

	Close() error
}

// Embedder is implemented by providers that can embed text (OpenAI and
// Ollama). The cache similarity layer uses it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ProviderRegistry holds constructed providers keyed by backend name.
type ProviderRegistry struct {
	*registry.BaseRegistry[Provider]
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{BaseRegistry: registry.NewBaseRegistry[Provider]()}
}

// NewProvider constructs the provider matching cfg.Provider.
func NewProvider(cfg *config.BackendConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend config is required")
	}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case config.ProviderAnthropic:
		return NewAnthropicProvider(cfg)
	case config.ProviderGoogle:
		return NewGeminiProvider(cfg)
	case config.ProviderOllama:
		return NewOllamaProvider(cfg)
	case config.ProviderLlamaCpp:
		return NewLlamaCppProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider %q (supported: openai, anthropic, google, ollama, llamacpp)", cfg.Provider)
	}
}

// newBackendHTTPClient builds the retrying client used for provider
// calls. Streaming requests pass through the same client; the request
// context bounds them instead of the client timeout.
func newBackendHTTPClient(cfg *config.BackendConfig) *httpclient.Client {
	return httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithMaxRetries(1),
		httpclient.WithBaseDelay(500*time.Millisecond),
	)
}

// newStreamingHTTPClient builds a client without a fixed timeout so
// long-lived token streams are bounded only by the caller's context.
func newStreamingHTTPClient() *httpclient.Client {
	return httpclient.New(
		httpclient.WithHTTPClient(&http.Client{}),
		httpclient.WithMaxRetries(0),
	)
}

// checkHTTPResponse classifies a non-2xx provider response into the
// fault taxonomy and includes a bounded slice of the body for logs.
func checkHTTPResponse(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return faults.Upstream(provider, resp.StatusCode, fmt.Errorf("%s", string(body)))
}

// resolvedTemperature applies the request override, then the backend
// default.
func resolvedTemperature(cfg *config.BackendConfig, opts Options) float64 {
	if opts.Temperature != nil {
		return *opts.Temperature
	}
	if cfg.Temperature != nil {
		return *cfg.Temperature
	}
	return 0.7
}

// resolvedMaxTokens applies the request override, then the backend
// default.
func resolvedMaxTokens(cfg *config.BackendConfig, opts Options) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return cfg.MaxTokens
}
