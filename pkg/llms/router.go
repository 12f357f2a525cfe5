package llms

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/faults"
	"github.com/hearthd/hearth/pkg/observability"
	"github.com/hearthd/hearth/pkg/usage"
)

// CredentialSource supplies provider API keys at call time. The admin
// config plane implements this; keys configured locally win over it.
type CredentialSource interface {
	ProviderAPIKey(ctx context.Context, provider config.Provider) (string, bool)
}

// Router owns every outbound LLM call. It resolves a requested model to
// a configured backend, falls through the auto order on failure,
// accounts cost for cloud calls and keeps a rolling latency window.
type Router struct {
	mu        sync.RWMutex
	backends  map[string]*config.BackendConfig
	routerCfg config.RouterConfig
	providers map[string]Provider

	// dynamic holds cloud providers created for provider/model requests
	// that no configured backend covers.
	dynMu   sync.Mutex
	dynamic map[string]Provider

	prices   *PriceTable
	window   *MetricsWindow
	recorder usage.Recorder
	creds    CredentialSource
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithRecorder sets the usage record sink.
func WithRecorder(rec usage.Recorder) RouterOption {
	return func(r *Router) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithCredentialSource sets the fallback API key source for cloud
// providers with no locally configured key.
func WithCredentialSource(cs CredentialSource) RouterOption {
	return func(r *Router) { r.creds = cs }
}

// NewRouter constructs providers for every configured backend.
func NewRouter(cfg *config.Config, opts ...RouterOption) (*Router, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	r := &Router{
		backends:  cfg.Backends,
		routerCfg: cfg.Router,
		providers: make(map[string]Provider),
		dynamic:   make(map[string]Provider),
		prices:    NewPriceTable(cfg.Router.Pricing),
		window:    NewMetricsWindow(cfg.Router.MetricsWindow),
		recorder:  usage.NopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}

	for name, backendCfg := range cfg.Backends {
		provider, err := NewProvider(backendCfg)
		if err != nil {
			// A backend missing credentials is skipped, not fatal; the
			// rest of the fleet still serves.
			slog.Warn("Skipping backend", "backend", name, "error", err)
			continue
		}
		r.providers[name] = provider
	}

	if len(r.providers) == 0 {
		return nil, fmt.Errorf("no usable LLM backends configured")
	}

	return r, nil
}

// Reload atomically swaps the backend snapshot. In-flight calls finish
// against the providers they resolved; new calls see the new snapshot.
func (r *Router) Reload(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	fresh := make(map[string]Provider)
	for name, backendCfg := range cfg.Backends {
		provider, err := NewProvider(backendCfg)
		if err != nil {
			slog.Warn("Skipping backend on reload", "backend", name, "error", err)
			continue
		}
		fresh[name] = provider
	}
	if len(fresh) == 0 {
		return fmt.Errorf("reload would leave no usable LLM backends")
	}

	r.mu.Lock()
	old := r.providers
	r.providers = fresh
	r.backends = cfg.Backends
	r.routerCfg = cfg.Router
	r.prices = NewPriceTable(cfg.Router.Pricing)
	r.mu.Unlock()

	r.dynMu.Lock()
	oldDynamic := r.dynamic
	r.dynamic = make(map[string]Provider)
	r.dynMu.Unlock()

	for _, p := range old {
		p.Close()
	}
	for _, p := range oldDynamic {
		p.Close()
	}

	slog.Info("Router reloaded", "backends", len(fresh))
	return nil
}

// Close releases every provider.
func (r *Router) Close() error {
	r.mu.Lock()
	providers := r.providers
	r.providers = map[string]Provider{}
	r.mu.Unlock()

	r.dynMu.Lock()
	dynamic := r.dynamic
	r.dynamic = map[string]Provider{}
	r.dynMu.Unlock()

	for _, p := range providers {
		p.Close()
	}
	for _, p := range dynamic {
		p.Close()
	}
	return nil
}

// ModelDescriptor describes one routable backend for the models API.
type ModelDescriptor struct {
	Name     string          `json:"name"`
	Model    string          `json:"model"`
	Provider config.Provider `json:"provider"`
	Local    bool            `json:"local"`
}

// ModelDescriptors lists the configured backends.
func (r *Router) ModelDescriptors() []ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModelDescriptor, 0, len(r.providers))
	for name, p := range r.providers {
		out = append(out, ModelDescriptor{
			Name:     name,
			Model:    p.ModelName(),
			Provider: p.ProviderName(),
			Local:    p.ProviderName().IsLocal(),
		})
	}
	return out
}

// ReportMetrics aggregates the rolling call window.
func (r *Router) ReportMetrics() MetricsReport {
	return r.window.Report()
}

// Embedder returns the named backend as an Embedder, if it supports
// embedding.
func (r *Router) Embedder(backend string) (Embedder, error) {
	r.mu.RLock()
	provider, ok := r.providers[backend]
	r.mu.RUnlock()
	if !ok {
		return nil, faults.New(faults.KindProviderNotConfigured, "unknown backend %q", backend)
	}
	embedder, ok := provider.(Embedder)
	if !ok {
		return nil, faults.New(faults.KindProviderNotConfigured, "backend %q cannot embed", backend)
	}
	return embedder, nil
}

// target is one resolved (backend name, provider) pair in attempt
// order.
type target struct {
	name     string
	provider Provider
}

// resolveTargets maps a requested model to an ordered attempt list.
//
// Accepted forms, tried in this order: the empty string (routes to the
// default backend), "provider/model" (forces a cloud provider),
// "auto" (expands to the configured auto order), a configured backend
// name, a backend type name, and a configured model name. Anything
// else falls back to the primary local backend.
func (r *Router) resolveTargets(ctx context.Context, model string) ([]target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if model == "" {
		model = string(r.routerCfg.DefaultBackend)
	}

	if strings.Contains(model, "/") {
		tgt, err := r.cloudTarget(ctx, model)
		if err != nil {
			return nil, err
		}
		return []target{tgt}, nil
	}

	if model == string(config.BackendAuto) {
		targets := make([]target, 0, len(r.routerCfg.AutoOrder))
		for _, name := range r.routerCfg.AutoOrder {
			if provider, ok := r.providers[name]; ok {
				targets = append(targets, target{name: name, provider: provider})
			}
		}
		if len(targets) == 0 {
			return nil, faults.New(faults.KindProviderNotConfigured, "auto routing has no usable backends")
		}
		return targets, nil
	}

	if provider, ok := r.providers[model]; ok {
		return []target{{name: model, provider: provider}}, nil
	}

	if backendType, err := config.ParseBackendType(model); err == nil && backendType != config.BackendAuto {
		wantProvider := backendType.ProviderFor()
		for name, provider := range r.providers {
			if provider.ProviderName() == wantProvider {
				return []target{{name: name, provider: provider}}, nil
			}
		}
		return nil, faults.New(faults.KindProviderNotConfigured, "no backend configured for %s", model)
	}

	for name, provider := range r.providers {
		if provider.ModelName() == model {
			return []target{{name: name, provider: provider}}, nil
		}
	}

	// Unknown model: route to the primary local backend rather than
	// failing the request.
	for _, name := range r.routerCfg.AutoOrder {
		provider, ok := r.providers[name]
		if !ok || !provider.ProviderName().IsLocal() {
			continue
		}
		slog.Warn("Unknown model, routing to primary local backend", "model", model, "backend", name)
		return []target{{name: name, provider: provider}}, nil
	}
	for name, provider := range r.providers {
		if provider.ProviderName().IsLocal() {
			slog.Warn("Unknown model, routing to local backend", "model", model, "backend", name)
			return []target{{name: name, provider: provider}}, nil
		}
	}

	return nil, faults.New(faults.KindProviderNotConfigured, "unknown model %q and no local backend to absorb it", model)
}

// cloudTarget resolves the provider/model form, constructing a dynamic
// provider when no configured backend matches. Called with r.mu held.
func (r *Router) cloudTarget(ctx context.Context, spec string) (target, error) {
	parts := strings.SplitN(spec, "/", 2)
	providerName, modelName := config.Provider(parts[0]), parts[1]

	switch providerName {
	case config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderGoogle:
	default:
		return target{}, faults.New(faults.KindBadRequest, "unsupported provider prefix %q", parts[0])
	}

	// A configured backend on the same provider and model serves as-is.
	for name, provider := range r.providers {
		if provider.ProviderName() == providerName && provider.ModelName() == modelName {
			return target{name: name, provider: provider}, nil
		}
	}

	r.dynMu.Lock()
	defer r.dynMu.Unlock()

	if provider, ok := r.dynamic[spec]; ok {
		return target{name: spec, provider: provider}, nil
	}

	apiKey := r.lookupAPIKey(ctx, providerName)
	if apiKey == "" {
		return target{}, faults.New(faults.KindProviderNotConfigured, "no API key for provider %q", providerName)
	}

	backendCfg := &config.BackendConfig{
		Provider: providerName,
		Model:    modelName,
		APIKey:   apiKey,
	}
	backendCfg.SetDefaults(string(providerName))

	provider, err := NewProvider(backendCfg)
	if err != nil {
		return target{}, err
	}
	r.dynamic[spec] = provider

	slog.Info("Constructed dynamic cloud provider", "provider", providerName, "model", modelName)
	return target{name: spec, provider: provider}, nil
}

// lookupAPIKey resolves a key for a cloud provider: a configured
// backend first, then the environment, then the credential source.
func (r *Router) lookupAPIKey(ctx context.Context, provider config.Provider) string {
	for _, backendCfg := range r.backends {
		if backendCfg.Provider == provider && backendCfg.APIKey != "" {
			return backendCfg.APIKey
		}
	}
	if key := config.GetProviderAPIKey(string(provider)); key != "" {
		return key
	}
	if r.creds != nil {
		if key, ok := r.creds.ProviderAPIKey(ctx, provider); ok {
			return key
		}
	}
	return ""
}

// Generate performs a blocking completion against the resolved backend.
func (r *Router) Generate(ctx context.Context, model string, messages []Message, opts Options) (*Result, error) {
	return r.GenerateWithTools(ctx, model, messages, nil, opts)
}

// GenerateWithTools performs a blocking completion offering tools. On
// auto routing, later backends in the auto order absorb earlier
// failures.
func (r *Router) GenerateWithTools(ctx context.Context, model string, messages []Message, tools []ToolDefinition, opts Options) (*Result, error) {
	targets, err := r.resolveTargets(ctx, model)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for i, tgt := range targets {
		attemptOpts := opts
		if i > 0 {
			attemptOpts.WasFallback = true
			attemptOpts.FallbackReason = "backend_error"
			observability.GetGlobalMetrics().RecordFallback(ctx, targets[i-1].name, tgt.name)
			slog.Warn("Falling back to next backend", "from", targets[i-1].name, "to", tgt.name, "error", lastErr)
		}

		start := time.Now()
		result, err := tgt.provider.Generate(ctx, messages, tools, attemptOpts)
		if err != nil {
			lastErr = err
			r.window.Add(CallSample{
				Model:   tgt.provider.ModelName(),
				Backend: tgt.name,
				Latency: time.Since(start),
				Failed:  true,
			})
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}

		result.Backend = tgt.name
		r.settle(tgt, messages, result, attemptOpts, false, nil)
		return result, nil
	}

	return nil, lastErr
}

// GenerateStreaming starts a streaming completion. Failover to the
// next auto-order backend happens only before any chunk has been
// delivered; once output escapes, errors surface downstream.
func (r *Router) GenerateStreaming(ctx context.Context, model string, messages []Message, tools []ToolDefinition, opts Options) (<-chan StreamChunk, error) {
	targets, err := r.resolveTargets(ctx, model)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk, streamChunkBuffer)

	go func() {
		defer close(out)

		var lastErr error
		for i, tgt := range targets {
			attemptOpts := opts
			if i > 0 {
				attemptOpts.WasFallback = true
				attemptOpts.FallbackReason = "backend_error"
				observability.GetGlobalMetrics().RecordFallback(ctx, targets[i-1].name, tgt.name)
				slog.Warn("Falling back to next backend for stream", "from", targets[i-1].name, "to", tgt.name, "error", lastErr)
			}

			delivered, err := r.streamOne(ctx, tgt, messages, tools, attemptOpts, out)
			if err == nil {
				return
			}
			lastErr = err
			if delivered || ctx.Err() != nil {
				out <- StreamChunk{Type: ChunkError, Err: err}
				return
			}
		}

		if lastErr != nil {
			out <- StreamChunk{Type: ChunkError, Err: lastErr}
		}
	}()

	return out, nil
}

// streamOne runs one backend attempt, forwarding chunks and keeping
// the books on the terminal item. delivered reports whether any output
// reached the consumer.
func (r *Router) streamOne(ctx context.Context, tgt target, messages []Message, tools []ToolDefinition, opts Options, out chan<- StreamChunk) (delivered bool, err error) {
	start := time.Now()

	providerCh, err := tgt.provider.GenerateStreaming(ctx, messages, tools, opts)
	if err != nil {
		return false, err
	}

	var ttft *time.Duration
	var text strings.Builder
	var toolCalls []ToolCall

	for chunk := range providerCh {
		switch chunk.Type {
		case ChunkText:
			if ttft == nil {
				d := time.Since(start)
				ttft = &d
			}
			text.WriteString(chunk.Text)

		case ChunkToolCall:
			if ttft == nil {
				d := time.Since(start)
				ttft = &d
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}

		case ChunkError:
			r.window.Add(CallSample{
				Model:     tgt.provider.ModelName(),
				Backend:   tgt.name,
				Latency:   time.Since(start),
				Streaming: true,
				Failed:    true,
			})
			if !delivered {
				return false, chunk.Err
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
			}
			return true, nil

		case ChunkDone:
			duration := chunk.Duration
			if duration == 0 {
				duration = time.Since(start)
			}
			result := &Result{
				Text:         text.String(),
				ToolCalls:    toolCalls,
				InputTokens:  chunk.InputTokens,
				OutputTokens: chunk.OutputTokens,
				Backend:      tgt.name,
				Model:        tgt.provider.ModelName(),
				Latency:      duration,
			}
			r.settle(tgt, messages, result, opts, true, ttft)
			chunk.InputTokens = result.InputTokens
			chunk.OutputTokens = result.OutputTokens
			select {
			case out <- chunk:
			case <-ctx.Done():
			}
			return true, nil
		}

		select {
		case out <- chunk:
			delivered = true
		case <-ctx.Done():
			return delivered, nil
		}
	}

	// Provider closed without a terminal chunk; treat as done.
	result := &Result{
		Text:      text.String(),
		ToolCalls: toolCalls,
		Backend:   tgt.name,
		Model:     tgt.provider.ModelName(),
		Latency:   time.Since(start),
	}
	r.settle(tgt, messages, result, opts, true, ttft)
	return delivered, nil
}

// settle fills in missing token counts, feeds the rolling window and
// submits the usage record for cloud calls. Exactly one record per
// cloud call that produced output.
func (r *Router) settle(tgt target, messages []Message, result *Result, opts Options, streaming bool, ttft *time.Duration) {
	r.ensureTokens(messages, result)

	r.window.Add(CallSample{
		Model:        result.Model,
		Backend:      tgt.name,
		Latency:      result.Latency,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		Streaming:    streaming,
	})

	providerName := tgt.provider.ProviderName()
	if providerName.IsLocal() || result.OutputTokens < 1 {
		return
	}

	record := usage.Record{
		Provider:       string(providerName),
		Model:          result.Model,
		InputTokens:    result.InputTokens,
		OutputTokens:   result.OutputTokens,
		CostUSD:        r.prices.Cost(providerName, result.Model, result.InputTokens, result.OutputTokens),
		LatencyMS:      result.Latency.Milliseconds(),
		Streaming:      streaming,
		RequestID:      opts.RequestID,
		SessionID:      opts.SessionID,
		Intent:         opts.Intent,
		WasFallback:    opts.WasFallback,
		FallbackReason: opts.FallbackReason,
	}
	if ttft != nil {
		ms := ttft.Milliseconds()
		record.TTFTMS = &ms
	}
	r.recorder.Submit(record)
}

// ensureTokens estimates token counts a backend did not report. Local
// servers routinely omit them on streamed calls.
func (r *Router) ensureTokens(messages []Message, result *Result) {
	if result.InputTokens > 0 && result.OutputTokens > 0 {
		return
	}

	estimator, err := NewTokenEstimator(result.Model)
	if err != nil {
		estimator = nil
	}

	if result.InputTokens == 0 && len(messages) > 0 {
		result.InputTokens = estimator.Messages(messages)
	}
	if result.OutputTokens == 0 {
		produced := result.Text
		for _, tc := range result.ToolCalls {
			produced += tc.Arguments
		}
		if produced != "" {
			result.OutputTokens = estimator.Text(produced)
		}
	}
}
