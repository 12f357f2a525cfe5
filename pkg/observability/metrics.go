package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics builds the Prometheus-backed metrics recorder. The returned
// registry backs the scrape handler; it is nil when metrics are disabled,
// in which case the zero-value recorder silently drops every observation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, *prometheus.Registry, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil, nil
	}

	registry := prometheus.NewRegistry()

	promExporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("hearth")

	name := func(suffix string) string {
		return cfg.Namespace + "_" + suffix
	}

	httpRequests, err := meter.Int64Counter(
		name("http_requests_total"),
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	httpDuration, err := meter.Float64Histogram(
		name("http_request_duration_seconds"),
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	httpResponseBytes, err := meter.Int64Counter(
		name("http_response_bytes_total"),
		metric.WithDescription("Total bytes written in HTTP responses"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create http response bytes counter: %w", err)
	}

	llmDuration, err := meter.Float64Histogram(
		name("llm_request_duration_seconds"),
		metric.WithDescription("LLM request duration in seconds"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	llmInputTokens, err := meter.Int64Counter(
		name("llm_tokens_input_total"),
		metric.WithDescription("Total input tokens sent to LLM backends"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	llmOutputTokens, err := meter.Int64Counter(
		name("llm_tokens_output_total"),
		metric.WithDescription("Total output tokens from LLM backends"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	llmErrors, err := meter.Int64Counter(
		name("llm_errors_total"),
		metric.WithDescription("Total LLM backend errors"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	cacheLookups, err := meter.Int64Counter(
		name("cache_lookups_total"),
		metric.WithDescription("Semantic cache lookups by category and outcome"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cache lookups counter: %w", err)
	}

	searchDuration, err := meter.Float64Histogram(
		name("search_duration_seconds"),
		metric.WithDescription("Search provider call duration in seconds"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create search duration histogram: %w", err)
	}

	searchResults, err := meter.Int64Counter(
		name("search_results_total"),
		metric.WithDescription("Total results returned by search providers"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create search results counter: %w", err)
	}

	searchErrors, err := meter.Int64Counter(
		name("search_errors_total"),
		metric.WithDescription("Total search provider errors"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create search errors counter: %w", err)
	}

	deviceCommands, err := meter.Int64Counter(
		name("device_commands_total"),
		metric.WithDescription("Total smart home commands dispatched"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create device commands counter: %w", err)
	}

	deviceDuration, err := meter.Float64Histogram(
		name("device_command_duration_seconds"),
		metric.WithDescription("Smart home command duration in seconds"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create device duration histogram: %w", err)
	}

	deviceErrors, err := meter.Int64Counter(
		name("device_errors_total"),
		metric.WithDescription("Total smart home command errors"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create device errors counter: %w", err)
	}

	routerFallbacks, err := meter.Int64Counter(
		name("router_fallbacks_total"),
		metric.WithDescription("Total failovers from one backend to another"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create router fallbacks counter: %w", err)
	}

	m := &PrometheusMetrics{
		httpRequests:      httpRequests,
		httpDuration:      httpDuration,
		httpResponseBytes: httpResponseBytes,
		llmDuration:       llmDuration,
		llmInputTokens:    llmInputTokens,
		llmOutputTokens:   llmOutputTokens,
		llmErrorsTotal:    llmErrors,
		cacheLookups:      cacheLookups,
		searchDuration:    searchDuration,
		searchResults:     searchResults,
		searchErrorsTotal: searchErrors,
		deviceCommands:    deviceCommands,
		deviceDuration:    deviceDuration,
		deviceErrorsTotal: deviceErrors,
		routerFallbacks:   routerFallbacks,
	}
	return m, registry, nil
}
