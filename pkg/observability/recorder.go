package observability

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics records the measurements the query pipeline produces. All methods
// must be safe to call on a nil or zero-value receiver so instrumented code
// never has to check whether metrics are enabled.
type Metrics interface {
	RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration, responseBytes int64)
	RecordLLMCall(ctx context.Context, backend, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordCacheLookup(ctx context.Context, category, outcome string)
	RecordSearchCall(ctx context.Context, provider string, duration time.Duration, results int, err error)
	RecordDeviceCommand(ctx context.Context, service string, duration time.Duration, err error)
	RecordFallback(ctx context.Context, from, to string)
}

type PrometheusMetrics struct {
	httpRequests      metric.Int64Counter
	httpDuration      metric.Float64Histogram
	httpResponseBytes metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrorsTotal  metric.Int64Counter

	cacheLookups metric.Int64Counter

	searchDuration    metric.Float64Histogram
	searchResults     metric.Int64Counter
	searchErrorsTotal metric.Int64Counter

	deviceCommands    metric.Int64Counter
	deviceDuration    metric.Float64Histogram
	deviceErrorsTotal metric.Int64Counter

	routerFallbacks metric.Int64Counter
}

var _ Metrics = (*PrometheusMetrics)(nil)

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration, responseBytes int64) {
	if m == nil || m.httpRequests == nil || m.httpDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPRoute, route),
	}

	m.httpRequests.Add(ctx, 1, metric.WithAttributes(append(attrs,
		attribute.String(AttrHTTPStatusCode, strconv.Itoa(status)))...))
	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if responseBytes > 0 && m.httpResponseBytes != nil {
		m.httpResponseBytes.Add(ctx, responseBytes, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, backend, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil || m.llmInputTokens == nil || m.llmOutputTokens == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(AttrBackend, backend),
		attribute.String(AttrModel, model),
	}

	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.llmInputTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attrs...))
	m.llmOutputTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attrs...))

	if err != nil && m.llmErrorsTotal != nil {
		m.llmErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordCacheLookup(ctx context.Context, category, outcome string) {
	if m == nil || m.cacheLookups == nil {
		return
	}

	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrCacheCategory, category),
		attribute.String(AttrCacheOutcome, outcome),
	))
}

func (m *PrometheusMetrics) RecordSearchCall(ctx context.Context, provider string, duration time.Duration, results int, err error) {
	if m == nil || m.searchDuration == nil || m.searchResults == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(AttrSearchProvider, provider),
	}

	m.searchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.searchResults.Add(ctx, int64(results), metric.WithAttributes(attrs...))

	if err != nil && m.searchErrorsTotal != nil {
		m.searchErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordDeviceCommand(ctx context.Context, service string, duration time.Duration, err error) {
	if m == nil || m.deviceCommands == nil || m.deviceDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(AttrDeviceService, service),
	}

	m.deviceCommands.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.deviceDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if err != nil && m.deviceErrorsTotal != nil {
		m.deviceErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordFallback(ctx context.Context, from, to string) {
	if m == nil || m.routerFallbacks == nil {
		return
	}

	m.routerFallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide recorder. Before initialization
// it returns a recorder that drops everything.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if globalMetrics == nil {
		return (*PrometheusMetrics)(nil)
	}
	return globalMetrics
}
