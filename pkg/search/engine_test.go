package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hearthd/hearth/pkg/config"
)

type fakeProvider struct {
	name    string
	results []Result
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Close() error { return nil }

func (f *fakeProvider) Search(ctx context.Context, query, location string, limit int) ([]Result, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeSearchMetrics struct {
	mu    sync.Mutex
	calls []struct {
		provider string
		results  int
		err      error
	}
}

func (m *fakeSearchMetrics) RecordSearchCall(ctx context.Context, provider string, duration time.Duration, results int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, struct {
		provider string
		results  int
		err      error
	}{provider, results, err})
}

// testEngineConfig returns defaults with the config-built providers
// stripped so tests only ever talk to injected fakes.
func testEngineConfig() *config.SearchConfig {
	cfg := &config.SearchConfig{}
	cfg.SetDefaults()
	cfg.Providers = nil
	return cfg
}

func TestEngine_FanOutMergesProviders(t *testing.T) {
	ddg := &fakeProvider{name: "duckduckgo", results: []Result{
		{Source: "duckduckgo", Title: "Eiffel tower height", Confidence: 0.9},
		{Source: "duckduckgo", Title: "Eiffel tower tickets", Confidence: 0.8},
	}}
	brave := &fakeProvider{name: "brave", results: []Result{
		{Source: "brave", Title: "Paris landmarks", Confidence: 0.9},
	}}
	e := NewEngine(testEngineConfig(), WithProvider(ddg), WithProvider(brave))

	intent, results := e.Search(context.Background(), "how tall is the eiffel tower", Options{})
	if intent != IntentGeneral {
		t.Errorf("intent = %s, want %s", intent, IntentGeneral)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 merged results, got %d", len(results))
	}
	if ddg.calls.Load() != 1 || brave.calls.Load() != 1 {
		t.Errorf("expected one call each, got ddg=%d brave=%d", ddg.calls.Load(), brave.calls.Load())
	}
}

func TestEngine_PartialFailureKeepsSurvivors(t *testing.T) {
	ddg := &fakeProvider{name: "duckduckgo", results: []Result{
		{Source: "duckduckgo", Title: "Only hit", Confidence: 0.9},
	}}
	brave := &fakeProvider{name: "brave", err: errors.New("upstream 500")}
	metrics := &fakeSearchMetrics{}
	e := NewEngine(testEngineConfig(), WithProvider(ddg), WithProvider(brave), WithMetrics(metrics))

	_, results := e.Search(context.Background(), "who wrote moby dick", Options{})
	if len(results) != 1 || results[0].Title != "Only hit" {
		t.Fatalf("expected the surviving provider's result, got %v", results)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if len(metrics.calls) != 2 {
		t.Fatalf("expected 2 metric events, got %d", len(metrics.calls))
	}
	var sawFailure bool
	for _, c := range metrics.calls {
		if c.provider == "brave" && c.err != nil {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Error("expected the brave failure to be recorded")
	}
}

func TestEngine_AllProvidersFail(t *testing.T) {
	ddg := &fakeProvider{name: "duckduckgo", err: errors.New("down")}
	brave := &fakeProvider{name: "brave", err: errors.New("down")}
	e := NewEngine(testEngineConfig(), WithProvider(ddg), WithProvider(brave))

	intent, results := e.Search(context.Background(), "who wrote moby dick", Options{})
	if intent != IntentGeneral {
		t.Errorf("intent = %s, want %s", intent, IntentGeneral)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results when every provider fails, got %d", len(results))
	}
}

func TestEngine_RAGOwnedIntentSkipsProviders(t *testing.T) {
	ddg := &fakeProvider{name: "duckduckgo", results: []Result{
		{Source: "duckduckgo", Title: "Forecast page", Confidence: 0.9},
	}}
	e := NewEngine(testEngineConfig(), WithProvider(ddg))

	intent, results := e.Search(context.Background(), "whats the weather in philly", Options{})
	if intent != IntentWeather {
		t.Errorf("intent = %s, want %s", intent, IntentWeather)
	}
	if len(results) != 0 || ddg.calls.Load() != 0 {
		t.Fatalf("expected no provider calls for a RAG-owned intent, got %d results, %d calls", len(results), ddg.calls.Load())
	}

	// force_search overrides the deferral.
	_, results = e.Search(context.Background(), "whats the weather in philly", Options{ForceSearch: true})
	if len(results) != 1 || ddg.calls.Load() != 1 {
		t.Fatalf("expected forced search to call providers, got %d results, %d calls", len(results), ddg.calls.Load())
	}
}

func TestEngine_IntentProviderOverride(t *testing.T) {
	cfg := testEngineConfig()
	cfg.IntentProviders = map[string][]string{"news": {"brave"}}

	ddg := &fakeProvider{name: "duckduckgo", results: []Result{{Source: "duckduckgo", Title: "a"}}}
	brave := &fakeProvider{name: "brave", results: []Result{{Source: "brave", Title: "b"}}}
	e := NewEngine(cfg, WithProvider(ddg), WithProvider(brave))

	_, results := e.Search(context.Background(), "latest news headlines", Options{})
	if len(results) != 1 || results[0].Source != "brave" {
		t.Fatalf("expected only the routed provider to answer, got %v", results)
	}
	if ddg.calls.Load() != 0 {
		t.Errorf("expected duckduckgo to be skipped, got %d calls", ddg.calls.Load())
	}
}

func TestEngine_GlobalDeadlineCutsSlowProvider(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Timeout = 80 * time.Millisecond

	fast := &fakeProvider{name: "duckduckgo", results: []Result{
		{Source: "duckduckgo", Title: "Fast answer", Confidence: 0.9},
	}}
	slow := &fakeProvider{name: "brave", delay: 2 * time.Second, results: []Result{
		{Source: "brave", Title: "Too late", Confidence: 0.9},
	}}
	e := NewEngine(cfg, WithProvider(fast), WithProvider(slow))

	start := time.Now()
	_, results := e.Search(context.Background(), "who wrote moby dick", Options{})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("search did not respect the global deadline, took %v", elapsed)
	}
	if len(results) != 1 || results[0].Title != "Fast answer" {
		t.Fatalf("expected only the fast provider's result, got %v", results)
	}
}

func TestEngine_LimitPerProviderDefault(t *testing.T) {
	var gotLimit int
	probe := &probeProvider{name: "duckduckgo", onSearch: func(limit int) { gotLimit = limit }}
	e := NewEngine(testEngineConfig(), WithProvider(probe))

	e.Search(context.Background(), "who wrote moby dick", Options{})
	if gotLimit != defaultLimitPerProvider {
		t.Errorf("limit = %d, want %d", gotLimit, defaultLimitPerProvider)
	}

	e.Search(context.Background(), "who wrote moby dick", Options{LimitPerProvider: 3})
	if gotLimit != 3 {
		t.Errorf("limit = %d, want 3", gotLimit)
	}
}

type probeProvider struct {
	name     string
	onSearch func(limit int)
}

func (p *probeProvider) Name() string { return p.name }

func (p *probeProvider) Close() error { return nil }

func (p *probeProvider) Search(ctx context.Context, query, location string, limit int) ([]Result, error) {
	p.onSearch(limit)
	return nil, nil
}
