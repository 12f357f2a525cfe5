// Package search fans a query out to several web and ticketing
// providers under one global deadline, then fuses whatever came back.
// Provider failures are logged and swallowed; partial results are the
// normal case, and an all-provider failure yields an empty list, never
// an error.
package search

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hearthd/hearth/pkg/config"
)

// Intent is the search-side query classification. It is independent of
// the cache categories: this set decides which providers to ask.
type Intent string

const (
	IntentEventSearch   Intent = "event_search"
	IntentNews          Intent = "news"
	IntentWeather       Intent = "weather"
	IntentSports        Intent = "sports"
	IntentLocalBusiness Intent = "local_business"
	IntentGeneral       Intent = "general"
)

// Result is one normalised provider hit. Providers fill what they
// know; the engine never mutates results, fusion adjusts confidence
// on copies.
type Result struct {
	Source      string            `json:"source"`
	Title       string            `json:"title"`
	Snippet     string            `json:"snippet"`
	URL         string            `json:"url,omitempty"`
	Confidence  float64           `json:"confidence"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	EventDate   string            `json:"event_date,omitempty"`
	Venue       string            `json:"venue,omitempty"`
	Location    string            `json:"location,omitempty"`
	PriceRange  string            `json:"price_range,omitempty"`
	RetrievedAt time.Time         `json:"retrieved_at"`
}

// Options carries per-request search parameters.
type Options struct {
	Location         string
	LimitPerProvider int
	ForceSearch      bool
}

// MetricsRecorder receives one event per provider call. Satisfied by
// observability.PrometheusMetrics.
type MetricsRecorder interface {
	RecordSearchCall(ctx context.Context, provider string, duration time.Duration, results int, err error)
}

const defaultLimitPerProvider = 5

// fallbackProviders orders providers per intent when the config does
// not say otherwise.
var fallbackProviders = map[Intent][]string{
	IntentEventSearch:   {"ticketmaster", "eventbrite", "duckduckgo"},
	IntentNews:          {"brave", "duckduckgo", "searxng"},
	IntentWeather:       {"duckduckgo"},
	IntentSports:        {"brave", "duckduckgo"},
	IntentLocalBusiness: {"brave", "duckduckgo", "searxng"},
	IntentGeneral:       {"duckduckgo", "brave", "searxng"},
}

// Engine owns the provider set and runs the fan-out.
type Engine struct {
	cfg       *config.SearchConfig
	providers map[string]Provider
	ragOwned  map[Intent]bool
	metrics   MetricsRecorder
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithProvider injects a provider, replacing any the config would
// build under the same name.
func WithProvider(p Provider) EngineOption {
	return func(e *Engine) { e.providers[p.Name()] = p }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine builds the engine and its providers from config.
func NewEngine(cfg *config.SearchConfig, opts ...EngineOption) *Engine {
	if cfg == nil {
		cfg = &config.SearchConfig{}
		cfg.SetDefaults()
	}

	e := &Engine{
		cfg:       cfg,
		providers: make(map[string]Provider),
		ragOwned:  make(map[Intent]bool),
	}
	for _, intent := range cfg.RAGOwnedIntents {
		e.ragOwned[Intent(intent)] = true
	}
	for _, opt := range opts {
		opt(e)
	}

	for name, pc := range cfg.Providers {
		if !pc.IsEnabled() {
			continue
		}
		if _, ok := e.providers[name]; ok {
			continue
		}
		switch name {
		case "duckduckgo":
			e.providers[name] = NewDuckDuckGo(pc)
		case "brave":
			e.providers[name] = NewBrave(pc)
		case "searxng":
			if pc.BaseURL == "" {
				slog.Warn("Skipping searxng provider without base_url")
				continue
			}
			e.providers[name] = NewSearXNG(pc)
		case "ticketmaster":
			e.providers[name] = NewTicketmaster(pc)
		case "eventbrite":
			e.providers[name] = NewEventbrite(pc)
		default:
			slog.Warn("Unknown search provider in config", "provider", name)
		}
	}

	return e
}

// Search classifies the query and fans it out to the providers routed
// for that intent. RAG-owned intents short-circuit to an empty list
// unless forced; the caller is expected to ask the retrieval service
// instead.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (Intent, []Result) {
	intent := ClassifyIntent(query)

	if e.ragOwned[intent] && !opts.ForceSearch {
		slog.Debug("Search deferred to retrieval service", "intent", intent)
		return intent, nil
	}

	names := e.providersFor(intent)
	if len(names) == 0 {
		return intent, nil
	}

	limit := opts.LimitPerProvider
	if limit <= 0 {
		limit = defaultLimitPerProvider
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results []Result
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		provider := e.providers[name]
		g.Go(func() error {
			pctx, pcancel := context.WithTimeout(gctx, e.cfg.ProviderTimeout)
			defer pcancel()

			start := time.Now()
			found, err := provider.Search(pctx, query, opts.Location, limit)
			if e.metrics != nil {
				e.metrics.RecordSearchCall(ctx, provider.Name(), time.Since(start), len(found), err)
			}
			if err != nil {
				slog.Warn("Search provider failed",
					"provider", provider.Name(),
					"intent", intent,
					"error", err)
				return nil
			}

			mu.Lock()
			results = append(results, found...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return intent, results
}

// providersFor resolves the ordered provider names for an intent,
// dropping any that are not registered.
func (e *Engine) providersFor(intent Intent) []string {
	names, ok := e.cfg.IntentProviders[string(intent)]
	if !ok {
		names = fallbackProviders[intent]
	}

	var available []string
	for _, name := range names {
		if _, ok := e.providers[name]; ok {
			available = append(available, name)
		}
	}
	return available
}

// Close shuts down all providers.
func (e *Engine) Close() error {
	for _, p := range e.providers {
		if err := p.Close(); err != nil {
			slog.Warn("Failed to close search provider", "provider", p.Name(), "error", err)
		}
	}
	return nil
}
