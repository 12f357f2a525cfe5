// Package semcache short-circuits repeat work by collapsing
// semantically equivalent queries onto one cache key. A query is
// normalised, classified into a category with a fixed TTL, stripped of
// location mentions (which become part of the key), and reduced to its
// distinguishing tokens. A large never-cache pattern set overrides
// everything for queries whose answer depends on live state or
// conversation context.
//
// An optional similarity index adds near-match recall on top of the
// canonical key: misses are retried against an embedding store and a
// close-enough neighbour's entry is served under the same TTL rules.
package semcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/faults"
)

// MetricsRecorder receives one event per lookup. Satisfied by
// observability.PrometheusMetrics.
type MetricsRecorder interface {
	RecordCacheLookup(ctx context.Context, category, outcome string)
}

// Lookup outcomes reported to metrics.
const (
	outcomeHit           = "hit"
	outcomeMiss          = "miss"
	outcomeSimilarityHit = "similarity_hit"
	outcomeBypass        = "bypass"
)

// Stats is a point-in-time snapshot of cache traffic.
type Stats struct {
	Hits           uint64
	Misses         uint64
	SimilarityHits uint64
	Bypassed       uint64
	Stores         uint64
}

// Cache is the semantic response cache.
type Cache struct {
	keyer        *Keyer
	store        Store
	ttlOverrides map[string]int
	metrics      MetricsRecorder

	sim     *SimilarityIndex
	simGate func(ctx context.Context) bool

	hits           atomic.Uint64
	misses         atomic.Uint64
	similarityHits atomic.Uint64
	bypassed       atomic.Uint64
	stores         atomic.Uint64
}

// Option customises a Cache.
type Option func(*Cache)

// WithStore substitutes the backing store.
func WithStore(store Store) Option {
	return func(c *Cache) { c.store = store }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithSimilarity attaches the near-match index. The gate is consulted
// per request; a nil gate means always on.
func WithSimilarity(idx *SimilarityIndex, gate func(ctx context.Context) bool) Option {
	return func(c *Cache) {
		c.sim = idx
		c.simGate = gate
	}
}

// New builds a Cache from config. The backend comes from
// cfg.Backend unless WithStore overrides it.
func New(cfg *config.CacheConfig, opts ...Option) (*Cache, error) {
	if cfg == nil {
		cfg = &config.CacheConfig{}
		cfg.SetDefaults()
	}

	c := &Cache{
		keyer:        NewKeyer(cfg.DefaultLocation),
		ttlOverrides: cfg.TTL,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.store == nil {
		switch cfg.Backend {
		case "", "memory":
			c.store = NewMemoryStore(cfg.MaxEntries)
		case "redis":
			store, err := NewRedisStore(cfg.Redis)
			if err != nil {
				return nil, err
			}
			c.store = store
		default:
			return nil, faults.New(faults.KindBadRequest, "unknown cache backend %q", cfg.Backend)
		}
	}

	return c, nil
}

// Analyze exposes the cacheability decision without touching the
// store, for the debug surface and for callers that only need the key.
func (c *Cache) Analyze(query string, opts Options) Decision {
	return c.decide(query, opts)
}

// Lookup returns the cached entry for a query, or nil on a miss or
// bypass. Cache trouble never fails the request: store errors are
// logged and reported as misses.
func (c *Cache) Lookup(ctx context.Context, query string, opts Options) (*Entry, Decision) {
	d := c.decide(query, opts)
	if !d.Cacheable {
		c.bypassed.Add(1)
		c.record(ctx, d.Category, outcomeBypass)
		return nil, d
	}

	now := time.Now()
	entry, err := c.store.Get(ctx, d.Key)
	if err != nil {
		slog.Warn("Cache read failed", "key", d.Key, "error", err)
	}
	if entry != nil {
		if !entry.Expired(now) {
			c.hits.Add(1)
			c.record(ctx, d.Category, outcomeHit)
			return entry, d
		}
		if err := c.store.Delete(ctx, d.Key); err != nil {
			slog.Warn("Failed to drop expired cache entry", "key", d.Key, "error", err)
		}
	}

	if entry := c.similarLookup(ctx, d, now); entry != nil {
		c.similarityHits.Add(1)
		c.record(ctx, d.Category, outcomeSimilarityHit)
		return entry, d
	}

	c.misses.Add(1)
	c.record(ctx, d.Category, outcomeMiss)
	return nil, d
}

// similarLookup retries a miss against the embedding index.
func (c *Cache) similarLookup(ctx context.Context, d Decision, now time.Time) *Entry {
	if c.sim == nil || (c.simGate != nil && !c.simGate(ctx)) {
		return nil
	}

	key, score, err := c.sim.Search(ctx, d.NormalizedQuery)
	if err != nil {
		slog.Warn("Similarity lookup failed", "error", err)
		return nil
	}
	if key == "" || key == d.Key {
		return nil
	}

	entry, err := c.store.Get(ctx, key)
	if err != nil || entry == nil || entry.Expired(now) {
		return nil
	}
	slog.Debug("Similarity cache hit",
		"query_key", d.Key,
		"matched_key", key,
		"similarity", score)
	return entry
}

// Store caches a response payload under the query's key. Non-cacheable
// queries are a no-op; the returned Decision says which.
func (c *Cache) Store(ctx context.Context, query string, opts Options, payload json.RawMessage) (Decision, error) {
	d := c.decide(query, opts)
	if !d.Cacheable {
		return d, nil
	}

	entry := &Entry{
		Category:        string(d.Category),
		NormalizedQuery: d.NormalizedQuery,
		StoredAt:        time.Now(),
		TTLSeconds:      int(d.TTL / time.Second),
		Payload:         payload,
	}
	if err := c.store.Set(ctx, d.Key, entry, d.TTL); err != nil {
		return d, err
	}
	c.stores.Add(1)

	if c.sim != nil && (c.simGate == nil || c.simGate(ctx)) {
		if err := c.sim.Upsert(ctx, d.Key, d.NormalizedQuery); err != nil {
			slog.Warn("Similarity upsert failed", "key", d.Key, "error", err)
		}
	}
	return d, nil
}

// Invalidate drops the entry a query resolves to.
func (c *Cache) Invalidate(ctx context.Context, query string, opts Options) error {
	d := c.decide(query, opts)
	if d.Key == "" {
		return nil
	}
	if err := c.store.Delete(ctx, d.Key); err != nil {
		return err
	}
	if c.sim != nil {
		if err := c.sim.Delete(ctx, d.Key); err != nil {
			slog.Warn("Similarity delete failed", "key", d.Key, "error", err)
		}
	}
	return nil
}

// Stats snapshots the traffic counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		SimilarityHits: c.similarityHits.Load(),
		Bypassed:       c.bypassed.Load(),
		Stores:         c.stores.Load(),
	}
}

// Close releases the backing store.
func (c *Cache) Close() error {
	return c.store.Close()
}

// decide runs the keyer and then applies TTL overrides from config or
// the admin API. Overrides can silence a cacheable category with a
// zero TTL or give a zero-TTL category a lifetime; never-cache
// patterns always win.
func (c *Cache) decide(query string, opts Options) Decision {
	d := c.keyer.Analyze(query, opts)
	switch d.Reason {
	case ReasonNeverCache, ReasonEmptyQuery, ReasonPersonalMode:
		return d
	}

	if override, ok := c.ttlOverrides[string(d.Category)]; ok {
		d.TTL = time.Duration(override) * time.Second
	}
	if d.TTL <= 0 {
		d.Cacheable = false
		d.Reason = ReasonZeroTTL
	} else {
		d.Cacheable = true
		d.Reason = ReasonCacheable
	}
	return d
}

func (c *Cache) record(ctx context.Context, category Category, outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordCacheLookup(ctx, string(category), outcome)
}
