package adminconfig

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hearthd/hearth/pkg/config"
)

const (
	flagCacheSize       = 256
	credentialCacheSize = 16
)

// fetcher is the slice of the Client the Plane needs; tests substitute
// it.
type fetcher interface {
	Features(ctx context.Context) ([]FeatureFlag, error)
	Feature(ctx context.Context, name string) (*FeatureFlag, error)
	Backends(ctx context.Context) ([]BackendDescriptor, error)
	ModelConfigs(ctx context.Context) ([]ModelConfig, error)
	IntentRoutes(ctx context.Context) ([]IntentRoute, error)
	ComponentAssignments(ctx context.Context) ([]ComponentAssignment, error)
	Credential(ctx context.Context, provider string) (*Credential, error)
}

// Plane is the process-local view of the admin config store. Reads hit
// TTL caches; the admin surface invalidates them after writes. With no
// admin API configured every lookup answers from hardcoded fallbacks,
// so the process boots degraded instead of not at all.
type Plane struct {
	client fetcher

	flags *expirable.LRU[string, FeatureFlag]
	creds *expirable.LRU[string, string]

	backends   *snapshot[[]BackendDescriptor]
	models     *snapshot[[]ModelConfig]
	routes     *snapshot[[]IntentRoute]
	components *snapshot[[]ComponentAssignment]
}

// NewPlane builds the plane. A nil or disabled admin config yields a
// fallback-only plane.
func NewPlane(cfg *config.AdminConfig) *Plane {
	var client fetcher
	if cfg != nil && cfg.IsEnabled() {
		if c, err := NewClient(cfg); err == nil {
			client = c
		}
	}

	snapshotTTL := time.Minute
	credentialTTL := 5 * time.Minute
	if cfg != nil {
		if cfg.PollInterval > 0 {
			snapshotTTL = cfg.PollInterval
		}
		if cfg.CredentialCacheTTL > 0 {
			credentialTTL = cfg.CredentialCacheTTL
		}
	}

	return &Plane{
		client:     client,
		flags:      expirable.NewLRU[string, FeatureFlag](flagCacheSize, nil, snapshotTTL),
		creds:      expirable.NewLRU[string, string](credentialCacheSize, nil, credentialTTL),
		backends:   newSnapshot[[]BackendDescriptor](snapshotTTL),
		models:     newSnapshot[[]ModelConfig](snapshotTTL),
		routes:     newSnapshot[[]IntentRoute](snapshotTTL),
		components: newSnapshot[[]ComponentAssignment](snapshotTTL),
	}
}

// Flag returns the named flag. Cache order: local TTL cache, then the
// admin API, then the hardcoded fallback. Flags marked Required are
// never served from or stored in the cache.
func (p *Plane) Flag(ctx context.Context, name string) (FeatureFlag, bool) {
	if flag, ok := p.flags.Get(name); ok && !flag.Required {
		return flag, true
	}

	if p.client != nil {
		flag, err := p.client.Feature(ctx, name)
		if err == nil {
			if !flag.Required {
				p.flags.Add(name, *flag)
			}
			return *flag, true
		}
		slog.Warn("Feature flag fetch failed, using fallback", "flag", name, "error", err)
	}

	flag, ok := fallbackFlags[name]
	return flag, ok
}

// FlagEnabled is the common yes/no lookup. Unknown flags are disabled.
func (p *Plane) FlagEnabled(ctx context.Context, name string) bool {
	flag, ok := p.Flag(ctx, name)
	return ok && flag.Enabled
}

// CachedFlags lists the current cache contents for the debug endpoint.
func (p *Plane) CachedFlags() []FeatureFlag {
	values := p.flags.Values()
	out := make([]FeatureFlag, len(values))
	copy(out, values)
	return out
}

// Invalidate drops the named flags from the cache, or every flag when
// names is empty. It returns how many entries were dropped.
func (p *Plane) Invalidate(names []string) int {
	if len(names) == 0 {
		n := p.flags.Len()
		p.flags.Purge()
		slog.Info("Feature flag cache purged", "dropped", n)
		return n
	}

	dropped := 0
	for _, name := range names {
		if p.flags.Remove(name) {
			dropped++
		}
	}
	slog.Info("Feature flag cache invalidated", "flags", names, "dropped", dropped)
	return dropped
}

// InvalidateCredentials drops every cached provider key so the next
// call re-fetches.
func (p *Plane) InvalidateCredentials() {
	p.creds.Purge()
}

// ProviderAPIKey implements the router's credential source: cached for
// a bounded time, re-fetched on expiry or invalidation.
func (p *Plane) ProviderAPIKey(ctx context.Context, provider config.Provider) (string, bool) {
	if key, ok := p.creds.Get(string(provider)); ok {
		return key, true
	}
	if p.client == nil {
		return "", false
	}

	cred, err := p.client.Credential(ctx, string(provider))
	if err != nil {
		slog.Warn("Credential fetch failed", "provider", provider, "error", err)
		return "", false
	}
	p.creds.Add(string(provider), cred.APIKey)
	return cred.APIKey, true
}

// Backends returns the admin-side backend descriptors. Empty without
// an admin API.
func (p *Plane) Backends(ctx context.Context) []BackendDescriptor {
	if p.client == nil {
		return nil
	}
	return p.backends.get(ctx, p.client.Backends)
}

// ModelConfigs returns the named generation parameter sets.
func (p *Plane) ModelConfigs(ctx context.Context) []ModelConfig {
	if p.client == nil {
		return nil
	}
	return p.models.get(ctx, p.client.ModelConfigs)
}

// RouteForIntent returns the backend route for an intent, if the admin
// store defines one.
func (p *Plane) RouteForIntent(ctx context.Context, intent string) (IntentRoute, bool) {
	if p.client == nil {
		return IntentRoute{}, false
	}
	for _, route := range p.routes.get(ctx, p.client.IntentRoutes) {
		if route.Intent == intent {
			return route, true
		}
	}
	return IntentRoute{}, false
}

// ComponentModel returns the model config name assigned to a pipeline
// component.
func (p *Plane) ComponentModel(ctx context.Context, component string) (string, bool) {
	if p.client == nil {
		return "", false
	}
	for _, a := range p.components.get(ctx, p.client.ComponentAssignments) {
		if a.Component == component {
			return a.Model, true
		}
	}
	return "", false
}

// Refresh marks every snapshot stale so the next read refills.
func (p *Plane) Refresh() {
	p.backends.invalidate()
	p.models.invalidate()
	p.routes.invalidate()
	p.components.invalidate()
	p.flags.Purge()
}

// snapshot caches one immutable value with a TTL. Readers never hold
// the lock during fetch I/O; concurrent refreshes are last-writer-wins.
// A failed refresh serves the stale value.
type snapshot[T any] struct {
	ttl time.Duration

	mu      sync.RWMutex
	value   T
	fetched time.Time
}

func newSnapshot[T any](ttl time.Duration) *snapshot[T] {
	return &snapshot[T]{ttl: ttl}
}

func (s *snapshot[T]) get(ctx context.Context, fetch func(context.Context) (T, error)) T {
	s.mu.RLock()
	fresh := !s.fetched.IsZero() && time.Since(s.fetched) < s.ttl
	value := s.value
	s.mu.RUnlock()
	if fresh {
		return value
	}

	fetched, err := fetch(ctx)
	if err != nil {
		slog.Warn("Admin snapshot refresh failed, serving stale", "error", err)
		return value
	}

	s.mu.Lock()
	s.value = fetched
	s.fetched = time.Now()
	s.mu.Unlock()
	return fetched
}

func (s *snapshot[T]) invalidate() {
	s.mu.Lock()
	s.fetched = time.Time{}
	s.mu.Unlock()
}
