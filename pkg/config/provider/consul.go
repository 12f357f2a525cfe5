package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"
)

// ConsulProvider loads config from a Consul KV key and watches it
// using blocking queries.
type ConsulProvider struct {
	client *api.Client
	key    string

	mu     sync.Mutex
	closed bool
}

// NewConsulProvider creates a provider backed by a Consul KV key.
func NewConsulProvider(address, key string) (*ConsulProvider, error) {
	if key == "" {
		return nil, fmt.Errorf("consul key is required")
	}

	cfg := api.DefaultConfig()
	if address != "" {
		cfg.Address = address
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &ConsulProvider{
		client: client,
		key:    key,
	}, nil
}

// Type returns TypeConsul.
func (p *ConsulProvider) Type() Type {
	return TypeConsul
}

// Load reads the config value from Consul.
func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	pair, _, err := p.client.KV().Get(p.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", p.key)
	}
	return pair.Value, nil
}

// Watch starts a blocking-query loop on the key.
func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("provider is closed")
	}

	ch := make(chan struct{}, 1)
	go p.watchLoop(ctx, ch)

	slog.Info("Watching consul key", "key", p.key)
	return ch, nil
}

func (p *ConsulProvider) watchLoop(ctx context.Context, ch chan<- struct{}) {
	defer close(ch)

	var lastIndex uint64
	for {
		if ctx.Err() != nil {
			return
		}

		opts := &api.QueryOptions{
			WaitIndex: lastIndex,
			WaitTime:  5 * time.Minute,
		}
		pair, meta, err := p.client.KV().Get(p.key, opts.WithContext(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Consul watch error", "key", p.key, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		if meta == nil || pair == nil {
			continue
		}

		// Index unchanged means the blocking query timed out with no change.
		if meta.LastIndex == lastIndex {
			continue
		}
		first := lastIndex == 0
		lastIndex = meta.LastIndex
		if first {
			continue
		}

		select {
		case ch <- struct{}{}:
			slog.Debug("Consul key changed", "key", p.key, "index", lastIndex)
		default:
		}
	}
}

// Close marks the provider closed.
func (p *ConsulProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

var _ Provider = (*ConsulProvider)(nil)
