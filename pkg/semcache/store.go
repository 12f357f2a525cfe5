package semcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Entry is the envelope stored with every cached payload. The metadata
// fields exist for debugging and selective invalidation; expiry is
// enforced on read from StoredAt and TTLSeconds.
type Entry struct {
	Category        string          `json:"category"`
	NormalizedQuery string          `json:"normalised_query"`
	StoredAt        time.Time       `json:"stored_at"`
	TTLSeconds      int             `json:"ttl"`
	Payload         json.RawMessage `json:"payload"`
}

// Expired reports whether the entry's lifetime has passed.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.StoredAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// Store persists cache entries. Implementations must make writes
// atomic per key: a concurrent reader sees either the old entry or the
// new one, never a mix.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// memoryTTL bounds how long the in-memory store keeps anything. It
// matches the longest category TTL; precise per-entry expiry is
// enforced on read, so the LRU only needs a coarse upper bound.
const memoryTTL = 24 * time.Hour

// MemoryStore is the single-process backend. Entries are stored by
// value, so a Set replaces the whole entry in one swap.
type MemoryStore struct {
	lru *expirable.LRU[string, Entry]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a bounded in-memory store.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries < 1 {
		maxEntries = 4096
	}
	return &MemoryStore{lru: expirable.NewLRU[string, Entry](maxEntries, nil, memoryTTL)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	entry, ok := s.lru.Get(key)
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	s.lru.Add(key, *entry)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.lru.Remove(key)
	return nil
}

func (s *MemoryStore) Close() error {
	s.lru.Purge()
	return nil
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}
