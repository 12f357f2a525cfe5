package semcache

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/faults"
)

// Embedder turns text into vectors. The router's local embedding
// backend satisfies this.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// SimilarityIndex gives the cache a second chance on canonical-key
// misses: normalised queries are embedded and stored in an in-memory
// chromem collection, and a new query whose nearest neighbour clears
// the cosine threshold is served from that neighbour's cache entry.
type SimilarityIndex struct {
	embedder  Embedder
	coll      *chromem.Collection
	threshold float32
	maxDocs   int

	mu  sync.Mutex
	ids map[string]struct{}
}

// NewSimilarityIndex builds the index. Embeddings are computed by the
// configured backend before documents reach chromem, so the collection
// is created with an embedding function that must never run.
func NewSimilarityIndex(embedder Embedder, cfg config.SimilarityConfig) (*SimilarityIndex, error) {
	if embedder == nil {
		return nil, faults.New(faults.KindBadRequest, "similarity index requires an embedder")
	}

	identity := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors should be pre-computed")
	}

	db := chromem.NewDB()
	coll, err := db.GetOrCreateCollection("semantic-cache", nil, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to create similarity collection: %w", err)
	}

	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 0.85
	}
	maxDocs := cfg.MaxEntries
	if maxDocs < 1 {
		maxDocs = 2048
	}

	return &SimilarityIndex{
		embedder:  embedder,
		coll:      coll,
		threshold: threshold,
		maxDocs:   maxDocs,
		ids:       make(map[string]struct{}),
	}, nil
}

// Upsert records the normalised query under its cache key. Once the
// index is full, new keys are dropped; known keys may still refresh
// their embedding.
func (s *SimilarityIndex) Upsert(ctx context.Context, key, normalized string) error {
	s.mu.Lock()
	_, known := s.ids[key]
	if !known && len(s.ids) >= s.maxDocs {
		s.mu.Unlock()
		return nil
	}
	s.ids[key] = struct{}{}
	s.mu.Unlock()

	vec, err := s.embedOne(ctx, normalized)
	if err != nil {
		if !known {
			s.mu.Lock()
			delete(s.ids, key)
			s.mu.Unlock()
		}
		return err
	}

	doc := chromem.Document{
		ID:        key,
		Content:   normalized,
		Embedding: vec,
	}
	if err := s.coll.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert similarity document: %w", err)
	}
	return nil
}

// Search returns the cache key of the nearest stored query when its
// similarity clears the threshold, or "" on no match.
func (s *SimilarityIndex) Search(ctx context.Context, normalized string) (string, float32, error) {
	s.mu.Lock()
	n := len(s.ids)
	s.mu.Unlock()
	if n == 0 {
		return "", 0, nil
	}

	vec, err := s.embedOne(ctx, normalized)
	if err != nil {
		return "", 0, err
	}

	results, err := s.coll.QueryEmbedding(ctx, vec, 1, nil, nil)
	if err != nil {
		return "", 0, fmt.Errorf("similarity query failed: %w", err)
	}
	if len(results) == 0 || results[0].Similarity < s.threshold {
		return "", 0, nil
	}
	return results[0].ID, results[0].Similarity, nil
}

// Delete removes a key from the index.
func (s *SimilarityIndex) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	_, known := s.ids[key]
	delete(s.ids, key)
	s.mu.Unlock()
	if !known {
		return nil
	}
	return s.coll.Delete(ctx, nil, nil, key)
}

// Len reports how many keys the index holds.
func (s *SimilarityIndex) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

func (s *SimilarityIndex) embedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedder returned %d vectors, want 1", len(vecs))
	}
	return vecs[0], nil
}
