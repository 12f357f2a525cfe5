package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps histories in-process. A janitor goroutine sweeps
// idle sessions past their TTL.
type MemoryStore struct {
	maxHistory int
	ttl        time.Duration

	mu       sync.Mutex
	sessions map[string]*history

	stop     chan struct{}
	stopOnce sync.Once
}

type history struct {
	turns   []Turn
	touched time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(maxHistory int, ttl time.Duration) *MemoryStore {
	if maxHistory < 1 {
		maxHistory = 50
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	s := &MemoryStore{
		maxHistory: maxHistory,
		ttl:        ttl,
		sessions:   make(map[string]*history),
		stop:       make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *MemoryStore) Append(ctx context.Context, sessionID string, turn Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.sessions[sessionID]
	if !ok {
		h = &history{}
		s.sessions[sessionID] = h
	}
	h.turns = append(h.turns, turn)
	if len(h.turns) > s.maxHistory {
		h.turns = h.turns[len(h.turns)-s.maxHistory:]
	}
	h.touched = time.Now()
	return nil
}

func (s *MemoryStore) Recent(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	if time.Since(h.touched) > s.ttl {
		delete(s.sessions, sessionID)
		return nil, nil
	}

	turns := h.turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

// Len reports how many live sessions the store holds.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *MemoryStore) sweep() {
	interval := s.ttl / 10
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for id, h := range s.sessions {
				if now.Sub(h.touched) > s.ttl {
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}
