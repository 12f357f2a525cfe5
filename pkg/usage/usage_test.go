package usage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type captureStore struct {
	mu      sync.Mutex
	records []Record
	wrote   chan struct{}
	closed  bool
}

func newCaptureStore() *captureStore {
	return &captureStore{wrote: make(chan struct{}, 16)}
}

func (s *captureStore) Write(ctx context.Context, records []Record) error {
	s.mu.Lock()
	s.records = append(s.records, records...)
	s.mu.Unlock()
	select {
	case s.wrote <- struct{}{}:
	default:
	}
	return nil
}

func (s *captureStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureStore) all() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

func TestRecord_Fill(t *testing.T) {
	rec := Record{Provider: "openai", Model: "gpt-4o"}
	rec.Fill()
	if rec.ID == "" {
		t.Error("Fill() left ID empty")
	}
	if rec.StoredAt.IsZero() {
		t.Error("Fill() left StoredAt zero")
	}

	pinned := Record{ID: "fixed", StoredAt: time.Unix(100, 0)}
	pinned.Fill()
	if pinned.ID != "fixed" || !pinned.StoredAt.Equal(time.Unix(100, 0)) {
		t.Error("Fill() overwrote caller-supplied fields")
	}
}

func TestWriter_FlushesOnClose(t *testing.T) {
	store := newCaptureStore()
	w := NewWriter(store, nil)

	for i := 0; i < 5; i++ {
		w.Submit(Record{Provider: "openai", Model: "gpt-4o", RequestID: fmt.Sprintf("req-%d", i)})
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	records := store.all()
	if len(records) != 5 {
		t.Fatalf("flushed records = %d, want 5", len(records))
	}
	for i, rec := range records {
		if rec.ID == "" {
			t.Errorf("record %d has no ID, want Fill() applied on Submit", i)
		}
		if rec.RequestID != fmt.Sprintf("req-%d", i) {
			t.Errorf("record %d = %s, want order preserved", i, rec.RequestID)
		}
	}
	if !store.closed {
		t.Error("Close() did not release the store")
	}
}

func TestWriter_FlushesOnInterval(t *testing.T) {
	store := newCaptureStore()
	w := newIntervalWriter(store, 20*time.Millisecond)
	defer w.Close()

	w.Submit(Record{Provider: "anthropic", Model: "claude-3-5-haiku"})

	select {
	case <-store.wrote:
	case <-time.After(2 * time.Second):
		t.Fatal("interval flush never happened")
	}
	if got := len(store.all()); got != 1 {
		t.Errorf("records after interval flush = %d, want 1", got)
	}
}

// newIntervalWriter builds a writer with a short flush interval for
// tests.
func newIntervalWriter(store Store, interval time.Duration) *Writer {
	w := &Writer{
		store:    store,
		ch:       make(chan Record, defaultBufferSize),
		interval: interval,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func TestWriter_DropsOldestOnOverflow(t *testing.T) {
	// No goroutine: exercise the Submit overflow policy directly.
	w := &Writer{
		store: newCaptureStore(),
		ch:    make(chan Record, 2),
		done:  make(chan struct{}),
	}

	w.Submit(Record{RequestID: "first"})
	w.Submit(Record{RequestID: "second"})
	w.Submit(Record{RequestID: "third"})

	if len(w.ch) != 2 {
		t.Fatalf("buffer holds %d, want capacity 2", len(w.ch))
	}
	got := []string{(<-w.ch).RequestID, (<-w.ch).RequestID}
	if got[0] != "second" || got[1] != "third" {
		t.Errorf("surviving records = %v, want oldest dropped", got)
	}
}

func TestWriter_BatchSizeTriggersFlush(t *testing.T) {
	store := newCaptureStore()
	w := newIntervalWriter(store, time.Hour)
	defer w.Close()

	for i := 0; i < writeBatchSize; i++ {
		w.Submit(Record{Provider: "openai", Model: "gpt-4o"})
	}

	select {
	case <-store.wrote:
	case <-time.After(2 * time.Second):
		t.Fatal("batch-size flush never happened")
	}
	if got := len(store.all()); got != writeBatchSize {
		t.Errorf("records after batch flush = %d, want %d", got, writeBatchSize)
	}
}
