package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hearthd/hearth/pkg/config"
)

const (
	defaultBufferSize    = 256
	defaultFlushInterval = 5 * time.Second

	// writeBatchSize forces a flush before the ticker when records
	// arrive quickly.
	writeBatchSize = 64
	writeTimeout   = 10 * time.Second
)

// Writer is the asynchronous Recorder: Submit enqueues without
// blocking and a background goroutine batches writes to the store.
// When the buffer is full the oldest pending record is dropped so the
// newest data survives a slow database.
type Writer struct {
	store Store

	ch        chan Record
	interval  time.Duration
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Recorder = (*Writer)(nil)

func NewWriter(store Store, cfg *config.UsageConfig) *Writer {
	buffer := defaultBufferSize
	interval := defaultFlushInterval
	if cfg != nil {
		if cfg.BufferSize > 0 {
			buffer = cfg.BufferSize
		}
		if cfg.FlushInterval > 0 {
			interval = cfg.FlushInterval
		}
	}

	w := &Writer{
		store:    store,
		ch:       make(chan Record, buffer),
		interval: interval,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Submit enqueues a record for the background writer. Never blocks the
// caller.
func (w *Writer) Submit(rec Record) {
	rec.Fill()

	select {
	case w.ch <- rec:
		return
	default:
	}

	// Buffer full: evict the oldest pending record to make room.
	select {
	case dropped := <-w.ch:
		slog.Warn("Usage buffer full, dropping oldest record", "dropped_id", dropped.ID)
	default:
	}
	select {
	case w.ch <- rec:
	default:
		slog.Warn("Usage buffer full, dropping record", "id", rec.ID)
	}
}

func (w *Writer) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	batch := make([]Record, 0, writeBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := w.store.Write(ctx, batch); err != nil {
			slog.Error("Failed to write usage records", "count", len(batch), "error", err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-w.ch:
			batch = append(batch, rec)
			if len(batch) >= writeBatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-w.done:
			for {
				select {
				case rec := <-w.ch:
					batch = append(batch, rec)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close drains the buffer, flushes and releases the store.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	return w.store.Close()
}
