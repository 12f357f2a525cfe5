// Package usage persists per-call accounting records. Records are
// append-only and fire-and-forget: a failed write never fails the
// request that produced it.
package usage

import (
	"time"

	"github.com/google/uuid"
)

// Record is one completed LLM call. Cloud calls carry cost; local calls
// carry zero cost and exist for latency history.
type Record struct {
	ID             string    `json:"id"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	CostUSD        float64   `json:"cost_usd"`
	LatencyMS      int64     `json:"latency_ms"`
	TTFTMS         *int64    `json:"ttft_ms,omitempty"`
	Streaming      bool      `json:"streaming"`
	RequestID      string    `json:"request_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	Intent         string    `json:"intent,omitempty"`
	WasFallback    bool      `json:"was_fallback"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
	StoredAt       time.Time `json:"stored_at"`
}

// Fill assigns the generated fields a caller normally leaves empty.
func (r *Record) Fill() {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StoredAt.IsZero() {
		r.StoredAt = time.Now().UTC()
	}
}

// Recorder accepts records without blocking the caller.
type Recorder interface {
	Submit(rec Record)
}

// NopRecorder discards every record.
type NopRecorder struct{}

func (NopRecorder) Submit(Record) {}
