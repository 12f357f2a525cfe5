package llms

import (
	"sync"
	"time"
)

// CallSample is one completed backend call in the rolling window.
type CallSample struct {
	Timestamp    time.Time     `json:"timestamp"`
	Model        string        `json:"model"`
	Backend      string        `json:"backend"`
	Latency      time.Duration `json:"-"`
	LatencyMS    int64         `json:"latency_ms"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	TokensPerSec float64       `json:"tokens_per_sec"`
	Streaming    bool          `json:"streaming"`
	Failed       bool          `json:"failed"`
}

// Aggregate summarizes a slice of the window.
type Aggregate struct {
	Requests        int     `json:"requests"`
	Failures        int     `json:"failures"`
	AvgLatencyMS    float64 `json:"avg_latency_ms"`
	AvgTokensPerSec float64 `json:"avg_tokens_per_sec"`
	InputTokens     int     `json:"input_tokens"`
	OutputTokens    int     `json:"output_tokens"`
}

// MetricsReport is the report_metrics payload: overall plus per-model
// and per-backend breakdowns over the current window.
type MetricsReport struct {
	WindowSize int                  `json:"window_size"`
	Overall    Aggregate            `json:"overall"`
	PerModel   map[string]Aggregate `json:"per_model"`
	PerBackend map[string]Aggregate `json:"per_backend"`
}

// MetricsWindow keeps the most recent N call samples in a ring.
type MetricsWindow struct {
	mu      sync.Mutex
	samples []CallSample
	next    int
	full    bool
}

func NewMetricsWindow(size int) *MetricsWindow {
	if size < 1 {
		size = 1
	}
	return &MetricsWindow{samples: make([]CallSample, size)}
}

// Add records a sample, evicting the oldest once the ring is full.
func (w *MetricsWindow) Add(sample CallSample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	sample.LatencyMS = sample.Latency.Milliseconds()
	if sample.TokensPerSec == 0 && sample.OutputTokens > 0 && sample.Latency > 0 {
		sample.TokensPerSec = float64(sample.OutputTokens) / sample.Latency.Seconds()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = sample
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

// Len reports how many samples the window currently holds.
func (w *MetricsWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.full {
		return len(w.samples)
	}
	return w.next
}

// Report aggregates the current window contents.
func (w *MetricsWindow) Report() MetricsReport {
	w.mu.Lock()
	count := w.next
	if w.full {
		count = len(w.samples)
	}
	snapshot := make([]CallSample, count)
	if w.full {
		copy(snapshot, w.samples[w.next:])
		copy(snapshot[len(w.samples)-w.next:], w.samples[:w.next])
	} else {
		copy(snapshot, w.samples[:w.next])
	}
	w.mu.Unlock()

	report := MetricsReport{
		WindowSize: len(w.samples),
		PerModel:   make(map[string]Aggregate),
		PerBackend: make(map[string]Aggregate),
	}

	type accum struct {
		agg          Aggregate
		latencySum   float64
		tokensPerSum float64
		tpsCount     int
	}

	overall := &accum{}
	perModel := make(map[string]*accum)
	perBackend := make(map[string]*accum)

	add := func(a *accum, s CallSample) {
		a.agg.Requests++
		if s.Failed {
			a.agg.Failures++
		}
		a.agg.InputTokens += s.InputTokens
		a.agg.OutputTokens += s.OutputTokens
		a.latencySum += float64(s.LatencyMS)
		if s.TokensPerSec > 0 {
			a.tokensPerSum += s.TokensPerSec
			a.tpsCount++
		}
	}

	for _, s := range snapshot {
		add(overall, s)
		if _, ok := perModel[s.Model]; !ok {
			perModel[s.Model] = &accum{}
		}
		add(perModel[s.Model], s)
		if _, ok := perBackend[s.Backend]; !ok {
			perBackend[s.Backend] = &accum{}
		}
		add(perBackend[s.Backend], s)
	}

	finish := func(a *accum) Aggregate {
		if a.agg.Requests > 0 {
			a.agg.AvgLatencyMS = a.latencySum / float64(a.agg.Requests)
		}
		if a.tpsCount > 0 {
			a.agg.AvgTokensPerSec = a.tokensPerSum / float64(a.tpsCount)
		}
		return a.agg
	}

	report.Overall = finish(overall)
	for model, a := range perModel {
		report.PerModel[model] = finish(a)
	}
	for backend, a := range perBackend {
		report.PerBackend[backend] = finish(a)
	}

	return report
}
