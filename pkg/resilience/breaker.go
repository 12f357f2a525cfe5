// Package resilience provides the shared admission-control primitives: a
// three-state circuit breaker guarding the orchestrator path and a token
// bucket limiting inbound request rate.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute when the breaker is open and the
// recovery timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a CircuitBreaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a CircuitBreaker.
type BreakerConfig struct {
	// Name is a label used in log messages.
	Name string

	// FailureThreshold is the number of consecutive failures in the closed
	// state before the breaker opens. Default: 5.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before permitting
	// half-open probes. Default: 30s.
	RecoveryTimeout time.Duration

	// HalfOpenMax is the number of probe calls allowed in the half-open
	// state. Default is 1: a single probe decides closed vs re-open.
	HalfOpenMax int
}

// CircuitBreaker implements the three-state breaker pattern. State
// transitions within one recovery cycle are monotonic:
// closed → open → half_open → (closed | open).
// Safe for concurrent use.
type CircuitBreaker struct {
	name            string
	threshold       int
	recoveryTimeout time.Duration
	halfOpenMax     int

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	halfOpenCalls   int
	halfOpenFails   int
}

// NewCircuitBreaker creates a breaker with the supplied configuration.
// Zero-value fields get defaults.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &CircuitBreaker{
		name:            cfg.Name,
		threshold:       cfg.FailureThreshold,
		recoveryTimeout: cfg.RecoveryTimeout,
		halfOpenMax:     cfg.HalfOpenMax,
		state:           StateClosed,
	}
}

// Execute runs fn if the breaker allows it. In the open state it returns
// ErrCircuitOpen without calling fn. In the half-open state only the probe
// budget is permitted through.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.recoveryTimeout {
			cb.state = StateHalfOpen
			cb.halfOpenCalls = 0
			cb.halfOpenFails = 0
			slog.Info("Circuit breaker half-open", "name", cb.name)
		} else {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}

	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMax {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	inHalfOpen := cb.state == StateHalfOpen
	if inHalfOpen {
		cb.halfOpenCalls++
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailure(inHalfOpen)
	} else {
		cb.recordSuccess(inHalfOpen)
	}
	return err
}

// recordFailure must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(inHalfOpen bool) {
	cb.openedAt = time.Now()

	if inHalfOpen {
		cb.halfOpenFails++
		// Any probe failure re-opens immediately.
		cb.state = StateOpen
		cb.consecutiveFail = cb.threshold
		slog.Warn("Circuit breaker re-opened from half-open", "name", cb.name)
		return
	}

	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.threshold {
		cb.state = StateOpen
		slog.Warn("Circuit breaker opened",
			"name", cb.name,
			"consecutive_failures", cb.consecutiveFail)
	}
}

// recordSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(inHalfOpen bool) {
	if inHalfOpen {
		successes := cb.halfOpenCalls - cb.halfOpenFails
		if successes >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.consecutiveFail = 0
			cb.halfOpenCalls = 0
			cb.halfOpenFails = 0
			slog.Info("Circuit breaker closed after successful probe", "name", cb.name)
		}
		return
	}

	cb.consecutiveFail = 0
}

// State returns the breaker's current state. If the breaker is open and the
// recovery timeout has elapsed, StateHalfOpen is reported; the actual
// transition happens on the next Execute call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.recoveryTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to closed, clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.halfOpenCalls = 0
	cb.halfOpenFails = 0
	slog.Info("Circuit breaker reset", "name", cb.name)
}
