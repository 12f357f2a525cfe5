package resilience

import (
	"errors"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned by Acquire when the bucket has no tokens.
var ErrRateLimited = errors.New("rate limit exceeded")

// AdmissionLimiter is the process-global token bucket applied to every
// inbound request. Capacity (burst) is 2× the configured requests-per-minute
// and refill runs at RPM/60 tokens per second, so steady-state throughput is
// the configured RPM while short bursts up to twice that are absorbed.
type AdmissionLimiter struct {
	limiter *rate.Limiter
	rpm     int
}

// NewAdmissionLimiter builds a limiter for the given requests-per-minute.
// rpm <= 0 disables limiting (every Acquire succeeds).
func NewAdmissionLimiter(rpm int) *AdmissionLimiter {
	if rpm <= 0 {
		return &AdmissionLimiter{rpm: 0}
	}
	return &AdmissionLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 2*rpm),
		rpm:     rpm,
	}
}

// Acquire takes one token without blocking. Returns ErrRateLimited when the
// bucket is empty; the caller surfaces this as 429 and never retries.
func (l *AdmissionLimiter) Acquire() error {
	if l.limiter == nil {
		return nil
	}
	if !l.limiter.Allow() {
		return ErrRateLimited
	}
	return nil
}

// Allow reports whether a token was available and consumed.
func (l *AdmissionLimiter) Allow() bool {
	return l.Acquire() == nil
}

// Tokens returns the number of tokens currently available, for the debug
// surface. Disabled limiters report -1.
func (l *AdmissionLimiter) Tokens() float64 {
	if l.limiter == nil {
		return -1
	}
	return l.limiter.Tokens()
}

// RPM returns the configured requests-per-minute (0 when disabled).
func (l *AdmissionLimiter) RPM() int {
	return l.rpm
}
