package resilience

import (
	"errors"
	"testing"
)

func TestAdmissionLimiterBurstCapacity(t *testing.T) {
	rpm := 10
	lim := NewAdmissionLimiter(rpm)

	// Bucket starts full at twice the per-minute rate.
	admitted := 0
	for i := 0; i < 3*rpm; i++ {
		if err := lim.Acquire(); err == nil {
			admitted++
		}
	}
	if admitted != 2*rpm {
		t.Errorf("admitted = %d, want %d (burst capacity)", admitted, 2*rpm)
	}

	// Bucket drained: the next call is rejected with the sentinel.
	err := lim.Acquire()
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}

func TestAdmissionLimiterDisabled(t *testing.T) {
	for _, rpm := range []int{0, -5} {
		lim := NewAdmissionLimiter(rpm)
		for i := 0; i < 1000; i++ {
			if err := lim.Acquire(); err != nil {
				t.Fatalf("rpm=%d: Acquire() = %v, want nil (limiter disabled)", rpm, err)
			}
		}
		if got := lim.Tokens(); got != -1 {
			t.Errorf("rpm=%d: Tokens() = %v, want -1", rpm, got)
		}
	}
}

func TestAdmissionLimiterAllow(t *testing.T) {
	lim := NewAdmissionLimiter(1)
	if !lim.Allow() {
		t.Fatal("first Allow() should succeed")
	}
	if !lim.Allow() {
		t.Fatal("second Allow() should succeed (capacity 2)")
	}
	if lim.Allow() {
		t.Fatal("third Allow() should fail")
	}
}

func TestAdmissionLimiterRPM(t *testing.T) {
	if got := NewAdmissionLimiter(60).RPM(); got != 60 {
		t.Errorf("RPM() = %d, want 60", got)
	}
	if got := NewAdmissionLimiter(0).RPM(); got != 0 {
		t.Errorf("RPM() = %d, want 0", got)
	}
}
