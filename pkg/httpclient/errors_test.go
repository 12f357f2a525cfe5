package httpclient

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryableErrorError(t *testing.T) {
	tests := []struct {
		name string
		err  *RetryableError
		want string
	}{
		{
			name: "with_retry_after",
			err: &RetryableError{
				StatusCode: 429,
				Message:    "rate limited",
				RetryAfter: 30 * time.Second,
			},
			want: "HTTP 429: rate limited (retry after 30s)",
		},
		{
			name: "without_retry_after",
			err: &RetryableError{
				StatusCode: 502,
				Message:    "bad gateway",
			},
			want: "HTTP 502: bad gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRetryableErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := &RetryableError{StatusCode: 503, Message: "unavailable", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}

	var re *RetryableError
	wrapped := fmt.Errorf("request failed: %w", err)
	if !errors.As(wrapped, &re) {
		t.Fatal("errors.As should find RetryableError in chain")
	}
	if re.StatusCode != 503 {
		t.Errorf("StatusCode = %d, want 503", re.StatusCode)
	}

	if (&RetryableError{}).Unwrap() != nil {
		t.Error("Unwrap of empty error should be nil")
	}
}

func TestRetryableErrorIsRetryable(t *testing.T) {
	if !(&RetryableError{StatusCode: 429}).IsRetryable() {
		t.Error("RetryableError must report retryable")
	}
}
