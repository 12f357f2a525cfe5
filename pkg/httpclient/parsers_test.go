package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func headersFrom(m map[string]string) http.Header {
	h := http.Header{}
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

func TestParseOpenAIHeaders(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		expected RateLimitInfo
	}{
		{
			name:     "empty_headers",
			headers:  map[string]string{},
			expected: RateLimitInfo{},
		},
		{
			name:     "retry_after_seconds",
			headers:  map[string]string{"Retry-After": "30"},
			expected: RateLimitInfo{RetryAfter: 30 * time.Second},
		},
		{
			name:     "retry_after_invalid",
			headers:  map[string]string{"Retry-After": "soon"},
			expected: RateLimitInfo{},
		},
		{
			name:     "token_reset_time",
			headers:  map[string]string{"x-ratelimit-reset-tokens": "1640995200"},
			expected: RateLimitInfo{ResetTime: 1640995200},
		},
		{
			name: "token_reset_priority_over_request_reset",
			headers: map[string]string{
				"x-ratelimit-reset-tokens":   "1640995200",
				"x-ratelimit-reset-requests": "1640995300",
			},
			expected: RateLimitInfo{ResetTime: 1640995200},
		},
		{
			name: "remaining_counters",
			headers: map[string]string{
				"x-ratelimit-remaining-requests": "99",
				"x-ratelimit-remaining-tokens":   "14500",
			},
			expected: RateLimitInfo{RequestsRemaining: 99, TokensRemaining: 14500},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseOpenAIHeaders(headersFrom(tt.headers))
			if got != tt.expected {
				t.Errorf("ParseOpenAIHeaders() = %+v, want %+v", got, tt.expected)
			}
		})
	}
}

func TestParseAnthropicHeaders(t *testing.T) {
	resetAt := time.Now().Add(time.Minute).UTC().Truncate(time.Second)

	tests := []struct {
		name     string
		headers  map[string]string
		expected RateLimitInfo
	}{
		{
			name:     "retry_after",
			headers:  map[string]string{"retry-after": "12"},
			expected: RateLimitInfo{RetryAfter: 12 * time.Second},
		},
		{
			name: "rfc3339_reset",
			headers: map[string]string{
				"anthropic-ratelimit-input-tokens-reset": resetAt.Format(time.RFC3339),
			},
			expected: RateLimitInfo{ResetTime: resetAt.Unix()},
		},
		{
			name: "remaining_counters",
			headers: map[string]string{
				"anthropic-ratelimit-requests-remaining":      "50",
				"anthropic-ratelimit-input-tokens-remaining":  "10000",
				"anthropic-ratelimit-output-tokens-remaining": "2000",
			},
			expected: RateLimitInfo{
				RequestsRemaining:     50,
				InputTokensRemaining:  10000,
				OutputTokensRemaining: 2000,
			},
		},
		{
			name:     "malformed_reset_ignored",
			headers:  map[string]string{"anthropic-ratelimit-requests-reset": "not-a-time"},
			expected: RateLimitInfo{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAnthropicHeaders(headersFrom(tt.headers))
			if got != tt.expected {
				t.Errorf("ParseAnthropicHeaders() = %+v, want %+v", got, tt.expected)
			}
		})
	}
}

func TestParseGoogleHeaders(t *testing.T) {
	got := ParseGoogleHeaders(headersFrom(map[string]string{"Retry-After": "5"}))
	if got.RetryAfter != 5*time.Second {
		t.Errorf("Expected RetryAfter=5s, got %v", got.RetryAfter)
	}

	if got := ParseGoogleHeaders(http.Header{}); got != (RateLimitInfo{}) {
		t.Errorf("Expected zero info for empty headers, got %+v", got)
	}
}
