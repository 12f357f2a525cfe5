// Package faults defines the closed error taxonomy shared by the gateway,
// router, cache and search layers. Every failure that crosses a component
// boundary is classified into exactly one Kind so callers branch on kind,
// never on error strings.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	// KindUnknown is any failure outside the closed taxonomy.
	KindUnknown Kind = iota

	// KindRateLimited: the admission token bucket rejected the request.
	// Surfaces as 429; never retried.
	KindRateLimited

	// KindCircuitOpen: the orchestrator breaker is open. Triggers the
	// local fallback path internally.
	KindCircuitOpen

	// KindUpstreamError: a provider returned 5xx or the connection failed.
	// Counts as a breaker failure; a higher layer may retry.
	KindUpstreamError

	// KindBadRequest: a provider returned 4xx (including auth errors).
	// Surfaces to the caller; never retried.
	KindBadRequest

	// KindProviderNotConfigured: cloud credentials missing or disabled.
	KindProviderNotConfigured

	// KindParseFailure: LLM output was not valid JSON where structured
	// output was expected. Callers degrade to a heuristic fallback.
	KindParseFailure

	// KindTimeout: a per-call or global deadline expired. Swallowed in
	// parallel fan-outs, surfaced for single-shot calls.
	KindTimeout

	// KindCacheSkip: a never-cache rule matched. Internal only.
	KindCacheSkip
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindCircuitOpen:
		return "circuit_open"
	case KindUpstreamError:
		return "upstream_error"
	case KindBadRequest:
		return "bad_request"
	case KindProviderNotConfigured:
		return "provider_not_configured"
	case KindParseFailure:
		return "parse_failure"
	case KindTimeout:
		return "timeout"
	case KindCacheSkip:
		return "cache_skip"
	default:
		return "unknown"
	}
}

// Fault is the concrete error carrying a taxonomy kind plus whatever the
// failing layer knew: the upstream HTTP status, the provider or backend tag
// and the wrapped cause.
type Fault struct {
	Kind     Kind
	Message  string
	Status   int    // upstream HTTP status, 0 when not applicable
	Provider string // provider or backend name, "" when not applicable
	Err      error
}

func (f *Fault) Error() string {
	switch {
	case f.Provider != "" && f.Err != nil:
		return fmt.Sprintf("%s (%s): %s: %v", f.Kind, f.Provider, f.Message, f.Err)
	case f.Provider != "":
		return fmt.Sprintf("%s (%s): %s", f.Kind, f.Provider, f.Message)
	case f.Err != nil:
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	default:
		return fmt.Sprintf("%s: %s", f.Kind, f.Message)
	}
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Is matches two faults by kind, so errors.Is(err, &Fault{Kind: k}) works.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	if !ok {
		return false
	}
	return f.Kind == t.Kind
}

// New creates a fault with the given kind and message.
func New(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error under a kind.
func Wrap(kind Kind, err error, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Upstream builds an upstream_error or bad_request fault from a provider
// HTTP status: 4xx classifies as bad_request, everything else as
// upstream_error.
func Upstream(provider string, status int, err error) *Fault {
	kind := KindUpstreamError
	if status >= 400 && status < 500 {
		kind = KindBadRequest
	}
	return &Fault{
		Kind:     kind,
		Message:  fmt.Sprintf("provider returned HTTP %d", status),
		Status:   status,
		Provider: provider,
		Err:      err,
	}
}

// KindOf extracts the taxonomy kind from any error. Context deadline and
// cancellation errors classify as timeout; everything unclassified is
// KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}

	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a fault kind to the status code the gateway returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindBadRequest, KindParseFailure:
		return http.StatusBadRequest
	case KindUpstreamError:
		return http.StatusBadGateway
	case KindCircuitOpen, KindProviderNotConfigured:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
