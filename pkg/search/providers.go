package search

import (
	"context"
	"net/http"
	"time"

	"github.com/hearthd/hearth/pkg/httpclient"
)

// Provider is one upstream search backend. Search returns already
// normalised results; location may be empty. Implementations must
// honour ctx so the engine deadline can cut them off.
type Provider interface {
	Name() string
	Search(ctx context.Context, query, location string, limit int) ([]Result, error)
	Close() error
}

const searchUserAgent = "Mozilla/5.0 (compatible; hearth-search/1.0)"

// newProviderHTTPClient builds the client providers share. No retries:
// a retry would eat the fan-out budget, and a provider that fails once
// simply drops out of this request.
func newProviderHTTPClient() *httpclient.Client {
	return httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: 10 * time.Second}),
		httpclient.WithMaxRetries(0),
	)
}

// rankConfidence scores a hit by its position in the provider's own
// ordering: 0.9 for the first, stepping down to a floor of 0.3.
func rankConfidence(rank int) float64 {
	c := 0.9 - 0.1*float64(rank)
	if c < 0.3 {
		c = 0.3
	}
	return c
}

// truncateSnippet keeps snippets speakable; provider payloads can
// carry whole paragraphs.
func truncateSnippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for i := len(cut) - 1; i > 0; i-- {
		if cut[i] == ' ' {
			return cut[:i] + "…"
		}
	}
	return cut + "…"
}
