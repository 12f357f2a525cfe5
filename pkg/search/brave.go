package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/faults"
	"github.com/hearthd/hearth/pkg/httpclient"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave talks to the Brave Search API. Results tend to be fresher than
// the scrape providers, so the fusion authority matrix favours it for
// news.
type Brave struct {
	apiKey   string
	endpoint string
	client   *httpclient.Client
}

func NewBrave(cfg *config.SearchProviderConfig) *Brave {
	endpoint := braveEndpoint
	apiKey := ""
	if cfg != nil {
		if cfg.BaseURL != "" {
			endpoint = cfg.BaseURL
		}
		apiKey = cfg.APIKey
	}
	return &Brave{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   newProviderHTTPClient(),
	}
}

func (b *Brave) Name() string { return "brave" }

func (b *Brave) Close() error { return nil }

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Age         string `json:"age"`
		} `json:"results"`
	} `json:"web"`
}

func (b *Brave) Search(ctx context.Context, query, location string, limit int) ([]Result, error) {
	if b.apiKey == "" {
		return nil, faults.New(faults.KindProviderNotConfigured, "brave search requires an API key")
	}

	q := query
	if location != "" {
		q = query + " " + location
	}
	params := url.Values{
		"q":     {q},
		"count": {strconv.Itoa(limit)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if resp == nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "brave request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, faults.Upstream("brave", resp.StatusCode, nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "failed to read brave response")
	}
	var parsed braveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, faults.Wrap(faults.KindParseFailure, err, "failed to decode brave response")
	}

	now := time.Now()
	results := make([]Result, 0, len(parsed.Web.Results))
	for i, hit := range parsed.Web.Results {
		if i >= limit {
			break
		}
		r := Result{
			Source:      "brave",
			Title:       hit.Title,
			Snippet:     truncateSnippet(hit.Description, 300),
			URL:         hit.URL,
			Confidence:  rankConfidence(i),
			RetrievedAt: now,
		}
		if hit.Age != "" {
			r.Metadata = map[string]string{"age": hit.Age}
		}
		results = append(results, r)
	}
	return results, nil
}
