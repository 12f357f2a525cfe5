package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/faults"
	"github.com/hearthd/hearth/pkg/httpclient"
)

// SearXNG queries a self-hosted SearXNG instance over its JSON API.
// There is no default endpoint: the instance URL comes from config.
type SearXNG struct {
	baseURL string
	client  *httpclient.Client
}

func NewSearXNG(cfg *config.SearchProviderConfig) *SearXNG {
	baseURL := ""
	if cfg != nil {
		baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &SearXNG{
		baseURL: baseURL,
		client:  newProviderHTTPClient(),
	}
}

func (s *SearXNG) Name() string { return "searxng" }

func (s *SearXNG) Close() error { return nil }

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (s *SearXNG) Search(ctx context.Context, query, location string, limit int) ([]Result, error) {
	if s.baseURL == "" {
		return nil, faults.New(faults.KindProviderNotConfigured, "searxng requires a base_url")
	}

	q := query
	if location != "" {
		q = query + " " + location
	}
	params := url.Values{
		"q":      {q},
		"format": {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := s.client.Do(req)
	if resp == nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "searxng request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, faults.Upstream("searxng", resp.StatusCode, nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "failed to read searxng response")
	}
	var parsed searxngResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, faults.Wrap(faults.KindParseFailure, err, "failed to decode searxng response")
	}

	now := time.Now()
	results := make([]Result, 0, len(parsed.Results))
	for i, hit := range parsed.Results {
		if i >= limit {
			break
		}
		results = append(results, Result{
			Source:      "searxng",
			Title:       hit.Title,
			Snippet:     truncateSnippet(hit.Content, 300),
			URL:         hit.URL,
			Confidence:  rankConfidence(i),
			RetrievedAt: now,
		})
	}
	return results, nil
}
