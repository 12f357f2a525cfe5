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

const eventbriteEndpoint = "https://www.eventbriteapi.com/v3/events/search/"

// Eventbrite covers the community and local events Ticketmaster does
// not list.
type Eventbrite struct {
	token    string
	endpoint string
	client   *httpclient.Client
}

func NewEventbrite(cfg *config.SearchProviderConfig) *Eventbrite {
	endpoint := eventbriteEndpoint
	token := ""
	if cfg != nil {
		if cfg.BaseURL != "" {
			endpoint = cfg.BaseURL
		}
		token = cfg.APIKey
	}
	return &Eventbrite{
		token:    token,
		endpoint: endpoint,
		client:   newProviderHTTPClient(),
	}
}

func (e *Eventbrite) Name() string { return "eventbrite" }

func (e *Eventbrite) Close() error { return nil }

type eventbriteResponse struct {
	Events []struct {
		Name struct {
			Text string `json:"text"`
		} `json:"name"`
		Description struct {
			Text string `json:"text"`
		} `json:"description"`
		URL   string `json:"url"`
		Start struct {
			Local string `json:"local"`
		} `json:"start"`
		IsFree bool `json:"is_free"`
		Venue  struct {
			Name    string `json:"name"`
			Address struct {
				City   string `json:"city"`
				Region string `json:"region"`
			} `json:"address"`
		} `json:"venue"`
	} `json:"events"`
}

func (e *Eventbrite) Search(ctx context.Context, query, location string, limit int) ([]Result, error) {
	if e.token == "" {
		return nil, faults.New(faults.KindProviderNotConfigured, "eventbrite requires an API token")
	}

	params := url.Values{
		"q":      {query},
		"expand": {"venue"},
	}
	if location != "" {
		params.Set("location.address", location)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token)

	resp, err := e.client.Do(req)
	if resp == nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "eventbrite request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, faults.Upstream("eventbrite", resp.StatusCode, nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "failed to read eventbrite response")
	}
	var parsed eventbriteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, faults.Wrap(faults.KindParseFailure, err, "failed to decode eventbrite response")
	}

	now := time.Now()
	results := make([]Result, 0, len(parsed.Events))
	for i, ev := range parsed.Events {
		if i >= limit {
			break
		}
		r := Result{
			Source:      "eventbrite",
			Title:       ev.Name.Text,
			Snippet:     truncateSnippet(ev.Description.Text, 300),
			URL:         ev.URL,
			Confidence:  rankConfidence(i),
			RetrievedAt: now,
			Venue:       ev.Venue.Name,
		}
		if ev.Start.Local != "" {
			r.EventDate = strings.Replace(ev.Start.Local, "T", " ", 1)
		}
		if ev.Venue.Address.City != "" {
			r.Location = ev.Venue.Address.City
			if ev.Venue.Address.Region != "" {
				r.Location += ", " + ev.Venue.Address.Region
			}
		}
		if ev.IsFree {
			r.PriceRange = "free"
		}
		results = append(results, r)
	}
	return results, nil
}
