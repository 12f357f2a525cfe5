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

const ticketmasterEndpoint = "https://app.ticketmaster.com/discovery/v2/events.json"

// Ticketmaster queries the Discovery API. It is the authoritative
// source for event search and contributes nothing elsewhere, which the
// fusion authority matrix encodes.
type Ticketmaster struct {
	apiKey   string
	endpoint string
	client   *httpclient.Client
}

func NewTicketmaster(cfg *config.SearchProviderConfig) *Ticketmaster {
	endpoint := ticketmasterEndpoint
	apiKey := ""
	if cfg != nil {
		if cfg.BaseURL != "" {
			endpoint = cfg.BaseURL
		}
		apiKey = cfg.APIKey
	}
	return &Ticketmaster{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   newProviderHTTPClient(),
	}
}

func (t *Ticketmaster) Name() string { return "ticketmaster" }

func (t *Ticketmaster) Close() error { return nil }

type ticketmasterResponse struct {
	Embedded struct {
		Events []ticketmasterEvent `json:"events"`
	} `json:"_embedded"`
}

type ticketmasterEvent struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Info  string `json:"info"`
	Dates struct {
		Start struct {
			LocalDate string `json:"localDate"`
			LocalTime string `json:"localTime"`
		} `json:"start"`
	} `json:"dates"`
	PriceRanges []struct {
		Currency string  `json:"currency"`
		Min      float64 `json:"min"`
		Max      float64 `json:"max"`
	} `json:"priceRanges"`
	Classifications []struct {
		Segment struct {
			Name string `json:"name"`
		} `json:"segment"`
		Genre struct {
			Name string `json:"name"`
		} `json:"genre"`
	} `json:"classifications"`
	Embedded struct {
		Venues []struct {
			Name string `json:"name"`
			City struct {
				Name string `json:"name"`
			} `json:"city"`
			State struct {
				StateCode string `json:"stateCode"`
			} `json:"state"`
		} `json:"venues"`
	} `json:"_embedded"`
}

func (t *Ticketmaster) Search(ctx context.Context, query, location string, limit int) ([]Result, error) {
	if t.apiKey == "" {
		return nil, faults.New(faults.KindProviderNotConfigured, "ticketmaster requires an API key")
	}

	params := url.Values{
		"apikey":  {t.apiKey},
		"keyword": {query},
		"size":    {strconv.Itoa(limit)},
		"sort":    {"date,asc"},
	}
	if location != "" {
		params.Set("city", location)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if resp == nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "ticketmaster request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, faults.Upstream("ticketmaster", resp.StatusCode, nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "failed to read ticketmaster response")
	}
	var parsed ticketmasterResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, faults.Wrap(faults.KindParseFailure, err, "failed to decode ticketmaster response")
	}

	now := time.Now()
	results := make([]Result, 0, len(parsed.Embedded.Events))
	for i, ev := range parsed.Embedded.Events {
		if i >= limit {
			break
		}
		results = append(results, ticketmasterResult(ev, rankConfidence(i), now))
	}
	return results, nil
}

func ticketmasterResult(ev ticketmasterEvent, confidence float64, now time.Time) Result {
	r := Result{
		Source:      "ticketmaster",
		Title:       ev.Name,
		URL:         ev.URL,
		Confidence:  confidence,
		RetrievedAt: now,
	}

	r.EventDate = ev.Dates.Start.LocalDate
	if r.EventDate != "" && len(ev.Dates.Start.LocalTime) >= 5 {
		r.EventDate += " " + ev.Dates.Start.LocalTime[:5]
	}

	if len(ev.Embedded.Venues) > 0 {
		v := ev.Embedded.Venues[0]
		r.Venue = v.Name
		if v.City.Name != "" {
			r.Location = v.City.Name
			if v.State.StateCode != "" {
				r.Location += ", " + v.State.StateCode
			}
		}
	}

	if len(ev.PriceRanges) > 0 {
		pr := ev.PriceRanges[0]
		r.PriceRange = fmt.Sprintf("%.0f-%.0f %s", pr.Min, pr.Max, pr.Currency)
	}

	if ev.Info != "" {
		r.Snippet = truncateSnippet(ev.Info, 300)
	} else {
		snippet := ev.Name
		if r.Venue != "" {
			snippet += " at " + r.Venue
		}
		if r.EventDate != "" {
			snippet += " on " + r.EventDate
		}
		r.Snippet = snippet
	}

	if len(ev.Classifications) > 0 {
		md := make(map[string]string, 2)
		if seg := ev.Classifications[0].Segment.Name; seg != "" {
			md["segment"] = seg
		}
		if genre := ev.Classifications[0].Genre.Name; genre != "" {
			md["genre"] = genre
		}
		if len(md) > 0 {
			r.Metadata = md
		}
	}

	return r
}
