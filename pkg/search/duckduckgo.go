package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/faults"
	"github.com/hearthd/hearth/pkg/httpclient"
)

const duckDuckGoEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGo scrapes the HTML (no-JS) search frontend. It needs no API
// key, which makes it the always-available fallback provider.
type DuckDuckGo struct {
	endpoint string
	client   *httpclient.Client
}

// NewDuckDuckGo builds the provider. BaseURL is only overridden in
// tests.
func NewDuckDuckGo(cfg *config.SearchProviderConfig) *DuckDuckGo {
	endpoint := duckDuckGoEndpoint
	if cfg != nil && cfg.BaseURL != "" {
		endpoint = cfg.BaseURL
	}
	return &DuckDuckGo{
		endpoint: endpoint,
		client:   newProviderHTTPClient(),
	}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Close() error { return nil }

func (d *DuckDuckGo) Search(ctx context.Context, query, location string, limit int) ([]Result, error) {
	q := query
	if location != "" {
		q = query + " " + location
	}
	form := url.Values{"q": {q}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := d.client.Do(req)
	if resp == nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "duckduckgo request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, faults.Upstream("duckduckgo", resp.StatusCode, nil)
	}

	return parseDuckDuckGoHTML(resp.Body, limit)
}

// parseDuckDuckGoHTML walks the result divs of the HTML frontend. Each
// carries an anchor with class result__a (title and redirect link) and
// a result__snippet element.
func parseDuckDuckGoHTML(r io.Reader, limit int) ([]Result, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, faults.Wrap(faults.KindParseFailure, err, "failed to parse duckduckgo response")
	}

	now := time.Now()
	var results []Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") {
			if res, ok := extractDuckDuckGoResult(n); ok {
				res.Confidence = rankConfidence(len(results))
				res.RetrievedAt = now
				results = append(results, res)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return results, nil
}

func extractDuckDuckGoResult(div *html.Node) (Result, bool) {
	res := Result{Source: "duckduckgo"}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a"):
				res.Title = strings.TrimSpace(textContent(n))
				res.URL = decodeDuckDuckGoURL(attrValue(n, "href"))
			case hasClass(n, "result__snippet"):
				res.Snippet = truncateSnippet(strings.TrimSpace(textContent(n)), 300)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(div)
	return res, res.Title != ""
}

// decodeDuckDuckGoURL unwraps the frontend's redirect links: they are
// protocol-relative and keep the real target in the uddg parameter.
func decodeDuckDuckGoURL(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrValue(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}
