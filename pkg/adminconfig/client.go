package adminconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/faults"
	"github.com/hearthd/hearth/pkg/httpclient"
)

// Client talks to the admin API. All calls are authenticated reads;
// writes happen out of band through the admin surface itself.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *httpclient.Client
}

func NewClient(cfg *config.AdminConfig) (*Client, error) {
	if cfg == nil || cfg.APIURL == "" {
		return nil, faults.New(faults.KindProviderNotConfigured, "admin API URL is not configured")
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.APIURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: httpclient.New(
			httpclient.WithTimeout(cfg.Timeout),
			httpclient.WithMaxRetries(1),
		),
	}, nil
}

// Features returns every flag the store knows.
func (c *Client) Features(ctx context.Context) ([]FeatureFlag, error) {
	var flags []FeatureFlag
	if err := c.getJSON(ctx, "/api/features", &flags); err != nil {
		return nil, err
	}
	return flags, nil
}

// Feature returns a single flag by name.
func (c *Client) Feature(ctx context.Context, name string) (*FeatureFlag, error) {
	var flag FeatureFlag
	if err := c.getJSON(ctx, "/api/features/"+url.PathEscape(name), &flag); err != nil {
		return nil, err
	}
	return &flag, nil
}

// Backends returns the backend descriptors the admin store routes to.
func (c *Client) Backends(ctx context.Context) ([]BackendDescriptor, error) {
	var backends []BackendDescriptor
	if err := c.getJSON(ctx, "/api/backends", &backends); err != nil {
		return nil, err
	}
	return backends, nil
}

// ModelConfigs returns the named generation parameter sets.
func (c *Client) ModelConfigs(ctx context.Context) ([]ModelConfig, error) {
	var models []ModelConfig
	if err := c.getJSON(ctx, "/api/model-configs", &models); err != nil {
		return nil, err
	}
	return models, nil
}

// IntentRoutes returns the intent-to-backend routing table.
func (c *Client) IntentRoutes(ctx context.Context) ([]IntentRoute, error) {
	var routes []IntentRoute
	if err := c.getJSON(ctx, "/api/intent-routes", &routes); err != nil {
		return nil, err
	}
	return routes, nil
}

// ComponentAssignments returns the component-model bindings.
func (c *Client) ComponentAssignments(ctx context.Context) ([]ComponentAssignment, error) {
	var assignments []ComponentAssignment
	if err := c.getJSON(ctx, "/api/component-models", &assignments); err != nil {
		return nil, err
	}
	return assignments, nil
}

// Credential fetches the decrypted API key for one provider. The admin
// API decrypts on demand and only answers authenticated callers on the
// trusted network.
func (c *Client) Credential(ctx context.Context, provider string) (*Credential, error) {
	var cred Credential
	if err := c.getJSON(ctx, "/api/credentials/"+url.PathEscape(provider), &cred); err != nil {
		return nil, err
	}
	if cred.APIKey == "" {
		return nil, faults.New(faults.KindProviderNotConfigured, "admin store has no credential for %q", provider)
	}
	return &cred, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create admin request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if resp == nil {
		return faults.Wrap(faults.KindUpstreamError, err, "admin API request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return faults.Upstream("admin", resp.StatusCode, fmt.Errorf("%s", string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return faults.Wrap(faults.KindParseFailure, err, "failed to decode admin response")
	}
	return nil
}
