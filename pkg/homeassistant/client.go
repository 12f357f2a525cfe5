// Package homeassistant is a thin REST client for a Home Assistant
// instance: entity state reads and service calls, nothing more. Device
// semantics live in pkg/smarthome.
package homeassistant

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/faults"
	"github.com/hearthd/hearth/pkg/httpclient"
)

// EntityState is one entity as reported by /api/states.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Domain returns the part before the dot, e.g. "light".
func (e EntityState) Domain() string {
	return Domain(e.EntityID)
}

// ObjectID returns the part after the dot, e.g. "living_room".
func (e EntityState) ObjectID() string {
	return ObjectID(e.EntityID)
}

// FriendlyName returns the configured display name, falling back to
// the object id with underscores spaced out.
func (e EntityState) FriendlyName() string {
	if name, ok := e.Attributes["friendly_name"].(string); ok && name != "" {
		return name
	}
	return strings.ReplaceAll(e.ObjectID(), "_", " ")
}

// GroupMembers returns the member entity ids when this entity is a
// group (light groups expose them under the entity_id attribute).
func (e EntityState) GroupMembers() []string {
	raw, ok := e.Attributes["entity_id"].([]any)
	if !ok {
		return nil
	}
	members := make([]string, 0, len(raw))
	for _, m := range raw {
		if id, ok := m.(string); ok {
			members = append(members, id)
		}
	}
	return members
}

// Domain returns the domain part of an entity id.
func Domain(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i > 0 {
		return entityID[:i]
	}
	return ""
}

// ObjectID returns the object part of an entity id.
func ObjectID(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i >= 0 {
		return entityID[i+1:]
	}
	return entityID
}

// RoomSlug normalises a spoken room name to the underscore form used
// in entity ids: "Living Room" -> "living_room".
func RoomSlug(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(name))), "_")
}

// Client talks to one Home Assistant instance.
type Client struct {
	baseURL    string
	token      string
	httpClient *httpclient.Client
}

// NewClient builds a client from config. The token is the long-lived
// access token Home Assistant issues per user.
func NewClient(cfg config.HomeAssistantConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, faults.New(faults.KindProviderNotConfigured, "home assistant base_url is required")
	}
	if cfg.Token == "" {
		return nil, faults.New(faults.KindProviderNotConfigured, "home assistant token is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	transport := http.DefaultTransport
	if cfg.InsecureSkipVerify {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		transport = t
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout, Transport: transport}),
			httpclient.WithMaxRetries(1),
			httpclient.WithBaseDelay(200*time.Millisecond),
		),
	}, nil
}

// Ping checks the API root; used by readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/", nil)
	if resp == nil {
		return faults.Wrap(faults.KindUpstreamError, err, "home assistant unreachable")
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return faults.Upstream("home_assistant", resp.StatusCode, nil)
	}
	return nil
}

// States returns every entity state.
func (c *Client) States(ctx context.Context) ([]EntityState, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/states", nil)
	if resp == nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "home assistant states request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, faults.Upstream("home_assistant", resp.StatusCode, nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "failed to read states response")
	}
	var states []EntityState
	if err := json.Unmarshal(body, &states); err != nil {
		return nil, faults.Wrap(faults.KindParseFailure, err, "failed to decode states response")
	}
	return states, nil
}

// State returns one entity, or a bad-request fault when Home Assistant
// does not know it.
func (c *Client) State(ctx context.Context, entityID string) (*EntityState, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/states/"+entityID, nil)
	if resp == nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "home assistant state request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, faults.New(faults.KindBadRequest, "unknown entity %q", entityID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, faults.Upstream("home_assistant", resp.StatusCode, nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "failed to read state response")
	}
	var state EntityState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, faults.Wrap(faults.KindParseFailure, err, "failed to decode state response")
	}
	return &state, nil
}

// CallService invokes a service like light.turn_on. data usually
// carries entity_id plus service-specific fields.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/services/"+domain+"/"+service, data)
	if resp == nil {
		return faults.Wrap(faults.KindUpstreamError, err, "home assistant service call %s.%s failed", domain, service)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return faults.Upstream("home_assistant", resp.StatusCode, nil)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
