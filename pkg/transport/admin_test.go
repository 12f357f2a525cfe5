package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/hearthd/hearth/pkg/adminconfig"
	"github.com/hearthd/hearth/pkg/config"
)

func TestConfigEndpointRedactsSecrets(t *testing.T) {
	cfg := serverConfig()
	cfg.Backends = map[string]*config.BackendConfig{
		"openai": {APIKey: "sk-super-secret"},
	}
	cfg.SmartHome.HomeAssistant.Token = "ha-long-lived-token"
	srv := New(cfg, &fakeGateway{})

	rec := serve(srv.Handler(), http.MethodGet, "/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "sk-super-secret") || strings.Contains(body, "ha-long-lived-token") {
		t.Error("secrets leaked into /config response")
	}
	if !strings.Contains(body, "[REDACTED]") {
		t.Error("missing redaction marker in /config response")
	}
}

func TestConfigRefresh(t *testing.T) {
	cfg := serverConfig()
	cfg.Gateway.DefaultRoom = "living_room"

	next := serverConfig()
	next.Gateway.DefaultRoom = "den"

	plane := &fakePlane{}
	srv := New(cfg, &fakeGateway{},
		WithPlane(plane),
		WithReload(func(context.Context) (*config.Config, error) { return next, nil }),
	)

	rec := serve(srv.Handler(), http.MethodPost, "/config/refresh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if plane.refreshed != 1 {
		t.Errorf("plane refreshed = %d, want 1", plane.refreshed)
	}

	rec = serve(srv.Handler(), http.MethodGet, "/config", "")
	if !strings.Contains(rec.Body.String(), `"den"`) {
		t.Error("GET /config does not reflect reloaded config")
	}
}

func TestApplyConfig(t *testing.T) {
	cfg := serverConfig()
	cfg.Gateway.DefaultRoom = "living_room"

	next := serverConfig()
	next.Gateway.DefaultRoom = "office"

	plane := &fakePlane{}
	srv := New(cfg, &fakeGateway{}, WithPlane(plane))

	srv.ApplyConfig(next)
	if plane.refreshed != 1 {
		t.Errorf("plane refreshed = %d, want 1", plane.refreshed)
	}

	rec := serve(srv.Handler(), http.MethodGet, "/config", "")
	if !strings.Contains(rec.Body.String(), `"office"`) {
		t.Error("GET /config does not reflect applied config")
	}
}

func TestConfigRefreshFailure(t *testing.T) {
	plane := &fakePlane{}
	srv := New(serverConfig(), &fakeGateway{},
		WithPlane(plane),
		WithReload(func(context.Context) (*config.Config, error) {
			return nil, errors.New("yaml parse error")
		}),
	)

	rec := serve(srv.Handler(), http.MethodPost, "/config/refresh", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if plane.refreshed != 0 {
		t.Errorf("plane refreshed = %d, want 0 after failed reload", plane.refreshed)
	}
}

func TestConfigRefreshWithoutReloadHook(t *testing.T) {
	plane := &fakePlane{}
	srv := New(serverConfig(), &fakeGateway{}, WithPlane(plane))

	rec := serve(srv.Handler(), http.MethodPost, "/config/refresh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if plane.refreshed != 1 {
		t.Errorf("plane refreshed = %d, want 1", plane.refreshed)
	}
}

func TestInvalidateNamedFlags(t *testing.T) {
	plane := &fakePlane{}
	srv := New(serverConfig(), &fakeGateway{}, WithPlane(plane))

	rec := serve(srv.Handler(), http.MethodPost, "/admin/invalidate-feature-cache",
		`{"flags":["semantic_cache","parallel_search"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	if len(plane.invalidated) != 1 {
		t.Fatalf("Invalidate calls = %d, want 1", len(plane.invalidated))
	}
	got := plane.invalidated[0]
	if len(got) != 2 || got[0] != "semantic_cache" || got[1] != "parallel_search" {
		t.Errorf("invalidated names = %v", got)
	}
	if plane.credsInvalidated != 1 {
		t.Errorf("credentials invalidated = %d, want 1", plane.credsInvalidated)
	}

	var body struct {
		Status  string `json:"status"`
		Dropped int    `json:"dropped"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" || body.Dropped != 2 {
		t.Errorf("body = %+v, want status ok dropped 2", body)
	}
}

func TestInvalidateAllFlags(t *testing.T) {
	plane := &fakePlane{flags: []adminconfig.FeatureFlag{
		{Name: "semantic_cache", Enabled: true},
		{Name: "parallel_search", Enabled: false},
	}}
	srv := New(serverConfig(), &fakeGateway{}, WithPlane(plane))

	rec := serve(srv.Handler(), http.MethodPost, "/admin/invalidate-feature-cache", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(plane.invalidated) != 1 || len(plane.invalidated[0]) != 0 {
		t.Errorf("invalidated = %v, want one empty call", plane.invalidated)
	}
	if !strings.Contains(rec.Body.String(), `"dropped":2`) {
		t.Errorf("body %q missing dropped count", rec.Body.String())
	}
}

func TestInvalidateFlagsBadJSON(t *testing.T) {
	srv := New(serverConfig(), &fakeGateway{}, WithPlane(&fakePlane{}))

	rec := serve(srv.Handler(), http.MethodPost, "/admin/invalidate-feature-cache", "{oops")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestInvalidateFlagsWithoutPlane(t *testing.T) {
	srv := New(serverConfig(), &fakeGateway{})

	rec := serve(srv.Handler(), http.MethodPost, "/admin/invalidate-feature-cache", "{}")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestFeatureFlagsDebug(t *testing.T) {
	plane := &fakePlane{flags: []adminconfig.FeatureFlag{
		{Name: "semantic_cache", Enabled: true, Category: "performance"},
		{Name: "llm_intent_classifier", Enabled: false},
	}}
	srv := New(serverConfig(), &fakeGateway{}, WithPlane(plane))

	rec := serve(srv.Handler(), http.MethodGet, "/debug/feature-flags", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Count int                       `json:"count"`
		Flags []adminconfig.FeatureFlag `json:"flags"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Count != 2 || len(body.Flags) != 2 {
		t.Fatalf("count = %d flags = %d, want 2/2", body.Count, len(body.Flags))
	}
	if body.Flags[0].Name != "semantic_cache" {
		t.Errorf("first flag = %q", body.Flags[0].Name)
	}
}

func TestFeatureFlagsWithoutPlane(t *testing.T) {
	srv := New(serverConfig(), &fakeGateway{})

	rec := serve(srv.Handler(), http.MethodGet, "/debug/feature-flags", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
