package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hearthd/hearth/pkg/adminconfig"
	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/llms"
)

type fakeGateway struct {
	chats     int
	responses int
	models    int
	panics    bool
}

func (g *fakeGateway) HandleChatCompletions(w http.ResponseWriter, _ *http.Request) {
	if g.panics {
		panic("handler exploded")
	}
	g.chats++
	writeJSON(w, http.StatusOK, map[string]string{"object": "chat.completion"})
}

func (g *fakeGateway) HandleResponses(w http.ResponseWriter, _ *http.Request) {
	g.responses++
	writeJSON(w, http.StatusOK, map[string]string{"object": "response"})
}

func (g *fakeGateway) HandleModels(w http.ResponseWriter, _ *http.Request) {
	g.models++
	writeJSON(w, http.StatusOK, map[string]string{"object": "list"})
}

type fakePlane struct {
	flags            []adminconfig.FeatureFlag
	invalidated      [][]string
	credsInvalidated int
	refreshed        int
}

func (p *fakePlane) CachedFlags() []adminconfig.FeatureFlag { return p.flags }

func (p *fakePlane) Invalidate(names []string) int {
	p.invalidated = append(p.invalidated, names)
	if len(names) == 0 {
		return len(p.flags)
	}
	return len(names)
}

func (p *fakePlane) InvalidateCredentials() { p.credsInvalidated++ }
func (p *fakePlane) Refresh()               { p.refreshed++ }

type fakeReporter struct {
	report llms.MetricsReport
}

func (f fakeReporter) ReportMetrics() llms.MetricsReport { return f.report }

func serverConfig() *config.Config {
	cfg := &config.Config{}
	cfg.SetDefaults()
	return cfg
}

func serve(handler http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGatewayRoutes(t *testing.T) {
	gw := &fakeGateway{}
	srv := New(serverConfig(), gw)

	if rec := serve(srv.Handler(), http.MethodPost, "/v1/chat/completions", "{}"); rec.Code != http.StatusOK {
		t.Errorf("POST /v1/chat/completions = %d, want 200", rec.Code)
	}
	if rec := serve(srv.Handler(), http.MethodPost, "/v1/responses", "{}"); rec.Code != http.StatusOK {
		t.Errorf("POST /v1/responses = %d, want 200", rec.Code)
	}
	if rec := serve(srv.Handler(), http.MethodGet, "/v1/models", ""); rec.Code != http.StatusOK {
		t.Errorf("GET /v1/models = %d, want 200", rec.Code)
	}
	if gw.chats != 1 || gw.responses != 1 || gw.models != 1 {
		t.Errorf("handler calls = %d/%d/%d, want 1/1/1", gw.chats, gw.responses, gw.models)
	}

	// Wrong method does not reach the handler.
	if rec := serve(srv.Handler(), http.MethodGet, "/v1/chat/completions", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /v1/chat/completions = %d, want 405", rec.Code)
	}
	if gw.chats != 1 {
		t.Errorf("chat calls after 405 = %d, want 1", gw.chats)
	}
}

func TestRouterMetricsRoute(t *testing.T) {
	report := llms.MetricsReport{WindowSize: 256, Overall: llms.Aggregate{Requests: 4}}
	srv := New(serverConfig(), &fakeGateway{}, WithRouterMetrics(fakeReporter{report: report}))

	rec := serve(srv.Handler(), http.MethodGet, "/v1/router/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"window_size":256`) {
		t.Errorf("body %q missing window_size", rec.Body.String())
	}
}

func TestRouterMetricsUnwired(t *testing.T) {
	srv := New(serverConfig(), &fakeGateway{})

	rec := serve(srv.Handler(), http.MethodGet, "/v1/router/metrics", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	promStub := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("# HELP hearth_requests_total\n"))
	})
	srv := New(serverConfig(), &fakeGateway{}, WithMetricsHandler(promStub))

	rec := serve(srv.Handler(), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hearth_requests_total") {
		t.Errorf("body %q missing exposition text", rec.Body.String())
	}
}

func TestMetricsRouteUnwired(t *testing.T) {
	srv := New(serverConfig(), &fakeGateway{})

	rec := serve(srv.Handler(), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestAuthProtectsAPIRoutes(t *testing.T) {
	cfg := serverConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.APIKeys = []string{"household-key"}
	srv := New(cfg, &fakeGateway{})

	rec := serve(srv.Handler(), http.MethodGet, "/v1/models", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("GET /v1/models without key = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("X-API-Key", "household-key")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /v1/models with key = %d, want 200", rec.Code)
	}

	// Probes stay open.
	if rec := serve(srv.Handler(), http.MethodGet, "/health/live", ""); rec.Code != http.StatusOK {
		t.Errorf("GET /health/live without key = %d, want 200", rec.Code)
	}
	if rec := serve(srv.Handler(), http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK && rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /metrics without key = %d, want reachable", rec.Code)
	}
}

func TestRecovererTurnsPanicInto500(t *testing.T) {
	srv := New(serverConfig(), &fakeGateway{panics: true})

	rec := serve(srv.Handler(), http.MethodPost, "/v1/chat/completions", "{}")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestHealthRoutesMounted(t *testing.T) {
	srv := New(serverConfig(), &fakeGateway{})

	for path, want := range map[string]int{
		"/health":         http.StatusOK,
		"/health/live":    http.StatusOK,
		"/health/ready":   http.StatusServiceUnavailable, // not started yet
		"/health/startup": http.StatusServiceUnavailable,
	} {
		rec := serve(srv.Handler(), http.MethodGet, path, "")
		if rec.Code != want {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, want)
		}
	}

	srv.Health().MarkStarted()
	rec := serve(srv.Handler(), http.MethodGet, "/health/startup", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health/startup after start = %d, want 200", rec.Code)
	}
}

func TestServerLifecycle(t *testing.T) {
	cfg := serverConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	srv := New(cfg, &fakeGateway{})
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a := srv.Address(); !strings.HasSuffix(a, ":0") {
			addr = a
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("server did not bind a port")
	}

	resp, err := http.Get("http://" + addr + "/health/live")
	if err != nil {
		t.Fatalf("GET /health/live: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("live status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get("http://" + addr + "/health/startup")
	if err != nil {
		t.Fatalf("GET /health/startup: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("startup status = %d, want 200 once serving", resp.StatusCode)
	}

	if err := srv.StopWithTimeout(); err != nil {
		t.Fatalf("StopWithTimeout: %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestStopWithoutStart(t *testing.T) {
	srv := New(serverConfig(), &fakeGateway{})
	if err := srv.StopWithTimeout(); err != nil {
		t.Fatalf("StopWithTimeout on idle server: %v", err)
	}
}
