package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hearthd/hearth/pkg/config"
)

func okHandler() (http.Handler, *int) {
	calls := 0
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}), &calls
}

func authedConfig(keys ...string) *config.AuthConfig {
	cfg := &config.AuthConfig{Enabled: true, APIKeys: keys}
	cfg.SetDefaults()
	return cfg
}

func doRequest(handler http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareDisabled(t *testing.T) {
	inner, calls := okHandler()

	for _, cfg := range []*config.AuthConfig{nil, {Enabled: false}} {
		handler := Middleware(cfg, nil)(inner)
		rec := doRequest(handler, "/v1/chat/completions", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("cfg %+v: status = %d, want 200", cfg, rec.Code)
		}
	}
	if *calls != 2 {
		t.Errorf("handler calls = %d, want 2", *calls)
	}
}

func TestMiddlewareBearerAPIKey(t *testing.T) {
	inner, calls := okHandler()
	handler := Middleware(authedConfig("secret-key"), nil)(inner)

	rec := doRequest(handler, "/v1/chat/completions", http.Header{
		"Authorization": {"Bearer secret-key"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if *calls != 1 {
		t.Errorf("handler calls = %d, want 1", *calls)
	}
}

func TestMiddlewareAPIKeyHeader(t *testing.T) {
	inner, _ := okHandler()
	handler := Middleware(authedConfig("secret-key", "second-key"), nil)(inner)

	rec := doRequest(handler, "/v1/models", http.Header{
		"X-API-Key": {"second-key"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMiddlewareWrongKey(t *testing.T) {
	inner, calls := okHandler()
	handler := Middleware(authedConfig("secret-key"), nil)(inner)

	rec := doRequest(handler, "/v1/chat/completions", http.Header{
		"Authorization": {"Bearer wrong-key"},
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if *calls != 0 {
		t.Errorf("handler calls = %d, want 0", *calls)
	}

	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body.Error.Type != "authentication_error" {
		t.Errorf("error type = %q, want authentication_error", body.Error.Type)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate header")
	}
}

func TestMiddlewareMissingCredentials(t *testing.T) {
	inner, _ := okHandler()
	handler := Middleware(authedConfig("secret-key"), nil)(inner)

	rec := doRequest(handler, "/v1/chat/completions", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	// A bare Authorization header without the Bearer scheme is still
	// missing credentials.
	rec = doRequest(handler, "/v1/chat/completions", http.Header{
		"Authorization": {"secret-key"},
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without Bearer prefix = %d, want 401", rec.Code)
	}
}

func TestMiddlewareExcludedPaths(t *testing.T) {
	inner, _ := okHandler()
	handler := Middleware(authedConfig("secret-key"), nil)(inner)

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/health/startup", "/metrics"} {
		rec := doRequest(handler, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200 without credentials", path, rec.Code)
		}
	}

	// Admin surfaces are not excluded.
	rec := doRequest(handler, "/debug/feature-flags", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("/debug/feature-flags: status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareJWT(t *testing.T) {
	id := newTestIdentity(t)
	v := id.validator(t)

	var seen *Claims
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetClaims(r)
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(authedConfig("secret-key"), v)(inner)

	token := id.sign(t, tokenSpec{subject: "user-123", claims: map[string]any{"role": "admin"}})
	rec := doRequest(handler, "/v1/chat/completions", http.Header{
		"Authorization": {"Bearer " + token},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen == nil {
		t.Fatal("claims not propagated to handler")
	}
	if seen.Subject != "user-123" || seen.Role != "admin" {
		t.Errorf("claims = %+v, want subject user-123 role admin", seen)
	}
}

func TestMiddlewareJWTInvalid(t *testing.T) {
	id := newTestIdentity(t)
	v := id.validator(t)

	inner, calls := okHandler()
	handler := Middleware(authedConfig(), v)(inner)

	token := id.sign(t, tokenSpec{subject: "user-123", issuer: "https://evil.test"})
	rec := doRequest(handler, "/v1/chat/completions", http.Header{
		"Authorization": {"Bearer " + token},
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if *calls != 0 {
		t.Errorf("handler calls = %d, want 0", *calls)
	}
}

func TestMiddlewareAPIKeyCarriesNoClaims(t *testing.T) {
	var seen *Claims
	sawRequest := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawRequest = true
		seen = GetClaims(r)
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(authedConfig("secret-key"), nil)(inner)

	doRequest(handler, "/v1/models", http.Header{"X-API-Key": {"secret-key"}})
	if !sawRequest {
		t.Fatal("handler not called")
	}
	if seen != nil {
		t.Errorf("claims = %+v, want nil for API key auth", seen)
	}
}
