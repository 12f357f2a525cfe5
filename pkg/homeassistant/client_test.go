package homeassistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/faults"
)

func testClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(config.HomeAssistantConfig{
		BaseURL: serverURL,
		Token:   "test-token",
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClient_States(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Expected bearer token, got %q", got)
		}
		if r.URL.Path != "/api/states" {
			t.Errorf("Expected /api/states, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"entity_id":"light.living_room","state":"on","attributes":{"friendly_name":"Living Room","brightness":254}},
			{"entity_id":"lock.front_door","state":"locked","attributes":{}}
		]`))
	}))
	defer server.Close()

	states, err := testClient(t, server.URL).States(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 states, got %d", len(states))
	}
	if states[0].Domain() != "light" || states[0].ObjectID() != "living_room" {
		t.Errorf("domain/object = %q/%q", states[0].Domain(), states[0].ObjectID())
	}
	if states[0].FriendlyName() != "Living Room" {
		t.Errorf("friendly name = %q", states[0].FriendlyName())
	}
	if states[1].FriendlyName() != "front door" {
		t.Errorf("fallback friendly name = %q", states[1].FriendlyName())
	}
}

func TestClient_StateNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := testClient(t, server.URL).State(context.Background(), "light.nope")
	if !faults.IsKind(err, faults.KindBadRequest) {
		t.Fatalf("expected a bad-request fault for unknown entity, got %v", err)
	}
}

func TestClient_CallService(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/services/light/turn_on" {
			t.Errorf("Expected service path, got %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("Failed to decode body: %v", err)
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	err := testClient(t, server.URL).CallService(context.Background(), "light", "turn_on", map[string]any{
		"entity_id":      "light.kitchen",
		"brightness_pct": 50,
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotBody["entity_id"] != "light.kitchen" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestClient_GroupMembers(t *testing.T) {
	state := EntityState{
		EntityID: "light.downstairs_group",
		Attributes: map[string]any{
			"entity_id": []any{"light.living_room", "light.kitchen"},
		},
	}
	members := state.GroupMembers()
	if len(members) != 2 || members[0] != "light.living_room" {
		t.Errorf("members = %v", members)
	}

	if got := (EntityState{EntityID: "light.solo"}).GroupMembers(); got != nil {
		t.Errorf("expected nil members, got %v", got)
	}
}

func TestNewClient_RequiresConfig(t *testing.T) {
	if _, err := NewClient(config.HomeAssistantConfig{Token: "t"}); !faults.IsKind(err, faults.KindProviderNotConfigured) {
		t.Errorf("expected not-configured fault without base_url, got %v", err)
	}
	if _, err := NewClient(config.HomeAssistantConfig{BaseURL: "http://ha.local:8123"}); !faults.IsKind(err, faults.KindProviderNotConfigured) {
		t.Errorf("expected not-configured fault without token, got %v", err)
	}
}

func TestRoomSlug(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Living Room", "living_room"},
		{"  kitchen ", "kitchen"},
		{"Master  Bedroom", "master_bedroom"},
	}
	for _, tt := range tests {
		if got := RoomSlug(tt.in); got != tt.want {
			t.Errorf("RoomSlug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
