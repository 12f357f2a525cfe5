package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hearthd/hearth/pkg/homeassistant"
)

type fakeStates struct {
	mu     sync.Mutex
	states []homeassistant.EntityState
	err    error
	calls  int
}

func (f *fakeStates) States(ctx context.Context) ([]homeassistant.EntityState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.states, f.err
}

func (f *fakeStates) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func sat(id, state string, changed time.Time) homeassistant.EntityState {
	return homeassistant.EntityState{EntityID: id, State: state, LastChanged: changed}
}

func TestDetectExplicitRoomWins(t *testing.T) {
	fs := &fakeStates{}
	d := NewRoomDetector(fs, &fakeFlags{enabled: map[string]bool{}})

	got := d.Detect(context.Background(), "dev1", "Living Room", "kitchen")
	if got != "living_room" {
		t.Fatalf("room = %q, want living_room", got)
	}
	if fs.count() != 0 {
		t.Fatalf("states calls = %d, want 0", fs.count())
	}
}

func TestDetectActiveSatellite(t *testing.T) {
	now := time.Now()
	fs := &fakeStates{states: []homeassistant.EntityState{
		sat("assist_satellite.office_assist", "idle", now.Add(-time.Hour)),
		sat("assist_satellite.kitchen_assist", "listening", now.Add(-time.Second)),
		sat("light.kitchen", "on", now),
	}}
	d := NewRoomDetector(fs, &fakeFlags{enabled: map[string]bool{}})

	got := d.Detect(context.Background(), "dev1", "", "den")
	if got != "kitchen" {
		t.Fatalf("room = %q, want kitchen", got)
	}
}

func TestDetectMostRecentlyChangedSatellite(t *testing.T) {
	base := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	fs := &fakeStates{states: []homeassistant.EntityState{
		sat("assist_satellite.kitchen_assist", "idle", base.Add(-time.Hour)),
		sat("assist_satellite.office_assist", "idle", base.Add(-2*time.Second)),
	}}
	d := NewRoomDetector(fs, &fakeFlags{enabled: map[string]bool{}})
	d.now = func() time.Time { return base }

	got := d.Detect(context.Background(), "dev1", "", "den")
	if got != "office" {
		t.Fatalf("room = %q, want office", got)
	}
}

func TestDetectStaleSatellitesFallBack(t *testing.T) {
	base := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	fs := &fakeStates{states: []homeassistant.EntityState{
		sat("assist_satellite.kitchen_assist", "idle", base.Add(-time.Minute)),
	}}
	d := NewRoomDetector(fs, &fakeFlags{enabled: map[string]bool{}})
	d.now = func() time.Time { return base }

	got := d.Detect(context.Background(), "dev1", "", "bedroom")
	if got != "bedroom" {
		t.Fatalf("room = %q, want bedroom", got)
	}
}

func TestDetectMediaPlayerSatellite(t *testing.T) {
	now := time.Now()
	fs := &fakeStates{states: []homeassistant.EntityState{
		sat("media_player.bedroom_voice", "playing", now),
		sat("media_player.tv", "playing", now),
	}}
	d := NewRoomDetector(fs, &fakeFlags{enabled: map[string]bool{}})

	got := d.Detect(context.Background(), "dev1", "", "den")
	if got != "bedroom" {
		t.Fatalf("room = %q, want bedroom", got)
	}
}

func TestDetectCachesPerDeviceWhenFlagOn(t *testing.T) {
	now := time.Now()
	fs := &fakeStates{states: []homeassistant.EntityState{
		sat("assist_satellite.kitchen_assist", "listening", now),
	}}
	flags := &fakeFlags{enabled: map[string]bool{flagRoomCache: true}}
	d := NewRoomDetector(fs, flags)

	if got := d.Detect(context.Background(), "dev1", "", "den"); got != "kitchen" {
		t.Fatalf("room = %q, want kitchen", got)
	}
	if got := d.Detect(context.Background(), "dev1", "", "den"); got != "kitchen" {
		t.Fatalf("cached room = %q, want kitchen", got)
	}
	if fs.count() != 1 {
		t.Fatalf("states calls = %d, want 1", fs.count())
	}

	// A different device misses the cache.
	d.Detect(context.Background(), "dev2", "", "den")
	if fs.count() != 2 {
		t.Fatalf("states calls = %d, want 2", fs.count())
	}
}

func TestDetectNoCacheWhenFlagOff(t *testing.T) {
	now := time.Now()
	fs := &fakeStates{states: []homeassistant.EntityState{
		sat("assist_satellite.kitchen_assist", "listening", now),
	}}
	d := NewRoomDetector(fs, &fakeFlags{enabled: map[string]bool{}})

	d.Detect(context.Background(), "dev1", "", "den")
	d.Detect(context.Background(), "dev1", "", "den")
	if fs.count() != 2 {
		t.Fatalf("states calls = %d, want 2", fs.count())
	}
}

func TestDetectNoSatellites(t *testing.T) {
	fs := &fakeStates{states: []homeassistant.EntityState{
		sat("light.kitchen", "on", time.Now()),
	}}
	d := NewRoomDetector(fs, &fakeFlags{enabled: map[string]bool{}})

	if got := d.Detect(context.Background(), "dev1", "", "den"); got != "den" {
		t.Fatalf("room = %q, want den", got)
	}
}

func TestDetectStatesErrorFallsBack(t *testing.T) {
	fs := &fakeStates{err: errors.New("connection refused")}
	d := NewRoomDetector(fs, &fakeFlags{enabled: map[string]bool{}})

	if got := d.Detect(context.Background(), "dev1", "", "den"); got != "den" {
		t.Fatalf("room = %q, want den", got)
	}
}
