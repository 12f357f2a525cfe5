package gateway

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hearthd/hearth/pkg/homeassistant"
)

// StatesLister is the slice of the Home Assistant client room
// detection needs. *homeassistant.Client satisfies it.
type StatesLister interface {
	States(ctx context.Context) ([]homeassistant.EntityState, error)
}

const (
	// roomCacheTTL bounds how stale a cached room answer may be. The
	// speaker that heard the wake word does not move between turns of
	// the same exchange.
	roomCacheTTL = 5 * time.Second

	roomCacheSize = 128

	// recentActivityWindow is how far back a satellite's last state
	// change still counts as "this one heard the query".
	recentActivityWindow = 10 * time.Second

	flagRoomCache = "room_detection_cache"
)

// satelliteSuffixes are stripped from a satellite's object id to
// recover the room name: assist_satellite.kitchen_assist lives in the
// kitchen.
var satelliteSuffixes = []string{
	"_assist_satellite", "_voice_assistant", "_assist", "_satellite",
	"_voice", "_speaker", "_display",
}

// RoomDetector resolves which room a request came from by looking at
// the voice satellite entities. Results are cached briefly per device
// id when the room_detection_cache flag is on.
type RoomDetector struct {
	home  StatesLister
	flags FlagSource
	cache *expirable.LRU[string, string]
	now   func() time.Time
}

// NewRoomDetector builds a detector. home may be nil, in which case
// Detect always falls back to the provided default.
func NewRoomDetector(home StatesLister, flags FlagSource) *RoomDetector {
	return &RoomDetector{
		home:  home,
		flags: flags,
		cache: expirable.NewLRU[string, string](roomCacheSize, nil, roomCacheTTL),
		now:   time.Now,
	}
}

// Detect returns the room for a request. An explicit room from the
// request wins; then the satellite scan; then fallback. deviceID keys
// the cache and may be empty.
func (d *RoomDetector) Detect(ctx context.Context, deviceID, explicit, fallback string) string {
	if explicit != "" {
		return normalizeRoom(explicit)
	}
	if d == nil || d.home == nil {
		return fallback
	}

	useCache := deviceID != "" && d.flags != nil && d.flags.FlagEnabled(ctx, flagRoomCache)
	if useCache {
		if room, ok := d.cache.Get(deviceID); ok {
			return room
		}
	}

	room := d.scan(ctx)
	if room == "" {
		return fallback
	}
	if useCache {
		d.cache.Add(deviceID, room)
	}
	return room
}

// scan picks the satellite most likely to have heard the query: any
// actively listening one, else the one whose state changed most
// recently inside the activity window.
func (d *RoomDetector) scan(ctx context.Context) string {
	states, err := d.home.States(ctx)
	if err != nil {
		slog.Debug("room detection state fetch failed", "error", err)
		return ""
	}

	sats := satellites(states)
	if len(sats) == 0 {
		return ""
	}

	for _, s := range sats {
		if satelliteActive(s.State) {
			return roomFromSatellite(s)
		}
	}

	sort.Slice(sats, func(i, j int) bool {
		return sats[i].LastChanged.After(sats[j].LastChanged)
	})
	if d.now().Sub(sats[0].LastChanged) <= recentActivityWindow {
		return roomFromSatellite(sats[0])
	}
	return ""
}

func satellites(states []homeassistant.EntityState) []homeassistant.EntityState {
	var out []homeassistant.EntityState
	for _, s := range states {
		switch s.Domain() {
		case "assist_satellite":
			out = append(out, s)
		case "media_player":
			obj := s.ObjectID()
			if strings.Contains(obj, "satellite") || strings.Contains(obj, "assist") || strings.Contains(obj, "voice") {
				out = append(out, s)
			}
		}
	}
	return out
}

// satelliteActive reports whether a satellite state means it is mid
// exchange rather than parked.
func satelliteActive(state string) bool {
	switch state {
	case "idle", "off", "standby", "unavailable", "unknown", "":
		return false
	}
	return true
}

func roomFromSatellite(s homeassistant.EntityState) string {
	obj := s.ObjectID()
	for _, suffix := range satelliteSuffixes {
		if trimmed := strings.TrimSuffix(obj, suffix); trimmed != obj && trimmed != "" {
			return trimmed
		}
	}
	return obj
}

func normalizeRoom(room string) string {
	return strings.ReplaceAll(strings.TrimSpace(strings.ToLower(room)), " ", "_")
}
