// Package smarthome turns free-text device commands into structured
// intents and executes them against Home Assistant. A prioritised rule
// engine handles the common phrasings without an LLM; everything else
// falls through to an LLM extraction that degrades to a minimal on/off
// guess rather than erroring.
package smarthome

// Device types an intent can target.
const (
	DeviceLight       = "light"
	DeviceLock        = "lock"
	DeviceMediaPlayer = "media_player"
	DeviceFan         = "fan"
	DeviceCover       = "cover"
	DeviceClimate     = "climate"
	DeviceBedWarmer   = "bed_warmer"
	DeviceAutomation  = "automation"
	DeviceScene       = "scene"
	DeviceSensor      = "binary_sensor"
	DevicePresence    = "person"
)

// Actions.
const (
	ActionTurnOn         = "turn_on"
	ActionTurnOff        = "turn_off"
	ActionLock           = "lock"
	ActionUnlock         = "unlock"
	ActionOpen           = "open"
	ActionClose          = "close"
	ActionQuery          = "query"
	ActionSetBrightness  = "set_brightness"
	ActionStepBrightness = "step_brightness"
	ActionSetColor       = "set_color"
	ActionSetTemp        = "set_temperature"
	ActionStepTemp       = "step_temperature"
	ActionActivateScene  = "activate_scene"
	ActionSetLevel       = "set_level"
	ActionEnable         = "enable"
	ActionDisable        = "disable"
)

// Target scopes.
const (
	ScopeRoom   = "room"
	ScopeRooms  = "rooms"
	ScopeHouse  = "house"
	ScopeEntity = "entity"
)

// Intent sources, for logging and metrics.
const (
	SourceRule      = "rule"
	SourceLLM       = "llm"
	SourceHeuristic = "heuristic"
)

// Intent is one structured device command.
type Intent struct {
	DeviceType    string         `json:"device_type"`
	Room          string         `json:"room,omitempty"`
	Rooms         []string       `json:"rooms,omitempty"`
	Action        string         `json:"action"`
	TargetScope   string         `json:"target_scope"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	ExcludedRooms []string       `json:"excluded_rooms,omitempty"`

	// Source records which extraction path produced the intent.
	Source string `json:"-"`
}

// Param reads a parameter, tolerating a nil map.
func (in Intent) Param(key string) (any, bool) {
	if in.Parameters == nil {
		return nil, false
	}
	v, ok := in.Parameters[key]
	return v, ok
}

// withParam returns a copy with one parameter set.
func (in Intent) withParam(key string, value any) Intent {
	params := make(map[string]any, len(in.Parameters)+1)
	for k, v := range in.Parameters {
		params[k] = v
	}
	params[key] = value
	in.Parameters = params
	return in
}
