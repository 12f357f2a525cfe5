package smarthome

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/hearthd/hearth/pkg/faults"
	"github.com/hearthd/hearth/pkg/llms"
)

// Generator is the slice of the LLM router the extractor needs.
type Generator interface {
	Generate(ctx context.Context, model string, messages []llms.Message, opts llms.Options) (*llms.Result, error)
}

// ComponentModels resolves per-component model assignments from the
// config plane.
type ComponentModels interface {
	ComponentModel(ctx context.Context, component string) (string, bool)
}

const (
	intentComponent   = "smarthome_intent"
	sequenceComponent = "smarthome_sequence"
)

// Extractor runs the LLM paths: intent extraction when no rule
// matches, and sequence extraction for timed commands.
type Extractor struct {
	generator Generator
	models    ComponentModels
	fallback  string
}

// NewExtractor builds an extractor. models may be nil; fallbackModel
// may be empty, in which case the router's default backend serves.
func NewExtractor(g Generator, models ComponentModels, fallbackModel string) *Extractor {
	return &Extractor{generator: g, models: models, fallback: fallbackModel}
}

// PromptContext is the situational state handed to the LLM.
type PromptContext struct {
	CurrentRoom  string
	LightCount   int
	PreviousTurn string
}

func (e *Extractor) model(ctx context.Context, component string) string {
	if e.models != nil {
		if m, ok := e.models.ComponentModel(ctx, component); ok {
			return m
		}
	}
	return e.fallback
}

// llmIntent is the schema the LLM fills in. It matches Intent minus
// the bookkeeping fields.
type llmIntent struct {
	DeviceType    string         `json:"device_type" jsonschema:"required,description=Kind of device the command targets,enum=light,enum=lock,enum=media_player,enum=fan,enum=cover,enum=climate,enum=bed_warmer,enum=automation,enum=scene"`
	Room          string         `json:"room,omitempty" jsonschema:"description=Room in underscore form like living_room; empty for the current room"`
	Rooms         []string       `json:"rooms,omitempty" jsonschema:"description=Rooms for a multi-room command"`
	Action        string         `json:"action" jsonschema:"required,description=What to do,enum=turn_on,enum=turn_off,enum=lock,enum=unlock,enum=open,enum=close,enum=query,enum=set_brightness,enum=step_brightness,enum=set_color,enum=set_temperature,enum=step_temperature,enum=activate_scene,enum=set_level"`
	TargetScope   string         `json:"target_scope" jsonschema:"required,enum=room,enum=rooms,enum=house,enum=entity"`
	Parameters    map[string]any `json:"parameters,omitempty" jsonschema:"description=Action parameters like brightness_pct or color"`
	ExcludedRooms []string       `json:"excluded_rooms,omitempty" jsonschema:"description=Rooms a whole-house command must skip"`
}

var (
	intentSchema   = reflectSchema(&llmIntent{})
	sequenceSchema = reflectSchema(&Sequence{})
)

// reflectSchema builds an inline JSON schema from struct tags.
func reflectSchema(v any) map[string]any {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

const intentSystemPrompt = `You translate smart-home voice commands into JSON device intents.
Respond with a single JSON object and nothing else.
Rooms use underscore form (living_room). When the command names no room, leave room empty.
Unsupported or non-device requests still get your best turn_on or turn_off guess for the lights.`

const sequenceSystemPrompt = `You translate timed smart-home commands into a JSON action sequence.
Respond with a single JSON object: {"acknowledge": short spoken confirmation, "steps": [{"action", "target", "parameters", "delay_after", "at_time"}]}.
delay_after is seconds to wait after the step; at_time is a 24-hour "15:04" wall-clock time.
For a deferred command ("in ten minutes") lead with a {"action": "wait", "delay_after": N} step.
Unroll small loops ("flash three times") into explicit steps.`

func promptState(query string, pc PromptContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Command: %s\n", query)
	if pc.CurrentRoom != "" {
		fmt.Fprintf(&sb, "Current room: %s\n", pc.CurrentRoom)
	}
	if pc.LightCount > 0 {
		fmt.Fprintf(&sb, "Lights available: %d\n", pc.LightCount)
	}
	if pc.PreviousTurn != "" {
		fmt.Fprintf(&sb, "Previous request: %s\n", pc.PreviousTurn)
	}
	return sb.String()
}

// Extract asks the LLM for a structured intent. It never returns an
// error: any failure degrades to the minimal on/off heuristic so a
// flaky model cannot take device control down with it.
func (e *Extractor) Extract(ctx context.Context, query string, pc PromptContext) Intent {
	low := 0.1
	result, err := e.generator.Generate(ctx, e.model(ctx, intentComponent), []llms.Message{
		llms.SystemMessage(intentSystemPrompt),
		llms.UserMessage(promptState(query, pc)),
	}, llms.Options{
		Temperature: &low,
		MaxTokens:   300,
		JSONSchema:  intentSchema,
		Intent:      "control",
	})
	if err != nil {
		slog.Warn("Intent extraction failed, using heuristic", "error", err)
		return HeuristicIntent(query)
	}

	var parsed llmIntent
	if err := json.Unmarshal(jsonBlock(result.Text), &parsed); err != nil {
		slog.Warn("Intent extraction returned unparseable JSON, using heuristic", "error", err)
		return HeuristicIntent(query)
	}

	intent := Intent{
		DeviceType:    parsed.DeviceType,
		Room:          parsed.Room,
		Rooms:         parsed.Rooms,
		Action:        parsed.Action,
		TargetScope:   parsed.TargetScope,
		Parameters:    parsed.Parameters,
		ExcludedRooms: parsed.ExcludedRooms,
		Source:        SourceLLM,
	}
	if intent.DeviceType == "" {
		intent.DeviceType = DeviceLight
	}
	if intent.Action == "" {
		intent.Action = ActionTurnOn
	}
	if intent.TargetScope == "" {
		if len(intent.Rooms) > 1 {
			intent.TargetScope = ScopeRooms
		} else {
			intent.TargetScope = ScopeRoom
		}
	}
	return intent
}

// ExtractSequence asks the LLM for a timed action sequence. Unlike
// Extract this does return errors; the caller falls back to the plain
// intent path.
func (e *Extractor) ExtractSequence(ctx context.Context, query string, pc PromptContext) (*Sequence, error) {
	low := 0.1
	result, err := e.generator.Generate(ctx, e.model(ctx, sequenceComponent), []llms.Message{
		llms.SystemMessage(sequenceSystemPrompt),
		llms.UserMessage(promptState(query, pc)),
	}, llms.Options{
		Temperature: &low,
		MaxTokens:   600,
		JSONSchema:  sequenceSchema,
		Intent:      "control",
	})
	if err != nil {
		return nil, err
	}

	var seq Sequence
	if err := json.Unmarshal(jsonBlock(result.Text), &seq); err != nil {
		return nil, faults.Wrap(faults.KindParseFailure, err, "sequence extraction returned unparseable JSON")
	}
	if !validSequence(&seq) {
		return nil, faults.New(faults.KindParseFailure, "sequence extraction returned an empty or oversized plan")
	}
	return &seq, nil
}

// HeuristicIntent is the minimal degradation: polarity from the verb,
// room if one is named, lights assumed.
func HeuristicIntent(query string) Intent {
	q := normalizeCommand(query)
	action := ActionTurnOn
	if offRequested(q) {
		action = ActionTurnOff
	}
	room, _ := findRoom(q)
	return Intent{
		DeviceType:  DeviceLight,
		Room:        room,
		Action:      action,
		TargetScope: ScopeRoom,
		Source:      SourceHeuristic,
	}
}

// jsonBlock trims markdown fences and surrounding prose down to the
// outermost JSON object.
func jsonBlock(text string) []byte {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return []byte(strings.TrimSpace(s))
}
