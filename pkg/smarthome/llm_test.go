package smarthome

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/hearthd/hearth/pkg/faults"
	"github.com/hearthd/hearth/pkg/llms"
)

type fakeGenerator struct {
	mu       sync.Mutex
	result   *llms.Result
	err      error
	calls    int
	model    string
	messages []llms.Message
	opts     llms.Options
}

func (f *fakeGenerator) Generate(ctx context.Context, model string, messages []llms.Message, opts llms.Options) (*llms.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.model = model
	f.messages = messages
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeModels map[string]string

func (f fakeModels) ComponentModel(ctx context.Context, component string) (string, bool) {
	m, ok := f[component]
	return m, ok
}

func TestExtractParsesIntent(t *testing.T) {
	gen := &fakeGenerator{result: &llms.Result{
		Text: `{"device_type":"light","room":"office","action":"turn_off","target_scope":"room"}`,
	}}
	ex := NewExtractor(gen, fakeModels{"smarthome_intent": "qwen-intent"}, "fallback-model")

	intent := ex.Extract(context.Background(), "wrap it up in the office", PromptContext{CurrentRoom: "office", LightCount: 4})

	if intent.DeviceType != DeviceLight || intent.Action != ActionTurnOff || intent.Room != "office" {
		t.Errorf("unexpected intent: %+v", intent)
	}
	if intent.Source != SourceLLM {
		t.Errorf("source = %q, want %q", intent.Source, SourceLLM)
	}
	if gen.model != "qwen-intent" {
		t.Errorf("model = %q, want the component assignment", gen.model)
	}
	if gen.opts.JSONSchema == nil {
		t.Error("expected a JSON schema on the request")
	}
	if gen.opts.Intent != "control" {
		t.Errorf("intent hint = %q, want control", gen.opts.Intent)
	}
	if len(gen.messages) != 2 || !strings.Contains(gen.messages[1].Content, "wrap it up in the office") {
		t.Errorf("prompt missing the command: %+v", gen.messages)
	}
	if !strings.Contains(gen.messages[1].Content, "Current room: office") {
		t.Error("prompt missing the current room")
	}
}

func TestExtractStripsMarkdownFences(t *testing.T) {
	gen := &fakeGenerator{result: &llms.Result{
		Text: "```json\n{\"device_type\":\"fan\",\"room\":\"bedroom\",\"action\":\"turn_on\",\"target_scope\":\"room\"}\n```",
	}}
	ex := NewExtractor(gen, nil, "")

	intent := ex.Extract(context.Background(), "get some air moving in the bedroom", PromptContext{})
	if intent.DeviceType != DeviceFan || intent.Room != "bedroom" {
		t.Errorf("unexpected intent: %+v", intent)
	}
}

func TestExtractFillsDefaults(t *testing.T) {
	gen := &fakeGenerator{result: &llms.Result{Text: `{"action":"turn_on"}`}}
	ex := NewExtractor(gen, nil, "")

	intent := ex.Extract(context.Background(), "light it up", PromptContext{})
	if intent.DeviceType != DeviceLight || intent.TargetScope != ScopeRoom {
		t.Errorf("defaults not applied: %+v", intent)
	}
}

func TestExtractDegradesOnGarbage(t *testing.T) {
	gen := &fakeGenerator{result: &llms.Result{Text: "Sorry, I can't help with that."}}
	ex := NewExtractor(gen, nil, "")

	intent := ex.Extract(context.Background(), "kill the lights in the office", PromptContext{})
	if intent.Source != SourceHeuristic {
		t.Fatalf("source = %q, want %q", intent.Source, SourceHeuristic)
	}
	if intent.Action != ActionTurnOff || intent.Room != "office" {
		t.Errorf("heuristic intent = %+v", intent)
	}
}

func TestExtractDegradesOnGeneratorError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("backend down")}
	ex := NewExtractor(gen, nil, "")

	intent := ex.Extract(context.Background(), "cozy up the den", PromptContext{})
	if intent.Source != SourceHeuristic {
		t.Fatalf("source = %q, want %q", intent.Source, SourceHeuristic)
	}
	if intent.Action != ActionTurnOn || intent.Room != "den" {
		t.Errorf("heuristic intent = %+v", intent)
	}
}

func TestExtractSequence(t *testing.T) {
	gen := &fakeGenerator{result: &llms.Result{
		Text: `{"acknowledge":"Okay, porch light at six.","steps":[{"action":"turn_on","target":"light.porch","at_time":"18:00"}]}`,
	}}
	ex := NewExtractor(gen, nil, "local-fast")

	seq, err := ex.ExtractSequence(context.Background(), "turn the porch light on at 6pm", PromptContext{})
	if err != nil {
		t.Fatalf("ExtractSequence: %v", err)
	}
	if seq.Acknowledge != "Okay, porch light at six." {
		t.Errorf("acknowledge = %q", seq.Acknowledge)
	}
	if len(seq.Steps) != 1 || seq.Steps[0].AtTime != "18:00" || seq.Steps[0].Target != "light.porch" {
		t.Errorf("steps = %+v", seq.Steps)
	}
	if gen.model != "local-fast" {
		t.Errorf("model = %q, want the fallback", gen.model)
	}
}

func TestExtractSequenceRejectsEmptyPlan(t *testing.T) {
	gen := &fakeGenerator{result: &llms.Result{Text: `{}`}}
	ex := NewExtractor(gen, nil, "")

	if _, err := ex.ExtractSequence(context.Background(), "flash the lights", PromptContext{}); !faults.IsKind(err, faults.KindParseFailure) {
		t.Errorf("expected a parse failure, got %v", err)
	}
}

func TestExtractSequenceRejectsBadJSON(t *testing.T) {
	gen := &fakeGenerator{result: &llms.Result{Text: "no plan here"}}
	ex := NewExtractor(gen, nil, "")

	if _, err := ex.ExtractSequence(context.Background(), "flash the lights", PromptContext{}); !faults.IsKind(err, faults.KindParseFailure) {
		t.Errorf("expected a parse failure, got %v", err)
	}
}

func TestJSONBlock(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{`Here you go: {"a":1} hope that helps`, `{"a":1}`},
	}
	for _, tt := range tests {
		if got := string(jsonBlock(tt.in)); got != tt.want {
			t.Errorf("jsonBlock(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHeuristicIntent(t *testing.T) {
	intent := HeuristicIntent("shut the lights in the garage")
	if intent.Action != ActionTurnOff || intent.Room != "garage" || intent.Source != SourceHeuristic {
		t.Errorf("unexpected intent: %+v", intent)
	}
}
