package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hearthd/hearth/pkg/llms"
)

type fakeLLM struct {
	mu           sync.Mutex
	result       *llms.Result
	err          error
	chunks       []llms.StreamChunk
	streamErr    error
	calls        int
	streamCalls  int
	lastModel    string
	lastMessages []llms.Message
	lastOpts     llms.Options
}

func (f *fakeLLM) Generate(ctx context.Context, model string, messages []llms.Message, opts llms.Options) (*llms.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastModel = model
	f.lastMessages = messages
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &llms.Result{Text: "ok", Model: "test-model", Backend: "test"}, nil
}

func (f *fakeLLM) GenerateStreaming(ctx context.Context, model string, messages []llms.Message, tools []llms.ToolDefinition, opts llms.Options) (<-chan llms.StreamChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamCalls++
	f.lastModel = model
	f.lastMessages = messages
	f.lastOpts = opts
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan llms.StreamChunk, len(f.chunks)+1)
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) generateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeLLM) options() llms.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOpts
}

func (f *fakeLLM) messages() []llms.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastMessages
}

type fakeFlags struct {
	enabled map[string]bool
	models  map[string]string
}

func (f *fakeFlags) FlagEnabled(ctx context.Context, name string) bool {
	return f.enabled[name]
}

func (f *fakeFlags) ComponentModel(ctx context.Context, component string) (string, bool) {
	m, ok := f.models[component]
	return m, ok
}

func TestClassifyKeywords(t *testing.T) {
	tests := []struct {
		query string
		want  Category
	}{
		{"turn off the living room lights", CategoryControl},
		{"lock the front door", CategoryControl},
		{"set the thermostat to 68", CategoryControl},
		{"what's the weather today", CategoryWeather},
		{"do I need an umbrella", CategoryWeather},
		{"did the Eagles win last night", CategorySports},
		{"what's the Phillies score", CategorySports},
		{"any good italian restaurants nearby", CategoryDining},
		{"I'm hungry, where should we eat", CategoryDining},
		{"how do I make carbonara", CategoryRecipes},
		{"what time is it", CategoryTime},
		{"where did I put my keys", CategoryMemory},
		{"good morning", CategoryConversation},
		{"what's the latest news", CategoryNews},
		{"how is the stock market today", CategoryStocks},
		{"when does my flight land", CategoryFlights},
		{"any concerts this weekend", CategoryEvents},
		{"directions to the grocery store", CategoryDirections},
		{"what's on netflix tonight", CategoryStreaming},
		{"tell me a joke", CategoryGeneral},
	}
	for _, tt := range tests {
		got := classifyKeywords(tt.query)
		if got.Category != tt.want {
			t.Errorf("classifyKeywords(%q) = %s, want %s", tt.query, got.Category, tt.want)
		}
		if got.Confidence <= 0 || got.Confidence > 1 {
			t.Errorf("classifyKeywords(%q) confidence = %v, want in (0,1]", tt.query, got.Confidence)
		}
	}
}

func TestClassifyControlBeatsOtherFamilies(t *testing.T) {
	// "turn on" plus a device noun stays a command even when the query
	// also mentions a searchable topic.
	got := classifyKeywords("turn on the weather channel on the tv")
	if got.Category != CategoryControl {
		t.Fatalf("category = %s, want control", got.Category)
	}
}

func TestRouteMapping(t *testing.T) {
	tests := []struct {
		category Category
		want     Route
	}{
		{CategoryControl, RouteControl},
		{CategoryWeather, RouteSearch},
		{CategorySports, RouteSearch},
		{CategoryDining, RouteSearch},
		{CategoryFlights, RouteSearch},
		{CategoryTime, RouteDirect},
		{CategoryGeneral, RouteDirect},
		{CategoryMemory, RouteDirect},
		{CategoryConversation, RouteDirect},
	}
	for _, tt := range tests {
		if got := tt.category.Route(); got != tt.want {
			t.Errorf("%s.Route() = %s, want %s", tt.category, got, tt.want)
		}
	}
}

func TestClassifyLLMOverridesKeywords(t *testing.T) {
	llm := &fakeLLM{result: &llms.Result{Text: `{"category":"dining","confidence":0.9}`}}
	flags := &fakeFlags{enabled: map[string]bool{flagLLMClassifier: true}}
	c := NewClassifier(llm, flags)

	got := c.Classify(context.Background(), "somewhere nice to take my parents")
	if got.Category != CategoryDining {
		t.Fatalf("category = %s, want dining", got.Category)
	}
	if got.Confidence != 0.9 {
		t.Fatalf("confidence = %v, want 0.9", got.Confidence)
	}
	if llm.generateCalls() != 1 {
		t.Fatalf("llm calls = %d, want 1", llm.generateCalls())
	}
	if llm.options().Intent != "classify" {
		t.Fatalf("intent tag = %q, want classify", llm.options().Intent)
	}
}

func TestClassifyLLMDisabledByFlag(t *testing.T) {
	llm := &fakeLLM{result: &llms.Result{Text: `{"category":"dining","confidence":0.9}`}}
	c := NewClassifier(llm, &fakeFlags{enabled: map[string]bool{}})

	got := c.Classify(context.Background(), "what's the weather today")
	if got.Category != CategoryWeather {
		t.Fatalf("category = %s, want weather", got.Category)
	}
	if llm.generateCalls() != 0 {
		t.Fatalf("llm calls = %d, want 0", llm.generateCalls())
	}
}

func TestClassifyLLMFailureFallsBackToKeywords(t *testing.T) {
	llm := &fakeLLM{err: errors.New("backend down")}
	flags := &fakeFlags{enabled: map[string]bool{flagLLMClassifier: true}}
	c := NewClassifier(llm, flags)

	got := c.Classify(context.Background(), "what's the weather today")
	if got.Category != CategoryWeather {
		t.Fatalf("category = %s, want weather", got.Category)
	}
}

func TestClassifyLLMBadCategoryFallsBack(t *testing.T) {
	llm := &fakeLLM{result: &llms.Result{Text: `{"category":"pizza","confidence":0.9}`}}
	flags := &fakeFlags{enabled: map[string]bool{flagLLMClassifier: true}}
	c := NewClassifier(llm, flags)

	got := c.Classify(context.Background(), "what's the weather today")
	if got.Category != CategoryWeather {
		t.Fatalf("category = %s, want weather", got.Category)
	}
}

func TestClassifyLLMFencedJSON(t *testing.T) {
	llm := &fakeLLM{result: &llms.Result{Text: "```json\n{\"category\":\"sports\",\"confidence\":0.8}\n```"}}
	flags := &fakeFlags{enabled: map[string]bool{flagLLMClassifier: true}}
	c := NewClassifier(llm, flags)

	got := c.Classify(context.Background(), "who's winning")
	if got.Category != CategorySports {
		t.Fatalf("category = %s, want sports", got.Category)
	}
}

func TestClassifyLLMUsesComponentModel(t *testing.T) {
	llm := &fakeLLM{result: &llms.Result{Text: `{"category":"general","confidence":0.5}`}}
	flags := &fakeFlags{
		enabled: map[string]bool{flagLLMClassifier: true},
		models:  map[string]string{intentClassifierComponent: "fast-local"},
	}
	c := NewClassifier(llm, flags)

	c.Classify(context.Background(), "hmm")
	llm.mu.Lock()
	model := llm.lastModel
	llm.mu.Unlock()
	if model != "fast-local" {
		t.Fatalf("model = %q, want fast-local", model)
	}
}

func TestAcknowledgment(t *testing.T) {
	tests := []struct {
		query    string
		category Category
		want     string
	}{
		{"will it rain today", CategoryWeather, "Checking the forecast."},
		{"what's the weather", CategoryWeather, "Checking the weather."},
		{"who do the eagles play tonight", CategorySports, "Checking the schedule."},
		{"did the eagles win", CategorySports, "Checking the score."},
		{"italian places nearby", CategoryDining, "Looking for restaurants."},
		{"any concerts this weekend", CategoryEvents, "Looking for events."},
		{"tell me a joke", CategoryGeneral, "One moment."},
		{"what should I ask you", CategoryConversation, "One moment."},
	}
	for _, tt := range tests {
		if got := acknowledgment(tt.query, tt.category); got != tt.want {
			t.Errorf("acknowledgment(%q, %s) = %q, want %q", tt.query, tt.category, got, tt.want)
		}
	}
}
