package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/faults"
	"github.com/hearthd/hearth/pkg/llms"
	"github.com/hearthd/hearth/pkg/search"
	"github.com/hearthd/hearth/pkg/semcache"
	"github.com/hearthd/hearth/pkg/session"
	"github.com/hearthd/hearth/pkg/smarthome"
)

type fakeDevices struct {
	mu      sync.Mutex
	outcome smarthome.Outcome
	calls   int
	lastReq smarthome.Request
}

func (f *fakeDevices) Handle(ctx context.Context, req smarthome.Request) smarthome.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req
	return f.outcome
}

type fakeSearcher struct {
	mu        sync.Mutex
	results   []search.Result
	calls     int
	lastQuery string
}

func (f *fakeSearcher) Search(ctx context.Context, query string, opts search.Options) (search.Intent, []search.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastQuery = query
	return search.IntentGeneral, f.results
}

func (f *fakeSearcher) searchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCache struct {
	mu      sync.Mutex
	entry   *semcache.Entry
	lookups int
	stored  []json.RawMessage
}

func (f *fakeCache) Lookup(ctx context.Context, query string, opts semcache.Options) (*semcache.Entry, semcache.Decision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.entry != nil {
		return f.entry, semcache.Decision{Cacheable: true}
	}
	return nil, semcache.Decision{Cacheable: true}
}

func (f *fakeCache) Store(ctx context.Context, query string, opts semcache.Options, payload json.RawMessage) (semcache.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, payload)
	return semcache.Decision{Cacheable: true}, nil
}

func (f *fakeCache) storedPayloads() []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]json.RawMessage(nil), f.stored...)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.SetDefaults()
	return cfg
}

func testGateway(t *testing.T, cfg *config.Config, llm *fakeLLM, opts ...Option) *Gateway {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	g, err := New(cfg, llm, &fakeFlags{enabled: map[string]bool{}}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func weatherResults() []search.Result {
	return []search.Result{{
		Source:     "brave",
		Title:      "Philadelphia weather",
		Snippet:    "Sunny and 75 this afternoon",
		Confidence: 0.9,
	}}
}

func TestAskControlRoute(t *testing.T) {
	llm := &fakeLLM{}
	dev := &fakeDevices{outcome: smarthome.Outcome{Handled: true, Acknowledgment: "Turned on the kitchen lights."}}
	g := testGateway(t, nil, llm, WithDeviceHandler(dev))

	ans, err := g.Ask(context.Background(), Request{Query: "turn on the kitchen lights"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Route != RouteControl {
		t.Fatalf("route = %s, want control", ans.Route)
	}
	if ans.Text != "Turned on the kitchen lights." {
		t.Fatalf("text = %q", ans.Text)
	}
	if llm.generateCalls() != 0 {
		t.Fatalf("llm calls = %d, want 0", llm.generateCalls())
	}
	if ans.RequestID == "" {
		t.Fatal("request id not assigned")
	}
}

func TestAskControlDeclinedGoesDirect(t *testing.T) {
	llm := &fakeLLM{result: &llms.Result{Text: "Sure thing."}}
	dev := &fakeDevices{outcome: smarthome.Outcome{Handled: false}}
	g := testGateway(t, nil, llm, WithDeviceHandler(dev))

	ans, err := g.Ask(context.Background(), Request{Query: "turn off the lights in my heart"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if dev.calls != 1 {
		t.Fatalf("device calls = %d, want 1", dev.calls)
	}
	if ans.Route != RouteDirect {
		t.Fatalf("route = %s, want direct", ans.Route)
	}
	if llm.generateCalls() != 1 {
		t.Fatalf("llm calls = %d, want 1", llm.generateCalls())
	}
}

func TestAskSearchRouteSynthesizes(t *testing.T) {
	llm := &fakeLLM{result: &llms.Result{Text: "Sunny and 75.", Model: "gpt-4.1-mini", Backend: "openai", InputTokens: 20, OutputTokens: 6}}
	srch := &fakeSearcher{results: weatherResults()}
	cache := &fakeCache{}
	g := testGateway(t, nil, llm, WithSearcher(srch), WithCache(cache))

	ans, err := g.Ask(context.Background(), Request{Query: "what's the weather today"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Route != RouteSearch {
		t.Fatalf("route = %s, want search", ans.Route)
	}
	if ans.Text != "Sunny and 75." {
		t.Fatalf("text = %q", ans.Text)
	}
	if srch.searchCalls() != 1 {
		t.Fatalf("search calls = %d, want 1", srch.searchCalls())
	}

	msgs := llm.messages()
	if len(msgs) != 2 || msgs[0].Role != llms.RoleSystem {
		t.Fatalf("unexpected synthesis messages: %+v", msgs)
	}
	if !strings.Contains(msgs[1].Content, "Sunny and 75 this afternoon") {
		t.Fatalf("search results missing from prompt: %q", msgs[1].Content)
	}
	if !strings.Contains(msgs[1].Content, "what's the weather today") {
		t.Fatalf("question missing from prompt: %q", msgs[1].Content)
	}

	stored := cache.storedPayloads()
	if len(stored) != 1 {
		t.Fatalf("cache stores = %d, want 1", len(stored))
	}
	var payload cachedAnswer
	if err := json.Unmarshal(stored[0], &payload); err != nil || payload.Text != "Sunny and 75." {
		t.Fatalf("stored payload = %s", stored[0])
	}
	if ans.InputTokens != 20 || ans.OutputTokens != 6 {
		t.Fatalf("usage = %d/%d", ans.InputTokens, ans.OutputTokens)
	}
}

func TestAskCacheHit(t *testing.T) {
	payload, _ := json.Marshal(cachedAnswer{Text: "72 and sunny."})
	cache := &fakeCache{entry: &semcache.Entry{Category: "weather", Payload: payload}}
	llm := &fakeLLM{}
	srch := &fakeSearcher{results: weatherResults()}
	g := testGateway(t, nil, llm, WithSearcher(srch), WithCache(cache))

	ans, err := g.Ask(context.Background(), Request{Query: "what's the weather today"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !ans.CacheHit {
		t.Fatal("expected cache hit")
	}
	if ans.Text != "72 and sunny." {
		t.Fatalf("text = %q", ans.Text)
	}
	if llm.generateCalls() != 0 || srch.searchCalls() != 0 {
		t.Fatalf("llm=%d search=%d calls, want 0/0", llm.generateCalls(), srch.searchCalls())
	}
}

func TestAskRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.RateLimitRPM = 1
	llm := &fakeLLM{result: &llms.Result{Text: "hi"}}
	g := testGateway(t, cfg, llm)

	// Bucket holds 2x RPM tokens.
	for i := 0; i < 2; i++ {
		if _, err := g.Ask(context.Background(), Request{Query: "hello"}); err != nil {
			t.Fatalf("request %d rejected: %v", i, err)
		}
	}
	_, err := g.Ask(context.Background(), Request{Query: "hello"})
	if err == nil {
		t.Fatal("expected rate limit error")
	}
	if !faults.IsKind(err, faults.KindRateLimited) {
		t.Fatalf("kind = %v, want rate limited", faults.KindOf(err))
	}
}

func TestAskEmptySearchFallsBackToDirect(t *testing.T) {
	llm := &fakeLLM{result: &llms.Result{Text: "It should be sunny."}}
	srch := &fakeSearcher{}
	g := testGateway(t, nil, llm, WithSearcher(srch))

	ans, err := g.Ask(context.Background(), Request{Query: "what's the weather today"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !ans.Fallback {
		t.Fatal("expected fallback answer")
	}
	opts := llm.options()
	if !opts.WasFallback || opts.FallbackReason != "orchestrator_error" {
		t.Fatalf("fallback opts = %+v", opts)
	}
	if ans.Text != "It should be sunny." {
		t.Fatalf("text = %q", ans.Text)
	}
}

func TestAskCircuitOpenSkipsSearch(t *testing.T) {
	cfg := testConfig()
	cfg.Resilience.FailureThreshold = 1
	llm := &fakeLLM{result: &llms.Result{Text: "Probably sunny."}}
	srch := &fakeSearcher{}
	g := testGateway(t, cfg, llm, WithSearcher(srch))

	if _, err := g.Ask(context.Background(), Request{Query: "what's the weather today"}); err != nil {
		t.Fatalf("first ask: %v", err)
	}
	if srch.searchCalls() != 1 {
		t.Fatalf("search calls = %d, want 1", srch.searchCalls())
	}

	// The single failure opened the breaker; the next query must not
	// touch the search engine.
	if _, err := g.Ask(context.Background(), Request{Query: "what's the weather tomorrow"}); err != nil {
		t.Fatalf("second ask: %v", err)
	}
	if srch.searchCalls() != 1 {
		t.Fatalf("search calls = %d, want still 1", srch.searchCalls())
	}
	if opts := llm.options(); opts.FallbackReason != "circuit_open" {
		t.Fatalf("fallback reason = %q, want circuit_open", opts.FallbackReason)
	}
}

func TestAskTotalFailure(t *testing.T) {
	llm := &fakeLLM{err: errors.New("backend down")}
	srch := &fakeSearcher{}
	g := testGateway(t, nil, llm, WithSearcher(srch))

	_, err := g.Ask(context.Background(), Request{Query: "what's the weather today"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !faults.IsKind(err, faults.KindUpstreamError) {
		t.Fatalf("kind = %v, want upstream error", faults.KindOf(err))
	}
}

func TestAskRecordsSession(t *testing.T) {
	store, err := session.NewStore(&config.SessionConfig{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	llm := &fakeLLM{result: &llms.Result{Text: "Hello to you."}}
	g := testGateway(t, nil, llm, WithSessions(store))

	if _, err := g.Ask(context.Background(), Request{Query: "good morning", SessionID: "s1"}); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	turns, err := store.Recent(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	if turns[0].Role != "user" || turns[0].Content != "good morning" {
		t.Fatalf("user turn = %+v", turns[0])
	}
	if turns[0].Intent != "conversation" {
		t.Fatalf("intent = %q, want conversation", turns[0].Intent)
	}
	if turns[1].Role != "assistant" || turns[1].Content != "Hello to you." {
		t.Fatalf("assistant turn = %+v", turns[1])
	}
}

func TestAskPropagatesRequestTags(t *testing.T) {
	llm := &fakeLLM{result: &llms.Result{Text: "hi"}}
	g := testGateway(t, nil, llm)

	_, err := g.Ask(context.Background(), Request{
		Query:     "good morning",
		SessionID: "s9",
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	opts := llm.options()
	if opts.RequestID != "req-1" || opts.SessionID != "s9" || opts.Intent != "conversation" {
		t.Fatalf("opts = %+v", opts)
	}
}

func TestStreamAckFirst(t *testing.T) {
	llm := &fakeLLM{chunks: []llms.StreamChunk{
		{Type: llms.ChunkText, Text: "Sunny"},
		{Type: llms.ChunkText, Text: " today."},
		{Type: llms.ChunkDone, InputTokens: 12, OutputTokens: 4},
	}}
	srch := &fakeSearcher{results: weatherResults()}
	g := testGateway(t, nil, llm, WithSearcher(srch))

	events, err := g.Stream(context.Background(), Request{Query: "what's the weather today"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var texts []string
	var final *Answer
	for ev := range events {
		if ev.Done {
			final = ev.Answer
			continue
		}
		if ev.Text != "" {
			texts = append(texts, ev.Text)
		}
	}
	g.Wait()

	if len(texts) != 3 {
		t.Fatalf("texts = %v", texts)
	}
	if texts[0] != "Checking the weather." {
		t.Fatalf("first chunk = %q, want the acknowledgment", texts[0])
	}
	if texts[1] != "Sunny" || texts[2] != " today." {
		t.Fatalf("answer chunks = %v", texts[1:])
	}
	if final == nil {
		t.Fatal("missing final answer")
	}
	if final.Text != "Sunny today." {
		t.Fatalf("final text = %q", final.Text)
	}
	if final.OutputTokens != 4 {
		t.Fatalf("output tokens = %d, want 4", final.OutputTokens)
	}
}

func TestStreamControlSkipsGenericAck(t *testing.T) {
	llm := &fakeLLM{}
	dev := &fakeDevices{outcome: smarthome.Outcome{Handled: true, Acknowledgment: "Turned off the lights."}}
	g := testGateway(t, nil, llm, WithDeviceHandler(dev))

	events, err := g.Stream(context.Background(), Request{Query: "turn off the lights"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var texts []string
	for ev := range events {
		if !ev.Done && ev.Text != "" {
			texts = append(texts, ev.Text)
		}
	}
	g.Wait()

	if len(texts) != 1 || texts[0] != "Turned off the lights." {
		t.Fatalf("texts = %v", texts)
	}
}

func TestStreamAckDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.AckEnabled = config.BoolPtr(false)
	llm := &fakeLLM{chunks: []llms.StreamChunk{
		{Type: llms.ChunkText, Text: "Sunny."},
		{Type: llms.ChunkDone},
	}}
	srch := &fakeSearcher{results: weatherResults()}
	g := testGateway(t, cfg, llm, WithSearcher(srch))

	events, err := g.Stream(context.Background(), Request{Query: "what's the weather today"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var texts []string
	for ev := range events {
		if !ev.Done && ev.Text != "" {
			texts = append(texts, ev.Text)
		}
	}
	g.Wait()

	if len(texts) != 1 || texts[0] != "Sunny." {
		t.Fatalf("texts = %v", texts)
	}
}

func TestStreamFailureEndsWithApology(t *testing.T) {
	llm := &fakeLLM{err: errors.New("backend down"), streamErr: errors.New("backend down")}
	srch := &fakeSearcher{}
	g := testGateway(t, nil, llm, WithSearcher(srch))

	events, err := g.Stream(context.Background(), Request{Query: "what's the weather today"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var texts []string
	var streamErr error
	for ev := range events {
		if ev.Err != nil {
			streamErr = ev.Err
		}
		if ev.Text != "" {
			texts = append(texts, ev.Text)
		}
	}
	g.Wait()

	if streamErr == nil {
		t.Fatal("expected stream error event")
	}
	if len(texts) != 2 || texts[1] != apologyLine {
		t.Fatalf("texts = %v", texts)
	}
}

func TestStreamRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.RateLimitRPM = 1
	llm := &fakeLLM{result: &llms.Result{Text: "hi"}}
	g := testGateway(t, cfg, llm)

	for i := 0; i < 2; i++ {
		if _, err := g.Ask(context.Background(), Request{Query: "hello"}); err != nil {
			t.Fatalf("request %d rejected: %v", i, err)
		}
	}
	_, err := g.Stream(context.Background(), Request{Query: "hello"})
	if !faults.IsKind(err, faults.KindRateLimited) {
		t.Fatalf("err = %v, want rate limited", err)
	}
}

func TestAskDirectUsesHistoryAndPersona(t *testing.T) {
	llm := &fakeLLM{result: &llms.Result{Text: "Again?"}}
	g := testGateway(t, nil, llm)

	_, err := g.Ask(context.Background(), Request{
		Query: "tell me a joke",
		History: []llms.Message{
			llms.UserMessage("hi"),
			llms.AssistantMessage("Hello."),
		},
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	msgs := llm.messages()
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[0].Role != llms.RoleSystem || !strings.Contains(msgs[0].Content, "voice assistant") {
		t.Fatalf("system message = %+v", msgs[0])
	}
	if msgs[3].Content != "tell me a joke" {
		t.Fatalf("last message = %+v", msgs[3])
	}
}

func TestAskInstructionsOverridePersona(t *testing.T) {
	llm := &fakeLLM{result: &llms.Result{Text: "Arr."}}
	g := testGateway(t, nil, llm)

	_, err := g.Ask(context.Background(), Request{
		Query:        "tell me a joke",
		Instructions: "Talk like a pirate.",
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	msgs := llm.messages()
	if msgs[0].Content != "Talk like a pirate." {
		t.Fatalf("system message = %q", msgs[0].Content)
	}
}
