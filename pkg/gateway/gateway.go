// Package gateway is the front door for voice queries. It admits or
// rejects each request, classifies it, and drives one of three
// pathways: the smart-home controller for device commands, the
// retrieval pipeline for questions that need live data, or a direct
// LLM call for everything else. Streaming responses always open with a
// short spoken acknowledgment so the satellite is never silent while
// retrieval runs.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/faults"
	"github.com/hearthd/hearth/pkg/llms"
	"github.com/hearthd/hearth/pkg/observability"
	"github.com/hearthd/hearth/pkg/resilience"
	"github.com/hearthd/hearth/pkg/search"
	"github.com/hearthd/hearth/pkg/semcache"
	"github.com/hearthd/hearth/pkg/session"
	"github.com/hearthd/hearth/pkg/smarthome"
)

// apologyLine is spoken when every pathway has failed. It must stay
// plain prose: the satellite pipes it straight into text-to-speech.
const apologyLine = "Sorry, I'm having trouble right now. Please try again in a moment."

// personaPrompt is the default system prompt for answers that go out
// over a speaker.
const personaPrompt = `You are Hearth, a helpful home voice assistant. ` +
	`Keep answers short and speakable: one to three sentences, plain prose, no markdown, no emoji, no URLs.`

// synthesisPrompt frames the retrieval pipeline's second stage.
const synthesisPrompt = `You are Hearth, a helpful home voice assistant. ` +
	`Answer the user's question using only the search results provided. ` +
	`Speak naturally in one or two short sentences suitable for text-to-speech: no markdown, no lists, no URLs. ` +
	`If the results do not answer the question, say so briefly.`

// DeviceHandler runs device commands. *smarthome.Controller satisfies
// it.
type DeviceHandler interface {
	Handle(ctx context.Context, req smarthome.Request) smarthome.Outcome
}

// Searcher fans a query out to the search providers.
// *search.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) (search.Intent, []search.Result)
}

// AnswerCache is the semantic cache surface the gateway uses.
// *semcache.Cache satisfies it.
type AnswerCache interface {
	Lookup(ctx context.Context, query string, opts semcache.Options) (*semcache.Entry, semcache.Decision)
	Store(ctx context.Context, query string, opts semcache.Options, payload json.RawMessage) (semcache.Decision, error)
}

// Request is one user query after the wire layer has unpacked it.
type Request struct {
	// Query is the user's utterance, the last user message of the
	// conversation.
	Query string

	// History holds prior conversation messages, oldest first, not
	// including Query.
	History []llms.Message

	// Model is the requested alias. Empty or "auto" defers to the
	// router's selection.
	Model string

	// Instructions overrides the default persona system prompt.
	Instructions string

	SessionID string
	DeviceID  string

	// Room is the caller-asserted room. When empty the satellite scan
	// decides.
	Room string

	// Mode partitions cached answers, e.g. "adult" vs "kids".
	Mode string

	// RequestID is assigned when empty and echoed on the response.
	RequestID string

	Temperature *float64
	MaxTokens   int
}

// Answer is the finished reply plus routing metadata.
type Answer struct {
	RequestID    string
	Text         string
	Category     Category
	Route        Route
	Room         string
	Model        string
	Backend      string
	CacheHit     bool
	Fallback     bool
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
}

// StreamEvent is one element of a streamed reply. Text chunks arrive
// in speaking order; the final event has Done set and carries the
// assembled Answer, or Err when the stream failed before any text.
type StreamEvent struct {
	Text   string
	Done   bool
	Answer *Answer
	Err    error
}

// cachedAnswer is the payload shape stored in the semantic cache.
type cachedAnswer struct {
	Text string `json:"text"`
}

// Gateway wires admission control, the pre-router, and the three
// answer pathways together.
type Gateway struct {
	cfg        *config.Config
	llm        Generator
	classifier *Classifier
	rooms      *RoomDetector
	devices    DeviceHandler
	searcher   Searcher
	cache      AnswerCache
	sessions   session.Store
	models     ModelLister
	limiter    *resilience.AdmissionLimiter
	breaker    *resilience.CircuitBreaker

	wg  sync.WaitGroup
	now func() time.Time
}

// Option customizes gateway construction.
type Option func(*Gateway)

// WithDeviceHandler attaches the smart-home controller.
func WithDeviceHandler(h DeviceHandler) Option {
	return func(g *Gateway) { g.devices = h }
}

// WithSearcher attaches the retrieval engine.
func WithSearcher(s Searcher) Option {
	return func(g *Gateway) { g.searcher = s }
}

// WithCache attaches the semantic answer cache.
func WithCache(c AnswerCache) Option {
	return func(g *Gateway) { g.cache = c }
}

// WithSessions attaches the conversation store.
func WithSessions(s session.Store) Option {
	return func(g *Gateway) { g.sessions = s }
}

// WithRoomDetector attaches satellite-based room detection.
func WithRoomDetector(d *RoomDetector) Option {
	return func(g *Gateway) { g.rooms = d }
}

// WithClassifier replaces the default pre-router.
func WithClassifier(c *Classifier) Option {
	return func(g *Gateway) { g.classifier = c }
}

// New builds a Gateway. llm is required; every other collaborator is
// optional and its pathway degrades gracefully when absent.
func New(cfg *config.Config, llm Generator, flags FlagSource, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, faults.New(faults.KindBadRequest, "gateway: config is required")
	}
	if llm == nil {
		return nil, faults.New(faults.KindBadRequest, "gateway: llm router is required")
	}

	g := &Gateway{
		cfg:        cfg,
		llm:        llm,
		classifier: NewClassifier(llm, flags),
		limiter:    resilience.NewAdmissionLimiter(cfg.Gateway.RateLimitRPM),
		breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{
			Name:             "orchestrator",
			FailureThreshold: cfg.Resilience.FailureThreshold,
			RecoveryTimeout:  cfg.Resilience.RecoveryTimeout(),
		}),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Wait blocks until every background stream producer has finished.
// Tests use it to assert against goroutine leaks.
func (g *Gateway) Wait() { g.wg.Wait() }

// Ask answers a request without streaming. On total failure the error
// carries an upstream fault kind and the caller decides how to present
// apologyLine.
func (g *Gateway) Ask(ctx context.Context, req Request) (*Answer, error) {
	start := g.now()

	if err := g.limiter.Acquire(); err != nil {
		return nil, faults.Wrap(faults.KindRateLimited, err, "gateway admission")
	}
	p := g.prepare(ctx, &req)

	if p.route == RouteControl {
		if ans, ok := g.handleControl(ctx, req, p); ok {
			ans.Latency = g.now().Sub(start)
			return ans, nil
		}
		// Not a device command after all. Answer it like any other
		// question.
		p.route = RouteDirect
	}

	if ans, ok := g.cacheLookup(ctx, req, p); ok {
		ans.Latency = g.now().Sub(start)
		return ans, nil
	}

	ans, err := g.answer(ctx, req, p, nil)
	if err != nil {
		return nil, err
	}
	ans.Latency = g.now().Sub(start)
	g.finish(ctx, req, p, ans)
	return ans, nil
}

// Stream answers a request as a channel of events. The first text
// event is the acknowledgment when acks are enabled; the channel is
// always closed after the Done or Err event. Rate-limit rejection is
// returned synchronously so the caller can still set an HTTP status.
func (g *Gateway) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	if err := g.limiter.Acquire(); err != nil {
		return nil, faults.Wrap(faults.KindRateLimited, err, "gateway admission")
	}

	buf := g.cfg.Gateway.StreamBuffer
	if buf <= 0 {
		buf = 1
	}
	events := make(chan StreamEvent, buf)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer close(events)
		g.streamPipeline(ctx, req, events)
	}()
	return events, nil
}

// prepared caches per-request derivations shared by both entry points.
type prepared struct {
	cls   Classification
	route Route
	room  string
	prev  string
}

func (g *Gateway) prepare(ctx context.Context, req *Request) prepared {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	var p prepared
	p.room = req.Room
	if g.rooms != nil {
		p.room = g.rooms.Detect(ctx, req.DeviceID, req.Room, g.cfg.Gateway.DefaultRoom)
	} else if p.room == "" {
		p.room = g.cfg.Gateway.DefaultRoom
	}

	if g.sessions != nil && req.SessionID != "" {
		if turn, ok := session.LastUserTurn(ctx, g.sessions, req.SessionID); ok {
			p.prev = turn.Content
		}
	}

	p.cls = g.classifier.Classify(ctx, req.Query)
	p.route = p.cls.Category.Route()
	if p.route == RouteControl && g.devices == nil {
		p.route = RouteDirect
	}
	if p.route == RouteSearch && g.searcher == nil {
		p.route = RouteDirect
	}

	slog.Debug("Gateway routed query",
		"request_id", req.RequestID,
		"category", p.cls.Category,
		"confidence", p.cls.Confidence,
		"route", p.route,
		"room", p.room)
	return p
}

// streamPipeline produces the event sequence for one streamed answer.
// The acknowledgment goes first, from this same goroutine, so no later
// chunk can overtake it.
func (g *Gateway) streamPipeline(ctx context.Context, req Request, events chan<- StreamEvent) {
	start := g.now()
	p := g.prepare(ctx, &req)

	if p.route == RouteControl {
		if ans, ok := g.handleControl(ctx, req, p); ok {
			ans.Latency = g.now().Sub(start)
			if !g.emit(ctx, events, StreamEvent{Text: ans.Text}) {
				return
			}
			g.emit(ctx, events, StreamEvent{Done: true, Answer: ans})
			return
		}
		p.route = RouteDirect
	}

	if g.cfg.Gateway.IsAckEnabled() {
		if !g.emit(ctx, events, StreamEvent{Text: acknowledgment(req.Query, p.cls.Category)}) {
			return
		}
	}

	if ans, ok := g.cacheLookup(ctx, req, p); ok {
		ans.Latency = g.now().Sub(start)
		if !g.emit(ctx, events, StreamEvent{Text: ans.Text}) {
			return
		}
		g.emit(ctx, events, StreamEvent{Done: true, Answer: ans})
		return
	}

	ans, err := g.answer(ctx, req, p, events)
	if err != nil {
		// The acknowledgment already went out, so the stream must end
		// with something speakable.
		if !g.emit(ctx, events, StreamEvent{Text: apologyLine}) {
			return
		}
		g.emit(ctx, events, StreamEvent{Done: true, Err: err})
		return
	}
	ans.Latency = g.now().Sub(start)
	g.finish(ctx, req, p, ans)
	g.emit(ctx, events, StreamEvent{Done: true, Answer: ans})
}

// emit pushes one event, honoring cancellation. Returns false when the
// context died first.
func (g *Gateway) emit(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// handleControl runs the smart-home pathway. ok false means the
// controller declined the query.
func (g *Gateway) handleControl(ctx context.Context, req Request, p prepared) (*Answer, bool) {
	outcome := g.devices.Handle(ctx, smarthome.Request{
		Query:        req.Query,
		Room:         p.room,
		PreviousTurn: p.prev,
	})
	if !outcome.Handled {
		return nil, false
	}
	ans := &Answer{
		RequestID: req.RequestID,
		Text:      outcome.Acknowledgment,
		Category:  p.cls.Category,
		Route:     RouteControl,
		Room:      p.room,
		Model:     "smarthome",
	}
	g.remember(ctx, req, p, ans.Text)
	return ans, true
}

// cacheLookup consults the semantic cache. Decisions about
// cacheability live entirely inside the cache.
func (g *Gateway) cacheLookup(ctx context.Context, req Request, p prepared) (*Answer, bool) {
	if g.cache == nil {
		return nil, false
	}
	entry, _ := g.cache.Lookup(ctx, req.Query, g.cacheOptions(req, p))
	if entry == nil {
		return nil, false
	}
	var payload cachedAnswer
	if err := json.Unmarshal(entry.Payload, &payload); err != nil || payload.Text == "" {
		return nil, false
	}
	ans := &Answer{
		RequestID: req.RequestID,
		Text:      payload.Text,
		Category:  p.cls.Category,
		Route:     p.route,
		Room:      p.room,
		CacheHit:  true,
	}
	g.remember(ctx, req, p, ans.Text)
	return ans, true
}

func (g *Gateway) cacheOptions(req Request, p prepared) semcache.Options {
	return semcache.Options{
		Room:     p.room,
		UserMode: req.Mode,
		Place:    g.cfg.Cache.DefaultLocation,
	}
}

// answer runs the search or direct pathway. events may be nil for
// non-streaming calls; when set, LLM text chunks are forwarded as they
// arrive and the returned Answer carries the assembled text.
func (g *Gateway) answer(ctx context.Context, req Request, p prepared, events chan<- StreamEvent) (*Answer, error) {
	opts := g.llmOptions(req, p)

	if p.route == RouteSearch {
		var ans *Answer
		err := g.breaker.Execute(func() error {
			a, err := g.retrieveAndSynthesize(ctx, req, p, opts, events)
			if err != nil {
				return err
			}
			ans = a
			return nil
		})
		if err == nil {
			return ans, nil
		}

		reason := "orchestrator_error"
		if errors.Is(err, resilience.ErrCircuitOpen) {
			reason = "circuit_open"
		}
		slog.Warn("Retrieval pathway failed, answering directly",
			"request_id", req.RequestID, "reason", reason, "error", err)
		observability.GetGlobalMetrics().RecordFallback(ctx, "orchestrator", "direct")
		opts.WasFallback = true
		opts.FallbackReason = reason
	}

	ans, err := g.direct(ctx, req, p, opts, events)
	if err != nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "all answer pathways failed")
	}
	ans.Fallback = opts.WasFallback
	return ans, nil
}

// retrieveAndSynthesize is the orchestrated pathway: parallel search,
// then one synthesis call with the fused results in context.
func (g *Gateway) retrieveAndSynthesize(ctx context.Context, req Request, p prepared, opts llms.Options, events chan<- StreamEvent) (*Answer, error) {
	_, results := g.searcher.Search(ctx, req.Query, search.Options{
		Location: g.cfg.Cache.DefaultLocation,
	})
	if len(results) == 0 {
		return nil, faults.New(faults.KindUpstreamError, "no search results for %q", p.cls.Category)
	}

	messages := []llms.Message{
		llms.SystemMessage(synthesisPrompt),
		llms.UserMessage(fmt.Sprintf("Question: %s\n\n%s", req.Query, formatResults(results))),
	}
	return g.generate(ctx, req, p, messages, opts, events)
}

// direct answers from the model alone, with conversation history.
func (g *Gateway) direct(ctx context.Context, req Request, p prepared, opts llms.Options, events chan<- StreamEvent) (*Answer, error) {
	system := personaPrompt
	if req.Instructions != "" {
		system = req.Instructions
	}

	messages := make([]llms.Message, 0, len(req.History)+2)
	if !hasSystem(req.History) {
		messages = append(messages, llms.SystemMessage(system))
	}
	messages = append(messages, req.History...)
	messages = append(messages, llms.UserMessage(req.Query))
	return g.generate(ctx, req, p, messages, opts, events)
}

// generate runs one LLM call, streaming when events is set.
func (g *Gateway) generate(ctx context.Context, req Request, p prepared, messages []llms.Message, opts llms.Options, events chan<- StreamEvent) (*Answer, error) {
	ans := &Answer{
		RequestID: req.RequestID,
		Category:  p.cls.Category,
		Route:     p.route,
		Room:      p.room,
	}

	if events == nil {
		result, err := g.llm.Generate(ctx, req.Model, messages, opts)
		if err != nil {
			return nil, err
		}
		ans.Text = result.Text
		ans.Model = result.Model
		ans.Backend = result.Backend
		ans.InputTokens = result.InputTokens
		ans.OutputTokens = result.OutputTokens
		return ans, nil
	}

	chunks, err := g.llm.GenerateStreaming(ctx, req.Model, messages, nil, opts)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for chunk := range chunks {
		switch chunk.Type {
		case llms.ChunkText:
			if chunk.Text == "" {
				continue
			}
			text.WriteString(chunk.Text)
			if !g.emit(ctx, events, StreamEvent{Text: chunk.Text}) {
				go drain(chunks)
				return nil, ctx.Err()
			}
		case llms.ChunkDone:
			ans.InputTokens = chunk.InputTokens
			ans.OutputTokens = chunk.OutputTokens
		case llms.ChunkError:
			if chunk.Err != nil {
				return nil, chunk.Err
			}
		}
	}
	ans.Text = text.String()
	return ans, nil
}

// finish stores the answer in the cache and the session history.
func (g *Gateway) finish(ctx context.Context, req Request, p prepared, ans *Answer) {
	if g.cache != nil && ans.Text != "" {
		payload, err := json.Marshal(cachedAnswer{Text: ans.Text})
		if err == nil {
			if _, err := g.cache.Store(ctx, req.Query, g.cacheOptions(req, p), payload); err != nil {
				slog.Debug("Cache store failed", "request_id", req.RequestID, "error", err)
			}
		}
	}
	g.remember(ctx, req, p, ans.Text)
}

// remember appends the user and assistant turns to the session.
func (g *Gateway) remember(ctx context.Context, req Request, p prepared, answer string) {
	if g.sessions == nil || req.SessionID == "" {
		return
	}
	intent := string(p.cls.Category)
	if err := g.sessions.Append(ctx, req.SessionID, session.Turn{
		Role: "user", Content: req.Query, Intent: intent,
	}); err != nil {
		slog.Debug("Session append failed", "error", err)
		return
	}
	if answer != "" {
		if err := g.sessions.Append(ctx, req.SessionID, session.Turn{
			Role: "assistant", Content: answer, Intent: intent,
		}); err != nil {
			slog.Debug("Session append failed", "error", err)
		}
	}
}

func (g *Gateway) llmOptions(req Request, p prepared) llms.Options {
	return llms.Options{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		RequestID:   req.RequestID,
		SessionID:   req.SessionID,
		Intent:      string(p.cls.Category),
	}
}

// BreakerState exposes the orchestrator breaker for health reporting.
func (g *Gateway) BreakerState() resilience.State {
	return g.breaker.State()
}

// RateLimitTokens exposes the admission bucket level for health
// reporting. Returns -1 when admission control is disabled.
func (g *Gateway) RateLimitTokens() float64 {
	return g.limiter.Tokens()
}

func hasSystem(messages []llms.Message) bool {
	for _, m := range messages {
		if m.Role == llms.RoleSystem {
			return true
		}
	}
	return false
}

// formatResults renders fused search results as the synthesis context
// block.
func formatResults(results []search.Result) string {
	var b strings.Builder
	b.WriteString("Search results:\n")
	for i, r := range results {
		if i >= 10 {
			break
		}
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, r.Source, r.Title)
		if r.Snippet != "" {
			b.WriteString(" - ")
			b.WriteString(r.Snippet)
		}
		var details []string
		if r.EventDate != "" {
			details = append(details, r.EventDate)
		}
		if r.Venue != "" {
			details = append(details, r.Venue)
		}
		if r.Location != "" {
			details = append(details, r.Location)
		}
		if r.PriceRange != "" {
			details = append(details, r.PriceRange)
		}
		if len(details) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(details, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// drain consumes leftover chunks so the producing goroutine can exit.
func drain(chunks <-chan llms.StreamChunk) {
	for range chunks {
	}
}
