package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hearthd/hearth/pkg/faults"
	"github.com/hearthd/hearth/pkg/llms"
)

// maxBodyBytes bounds request bodies on every gateway endpoint.
const maxBodyBytes = 1 << 20

// ModelLister enumerates the models the router can serve.
// *llms.Router satisfies it.
type ModelLister interface {
	ModelDescriptors() []llms.ModelDescriptor
}

// WithModelLister attaches the model catalog used by /v1/models.
func WithModelLister(m ModelLister) Option {
	return func(g *Gateway) { g.models = m }
}

// chatRequest is the OpenAI chat completions request, plus the
// extension fields the voice satellites send.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	User        string        `json:"user,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	Room      string `json:"room,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *usageBlock  `json:"usage,omitempty"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatDelta   `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

type chatDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type usageBlock struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// HandleChatCompletions serves POST /v1/chat/completions.
func (g *Gateway) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)

	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, requestID, faults.Wrap(faults.KindParseFailure, err, "decode chat request"))
		return
	}

	query, history, err := splitMessages(req.Messages)
	if err != nil {
		writeError(w, requestID, err)
		return
	}

	greq := Request{
		Query:       query,
		History:     history,
		Model:       normalizeModel(req.Model),
		SessionID:   firstNonEmpty(req.SessionID, req.User),
		DeviceID:    req.DeviceID,
		Room:        req.Room,
		Mode:        req.Mode,
		RequestID:   requestID,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	if req.Stream {
		g.streamChat(w, r, greq, req.Model)
		return
	}

	ans, err := g.Ask(r.Context(), greq)
	if err != nil {
		writeError(w, requestID, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ID:      "chatcmpl-" + requestID,
		Object:  "chat.completion",
		Created: g.now().Unix(),
		Model:   reportedModel(ans, req.Model),
		Choices: []chatChoice{{
			Message:      &chatMessage{Role: "assistant", Content: ans.Text},
			FinishReason: strPtr("stop"),
		}},
		Usage: &usageBlock{
			PromptTokens:     ans.InputTokens,
			CompletionTokens: ans.OutputTokens,
			TotalTokens:      ans.InputTokens + ans.OutputTokens,
		},
	})
}

// streamChat relays gateway events as OpenAI chunk frames over SSE.
func (g *Gateway) streamChat(w http.ResponseWriter, r *http.Request, greq Request, model string) {
	events, err := g.Stream(r.Context(), greq)
	if err != nil {
		writeError(w, greq.RequestID, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, greq.RequestID, faults.New(faults.KindUnknown, "response writer does not support streaming"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	id := "chatcmpl-" + greq.RequestID
	created := g.now().Unix()
	if model == "" {
		model = "auto"
	}
	first := true

	for ev := range events {
		switch {
		case ev.Err != nil:
			sseData(w, errorBody{Error: errorDetail{
				Message: apologyLine,
				Type:    errorType(faults.KindOf(ev.Err)),
			}})
			flusher.Flush()
			slog.Error("Chat stream failed", "request_id", greq.RequestID, "error", ev.Err)

		case ev.Done:
			frame := chatResponse{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   model,
				Choices: []chatChoice{{Delta: &chatDelta{}, FinishReason: strPtr("stop")}},
			}
			if ev.Answer != nil {
				frame.Model = reportedModel(ev.Answer, model)
				frame.Usage = &usageBlock{
					PromptTokens:     ev.Answer.InputTokens,
					CompletionTokens: ev.Answer.OutputTokens,
					TotalTokens:      ev.Answer.InputTokens + ev.Answer.OutputTokens,
				}
			}
			sseData(w, frame)
			flusher.Flush()

		case ev.Text != "":
			delta := &chatDelta{Content: ev.Text}
			if first {
				delta.Role = "assistant"
				first = false
			}
			sseData(w, chatResponse{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   model,
				Choices: []chatChoice{{Delta: delta, FinishReason: nil}},
			})
			flusher.Flush()
		}
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// HandleModels serves GET /v1/models: the virtual aliases merged with
// every configured backend's alias and concrete model id.
func (g *Gateway) HandleModels(w http.ResponseWriter, r *http.Request) {
	ensureRequestID(w, r)

	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	}

	created := g.now().Unix()
	seen := map[string]bool{}
	var entries []modelEntry
	add := func(id, owner string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		entries = append(entries, modelEntry{ID: id, Object: "model", Created: created, OwnedBy: owner})
	}

	add("auto", "hearth")
	if g.models != nil {
		for _, d := range g.models.ModelDescriptors() {
			add(d.Name, string(d.Provider))
			add(d.Model, string(d.Provider))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   entries,
	})
}

// splitMessages pulls the query out of an OpenAI message list: the
// last user message is the query, everything before it is history.
func splitMessages(messages []chatMessage) (string, []llms.Message, error) {
	last := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = i
			break
		}
	}
	if last < 0 || messages[last].Content == "" {
		return "", nil, faults.New(faults.KindBadRequest, "request has no user message")
	}

	var history []llms.Message
	for i, m := range messages {
		if i == last {
			continue
		}
		switch m.Role {
		case "system", "user", "assistant":
			history = append(history, llms.Message{Role: llms.Role(m.Role), Content: m.Content})
		default:
			return "", nil, faults.New(faults.KindBadRequest, "unsupported message role %q", m.Role)
		}
	}
	return messages[last].Content, history, nil
}

// ensureRequestID reads or assigns the request id and echoes it on the
// response.
func ensureRequestID(w http.ResponseWriter, r *http.Request) string {
	id := r.Header.Get("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", id)
	return id
}

func normalizeModel(model string) string {
	if model == "auto" {
		return ""
	}
	return model
}

func reportedModel(ans *Answer, requested string) string {
	if ans != nil && ans.Model != "" {
		return ans.Model
	}
	if requested != "" {
		return requested
	}
	return "auto"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("Response encode failed", "error", err)
	}
}

// writeError maps a fault to the OpenAI error envelope. Upstream
// failures answer with the spoken apology so voice clients can relay
// it directly.
func writeError(w http.ResponseWriter, requestID string, err error) {
	kind := faults.KindOf(err)
	status := faults.HTTPStatus(kind)

	msg := err.Error()
	code := ""
	if kind == faults.KindUpstreamError {
		msg = apologyLine
		code = "upstream_failed"
		slog.Error("Request failed upstream", "request_id", requestID, "error", err)
	}

	writeJSON(w, status, errorBody{Error: errorDetail{
		Message: msg,
		Type:    errorType(kind),
		Code:    code,
	}})
}

func errorType(kind faults.Kind) string {
	switch kind {
	case faults.KindRateLimited:
		return "rate_limit_exceeded"
	case faults.KindBadRequest, faults.KindParseFailure:
		return "invalid_request_error"
	case faults.KindUpstreamError:
		return "upstream_error"
	case faults.KindCircuitOpen, faults.KindProviderNotConfigured:
		return "service_unavailable"
	case faults.KindTimeout:
		return "timeout"
	}
	return "internal_error"
}

func sseData(w io.Writer, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Debug("SSE encode failed", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func strPtr(s string) *string { return &s }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
