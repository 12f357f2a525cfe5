package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hearthd/hearth/pkg/faults"
	"github.com/hearthd/hearth/pkg/llms"
)

// responsesRequest is the OpenAI Responses API request. Input is a
// union: a bare string or a message list.
type responsesRequest struct {
	Model           string          `json:"model"`
	Input           json.RawMessage `json:"input"`
	Instructions    string          `json:"instructions,omitempty"`
	Stream          bool            `json:"stream,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	MaxOutputTokens int             `json:"max_output_tokens,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	Room      string `json:"room,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

type responseObject struct {
	ID         string          `json:"id"`
	Object     string          `json:"object"`
	CreatedAt  int64           `json:"created_at"`
	Status     string          `json:"status"`
	Model      string          `json:"model"`
	Output     []responseItem  `json:"output"`
	OutputText string          `json:"output_text,omitempty"`
	Usage      *responsesUsage `json:"usage,omitempty"`
}

type responseItem struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Status  string         `json:"status"`
	Role    string         `json:"role"`
	Content []responsePart `json:"content"`
}

type responsePart struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	Annotations []any  `json:"annotations"`
}

type responsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// HandleResponses serves POST /v1/responses.
func (g *Gateway) HandleResponses(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)

	var req responsesRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, requestID, faults.Wrap(faults.KindParseFailure, err, "decode responses request"))
		return
	}

	query, history, err := parseResponsesInput(req.Input)
	if err != nil {
		writeError(w, requestID, err)
		return
	}

	greq := Request{
		Query:        query,
		History:      history,
		Model:        normalizeModel(req.Model),
		Instructions: req.Instructions,
		SessionID:    req.SessionID,
		DeviceID:     req.DeviceID,
		Room:         req.Room,
		Mode:         req.Mode,
		RequestID:    requestID,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxOutputTokens,
	}

	if req.Stream {
		g.streamResponses(w, r, greq, req.Model)
		return
	}

	ans, err := g.Ask(r.Context(), greq)
	if err != nil {
		writeError(w, requestID, err)
		return
	}

	writeJSON(w, http.StatusOK, g.responseObject(greq, req.Model, ans, ans.Text, "completed"))
}

// streamResponses emits the Responses event sequence. Every stream
// carries the full scaffold in order, even when the whole answer
// arrives in one delta:
//
//	response.created
//	response.output_item.added
//	response.content_part.added
//	response.output_text.delta (repeated)
//	response.output_text.done
//	response.content_part.done
//	response.output_item.done
//	response.done
func (g *Gateway) streamResponses(w http.ResponseWriter, r *http.Request, greq Request, model string) {
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

	id := "resp_" + greq.RequestID
	itemID := "msg_" + greq.RequestID
	if model == "" {
		model = "auto"
	}

	opening := responseObject{
		ID:        id,
		Object:    "response",
		CreatedAt: g.now().Unix(),
		Status:    "in_progress",
		Model:     model,
		Output:    []responseItem{},
	}
	sseEvent(w, "response.created", map[string]any{
		"type":     "response.created",
		"response": opening,
	})
	sseEvent(w, "response.output_item.added", map[string]any{
		"type":         "response.output_item.added",
		"output_index": 0,
		"item": responseItem{
			ID: itemID, Type: "message", Status: "in_progress",
			Role: "assistant", Content: []responsePart{},
		},
	})
	sseEvent(w, "response.content_part.added", map[string]any{
		"type":          "response.content_part.added",
		"item_id":       itemID,
		"output_index":  0,
		"content_index": 0,
		"part":          responsePart{Type: "output_text", Text: "", Annotations: []any{}},
	})
	flusher.Flush()

	var full strings.Builder
	var ans *Answer
	failed := false
	for ev := range events {
		switch {
		case ev.Err != nil:
			failed = true
			slog.Error("Responses stream failed", "request_id", greq.RequestID, "error", ev.Err)
		case ev.Done:
			ans = ev.Answer
		case ev.Text != "":
			full.WriteString(ev.Text)
			sseEvent(w, "response.output_text.delta", map[string]any{
				"type":          "response.output_text.delta",
				"item_id":       itemID,
				"output_index":  0,
				"content_index": 0,
				"delta":         ev.Text,
			})
			flusher.Flush()
		}
	}

	text := full.String()
	sseEvent(w, "response.output_text.done", map[string]any{
		"type":          "response.output_text.done",
		"item_id":       itemID,
		"output_index":  0,
		"content_index": 0,
		"text":          text,
	})
	sseEvent(w, "response.content_part.done", map[string]any{
		"type":          "response.content_part.done",
		"item_id":       itemID,
		"output_index":  0,
		"content_index": 0,
		"part":          responsePart{Type: "output_text", Text: text, Annotations: []any{}},
	})
	sseEvent(w, "response.output_item.done", map[string]any{
		"type":         "response.output_item.done",
		"output_index": 0,
		"item": responseItem{
			ID: itemID, Type: "message", Status: "completed",
			Role: "assistant",
			Content: []responsePart{{Type: "output_text", Text: text, Annotations: []any{}}},
		},
	})

	status := "completed"
	if failed {
		status = "failed"
	}
	sseEvent(w, "response.done", map[string]any{
		"type":     "response.done",
		"response": g.responseObject(greq, model, ans, text, status),
	})
	flusher.Flush()
}

// responseObject assembles the terminal response body shared by the
// streaming and non-streaming paths.
func (g *Gateway) responseObject(greq Request, model string, ans *Answer, text, status string) responseObject {
	obj := responseObject{
		ID:        "resp_" + greq.RequestID,
		Object:    "response",
		CreatedAt: g.now().Unix(),
		Status:    status,
		Model:     reportedModel(ans, model),
		Output: []responseItem{{
			ID: "msg_" + greq.RequestID, Type: "message", Status: status,
			Role: "assistant",
			Content: []responsePart{{Type: "output_text", Text: text, Annotations: []any{}}},
		}},
		OutputText: text,
	}
	if ans != nil {
		obj.Usage = &responsesUsage{
			InputTokens:  ans.InputTokens,
			OutputTokens: ans.OutputTokens,
			TotalTokens:  ans.InputTokens + ans.OutputTokens,
		}
	}
	return obj
}

// responsesInputMessage is one element of the message-list input form.
// Content is itself a union: a string or typed text parts.
type responsesInputMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type responsesInputPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// parseResponsesInput unpacks the input union into the query and
// prior-turn history.
func parseResponsesInput(raw json.RawMessage) (string, []llms.Message, error) {
	if len(raw) == 0 {
		return "", nil, faults.New(faults.KindBadRequest, "input is required")
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if strings.TrimSpace(text) == "" {
			return "", nil, faults.New(faults.KindBadRequest, "input is empty")
		}
		return text, nil, nil
	}

	var list []responsesInputMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", nil, faults.Wrap(faults.KindBadRequest, err, "input must be a string or message list")
	}

	messages := make([]chatMessage, 0, len(list))
	for _, m := range list {
		role := m.Role
		if role == "developer" {
			role = "system"
		}
		content, err := inputContent(m.Content)
		if err != nil {
			return "", nil, err
		}
		messages = append(messages, chatMessage{Role: role, Content: content})
	}
	return splitMessages(messages)
}

func inputContent(raw json.RawMessage) (string, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var parts []responsesInputPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", faults.Wrap(faults.KindBadRequest, err, "message content must be a string or text parts")
	}
	var b strings.Builder
	for _, p := range parts {
		switch p.Type {
		case "input_text", "output_text", "text":
			b.WriteString(p.Text)
		default:
			return "", faults.New(faults.KindBadRequest, "unsupported content part type %q", p.Type)
		}
	}
	return b.String(), nil
}

// sseEvent writes one named SSE frame.
func sseEvent(w io.Writer, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Debug("SSE encode failed", "event", name, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}
