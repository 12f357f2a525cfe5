// Package llms routes generation requests to LLM backends. Five native
// wire formats are spoken directly (OpenAI, Anthropic, Google, Ollama and
// llama.cpp's OpenAI-compatible server); the package owns tool-schema
// translation between them, per-call cost accounting and a rolling
// latency window per backend.
package llms

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the canonical conversation turn passed to every backend.
// Providers translate it to their native shape at the edge.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls carries the calls an assistant turn requested.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role result back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Name is the tool name on tool-role messages, for providers that
	// want it (Ollama, Google).
	Name string `json:"name,omitempty"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolDefinition is the canonical tool schema, matching the OpenAI
// function-tool shape. Parameters is a JSON-Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is the canonical normalised tool invocation. Arguments is the
// JSON-encoded argument object regardless of how the provider framed it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Args decodes the arguments into a map.
func (tc *ToolCall) Args() (map[string]any, error) {
	if tc.Arguments == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// Options are the per-request knobs. Zero values defer to the backend
// configuration.
type Options struct {
	// Temperature overrides the backend default when non-nil.
	Temperature *float64

	// MaxTokens overrides the backend default when positive.
	MaxTokens int

	// JSONSchema, when non-nil, asks the backend for structured output
	// conforming to the schema. Backends without native schema support
	// fall back to JSON-object mode.
	JSONSchema map[string]any

	// RequestID tags usage records and logs.
	RequestID string

	// SessionID tags usage records.
	SessionID string

	// Intent tags usage records with the pre-router classification.
	Intent string

	// WasFallback marks the call as a fallback and names the reason.
	WasFallback    bool
	FallbackReason string
}

// Result is one completed non-streaming generation.
type Result struct {
	Text         string
	ToolCalls    []ToolCall
	InputTokens  int
	OutputTokens int
	FinishReason string

	// Backend is the configured backend name that served the call;
	// Model is the concrete model identifier it used.
	Backend string
	Model   string

	Latency time.Duration
}

// ChunkType discriminates streaming chunks.
type ChunkType string

const (
	ChunkText     ChunkType = "text"
	ChunkToolCall ChunkType = "tool_call"
	ChunkDone     ChunkType = "done"
	ChunkError    ChunkType = "error"
)

// StreamChunk is one item of a streaming generation. The terminal
// ChunkDone item carries token counts and the total duration; ChunkError
// is terminal too and carries Err.
type StreamChunk struct {
	Type     ChunkType
	Text     string
	ToolCall *ToolCall

	InputTokens  int
	OutputTokens int
	Duration     time.Duration

	Err error
}

// Normalised finish reasons.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool_calls"
)
