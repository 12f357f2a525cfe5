package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hearthd/hearth/pkg/config"
)

func anthropicTestConfig(host string) *config.BackendConfig {
	return &config.BackendConfig{
		Provider: config.ProviderAnthropic,
		Model:    "claude-3-5-haiku-20241022",
		Host:     host,
		APIKey:   "sk-ant-test",
	}
}

func TestAnthropicProvider_Generate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("Expected /v1/messages, got %s", r.URL.Path)
		}
		if key := r.Header.Get("x-api-key"); key != "sk-ant-test" {
			t.Errorf("Expected x-api-key header, got %q", key)
		}
		if version := r.Header.Get("anthropic-version"); version != "2023-06-01" {
			t.Errorf("Expected anthropic-version 2023-06-01, got %q", version)
		}

		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.System != "You are terse." {
			t.Errorf("Expected system prompt hoisted to top level, got %q", req.System)
		}
		if len(req.Messages) != 1 {
			t.Errorf("Expected 1 wire message after system extraction, got %d", len(req.Messages))
		}
		if req.MaxTokens == 0 {
			t.Error("Expected non-zero max_tokens")
		}

		response := anthropicResponse{
			Content:    []anthropicContentBlock{{Type: "text", Text: "Short answer."}},
			StopReason: "end_turn",
			Usage:      anthropicUsage{InputTokens: 12, OutputTokens: 4},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider(anthropicTestConfig(server.URL))
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	messages := []Message{
		SystemMessage("You are terse."),
		UserMessage("Explain quickly"),
	}
	result, err := provider.Generate(context.Background(), messages, nil, Options{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Text != "Short answer." {
		t.Errorf("Generate() text = %q, want %q", result.Text, "Short answer.")
	}
	if result.InputTokens != 12 || result.OutputTokens != 4 {
		t.Errorf("Generate() tokens = %d/%d, want 12/4", result.InputTokens, result.OutputTokens)
	}
	if result.FinishReason != FinishStop {
		t.Errorf("Generate() finish = %v, want stop", result.FinishReason)
	}
}

func TestAnthropicProvider_Generate_ToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].Name != "set_light" {
			t.Errorf("Expected set_light tool in request, got %+v", req.Tools)
		}
		if req.Tools[0].InputSchema == nil {
			t.Error("Expected input_schema on anthropic tool")
		}

		response := anthropicResponse{
			Content: []anthropicContentBlock{
				{Type: "text", Text: "Turning it on."},
				{Type: "tool_use", ID: "toolu_1", Name: "set_light", Input: map[string]any{"state": "on"}},
			},
			StopReason: "tool_use",
			Usage:      anthropicUsage{InputTokens: 30, OutputTokens: 12},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider(anthropicTestConfig(server.URL))
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	tools := []ToolDefinition{{
		Name:        "set_light",
		Description: "Set a light state",
		Parameters:  map[string]any{"type": "object"},
	}}

	result, err := provider.Generate(context.Background(), []Message{UserMessage("Lights on")}, tools, Options{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("Generate() toolCalls = %d, want 1", len(result.ToolCalls))
	}
	call := result.ToolCalls[0]
	if call.ID != "toolu_1" || call.Name != "set_light" {
		t.Errorf("tool call = %+v, want toolu_1/set_light", call)
	}
	args, err := call.Args()
	if err != nil {
		t.Fatalf("Args() error = %v", err)
	}
	if args["state"] != "on" {
		t.Errorf("Args() state = %v, want on", args["state"])
	}
	if result.FinishReason != FinishToolCalls {
		t.Errorf("Generate() finish = %v, want tool_calls", result.FinishReason)
	}
}

func TestAnthropicProvider_BuildRequest_ToolResults(t *testing.T) {
	provider, err := NewAnthropicProvider(anthropicTestConfig("http://unused"))
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	messages := []Message{
		UserMessage("Lights on"),
		{
			Role:      RoleAssistant,
			ToolCalls: []ToolCall{{ID: "toolu_1", Name: "set_light", Arguments: `{"state":"on"}`}},
		},
		{Role: RoleTool, ToolCallID: "toolu_1", Content: `{"ok":true}`},
	}

	req := provider.buildRequest(messages, false, nil, Options{})

	if len(req.Messages) != 3 {
		t.Fatalf("buildRequest() messages = %d, want 3", len(req.Messages))
	}

	assistant := req.Messages[1]
	blocks, ok := assistant.Content.([]anthropicContentBlock)
	if !ok {
		t.Fatalf("assistant content type = %T, want content blocks", assistant.Content)
	}
	if len(blocks) != 1 || blocks[0].Type != "tool_use" || blocks[0].ID != "toolu_1" {
		t.Errorf("assistant blocks = %+v, want one tool_use", blocks)
	}

	toolResult := req.Messages[2]
	if toolResult.Role != "user" {
		t.Errorf("tool result role = %q, want user", toolResult.Role)
	}
	resultBlocks, ok := toolResult.Content.([]anthropicContentBlock)
	if !ok || len(resultBlocks) != 1 {
		t.Fatalf("tool result content = %+v, want one block", toolResult.Content)
	}
	if resultBlocks[0].Type != "tool_result" || resultBlocks[0].ToolUseID != "toolu_1" {
		t.Errorf("tool result block = %+v, want tool_result for toolu_1", resultBlocks[0])
	}
}

func TestAnthropicProvider_GenerateStreaming_Events(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`event: message_start`,
			`data: {"type":"message_start","message":{"usage":{"input_tokens":25,"output_tokens":0}}}`,
			``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
			``,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}`,
			``,
			`event: message_delta`,
			`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":7}}`,
			``,
			`event: message_stop`,
			`data: {"type":"message_stop"}`,
			``,
		}
		for _, line := range events {
			_, _ = w.Write([]byte(line + "\n"))
		}
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider(anthropicTestConfig(server.URL))
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	ch, err := provider.GenerateStreaming(context.Background(), []Message{UserMessage("Hi")}, nil, Options{})
	if err != nil {
		t.Fatalf("GenerateStreaming() error = %v", err)
	}

	var text strings.Builder
	var done *StreamChunk
	for chunk := range ch {
		switch chunk.Type {
		case ChunkText:
			text.WriteString(chunk.Text)
		case ChunkDone:
			c := chunk
			done = &c
		case ChunkError:
			t.Fatalf("unexpected error chunk: %v", chunk.Err)
		}
	}

	if text.String() != "Hello world" {
		t.Errorf("streamed text = %q, want %q", text.String(), "Hello world")
	}
	if done == nil {
		t.Fatal("expected done chunk")
	}
	if done.InputTokens != 25 || done.OutputTokens != 7 {
		t.Errorf("done tokens = %d/%d, want 25/7", done.InputTokens, done.OutputTokens)
	}
}

func TestAnthropicProvider_GenerateStreaming_ToolInputDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`data: {"type":"message_start","message":{"usage":{"input_tokens":40,"output_tokens":0}}}`,
			`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_7","name":"set_light"}}`,
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"state\":"}}`,
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"off\"}"}}`,
			`data: {"type":"content_block_stop","index":0}`,
			`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":9}}`,
			`data: {"type":"message_stop"}`,
		}
		for _, line := range events {
			_, _ = w.Write([]byte(line + "\n\n"))
		}
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider(anthropicTestConfig(server.URL))
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	ch, err := provider.GenerateStreaming(context.Background(), []Message{UserMessage("Lights off")}, nil, Options{})
	if err != nil {
		t.Fatalf("GenerateStreaming() error = %v", err)
	}

	var calls []ToolCall
	for chunk := range ch {
		if chunk.Type == ChunkToolCall && chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
		if chunk.Type == ChunkError {
			t.Fatalf("unexpected error chunk: %v", chunk.Err)
		}
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}
	if calls[0].ID != "toolu_7" || calls[0].Name != "set_light" {
		t.Errorf("tool call = %+v, want toolu_7/set_light", calls[0])
	}
	if calls[0].Arguments != `{"state":"off"}` {
		t.Errorf("arguments = %q, want assembled JSON", calls[0].Arguments)
	}
}

func TestAnthropicProvider_Generate_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Error: &anthropicError{Type: "overloaded_error", Message: "Overloaded"},
		})
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider(anthropicTestConfig(server.URL))
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	_, err = provider.Generate(context.Background(), []Message{UserMessage("Hi")}, nil, Options{})
	if err == nil {
		t.Fatal("Generate() expected error for API error body")
	}
	if !strings.Contains(err.Error(), "Overloaded") {
		t.Errorf("Generate() error = %v, want Overloaded mention", err)
	}
}
