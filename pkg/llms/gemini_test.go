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

func geminiTestConfig(host string) *config.BackendConfig {
	return &config.BackendConfig{
		Provider: config.ProviderGoogle,
		Model:    "gemini-2.0-flash",
		Host:     host,
		APIKey:   "test-key",
	}
}

func TestGeminiProvider_Generate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wantPath := "/v1beta/models/gemini-2.0-flash:generateContent"
		if r.URL.Path != wantPath {
			t.Errorf("Expected %s, got %s", wantPath, r.URL.Path)
		}
		if key := r.URL.Query().Get("key"); key != "test-key" {
			t.Errorf("Expected key query param, got %q", key)
		}

		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if len(req.Contents) != 1 || req.Contents[0].Role != "user" {
			t.Errorf("Expected one user content, got %+v", req.Contents)
		}
		if req.SystemInstruction == nil || len(req.SystemInstruction.Parts) != 1 {
			t.Error("Expected systemInstruction from system message")
		}

		response := geminiResponse{
			Candidates: []geminiCandidate{
				{
					Content:      geminiContent{Role: "model", Parts: []geminiPart{{Text: "It is sunny."}}},
					FinishReason: "STOP",
				},
			},
			UsageMetadata: &geminiUsageMetadata{PromptTokenCount: 18, CandidatesTokenCount: 5},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	provider, err := NewGeminiProvider(geminiTestConfig(server.URL))
	if err != nil {
		t.Fatalf("NewGeminiProvider() error = %v", err)
	}

	messages := []Message{
		SystemMessage("Answer briefly."),
		UserMessage("Weather today?"),
	}
	result, err := provider.Generate(context.Background(), messages, nil, Options{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Text != "It is sunny." {
		t.Errorf("Generate() text = %q, want %q", result.Text, "It is sunny.")
	}
	if result.InputTokens != 18 || result.OutputTokens != 5 {
		t.Errorf("Generate() tokens = %d/%d, want 18/5", result.InputTokens, result.OutputTokens)
	}
}

func TestGeminiProvider_Generate_FunctionCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if len(req.Tools) != 1 || len(req.Tools[0].FunctionDeclarations) != 1 {
			t.Fatalf("Expected one function declaration, got %+v", req.Tools)
		}
		decl := req.Tools[0].FunctionDeclarations[0]
		if decl.Name != "set_thermostat" {
			t.Errorf("Expected set_thermostat declaration, got %s", decl.Name)
		}
		if _, found := decl.Parameters["additionalProperties"]; found {
			t.Error("Expected additionalProperties stripped from schema")
		}

		response := geminiResponse{
			Candidates: []geminiCandidate{
				{
					Content: geminiContent{
						Role: "model",
						Parts: []geminiPart{
							{FunctionCall: &geminiFunctionCall{
								Name: "set_thermostat",
								Args: map[string]any{"temperature": 72.0},
							}},
						},
					},
					FinishReason: "STOP",
				},
			},
			UsageMetadata: &geminiUsageMetadata{PromptTokenCount: 33, CandidatesTokenCount: 11},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	provider, err := NewGeminiProvider(geminiTestConfig(server.URL))
	if err != nil {
		t.Fatalf("NewGeminiProvider() error = %v", err)
	}

	tools := []ToolDefinition{{
		Name:        "set_thermostat",
		Description: "Set target temperature",
		Parameters: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"temperature": map[string]any{"type": "number"},
			},
		},
	}}

	result, err := provider.Generate(context.Background(), []Message{UserMessage("Set 72 degrees")}, tools, Options{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("Generate() toolCalls = %d, want 1", len(result.ToolCalls))
	}
	call := result.ToolCalls[0]
	if call.Name != "set_thermostat" {
		t.Errorf("tool call name = %q, want set_thermostat", call.Name)
	}
	if call.ID == "" {
		t.Error("expected synthesized tool call id")
	}
	args, err := call.Args()
	if err != nil {
		t.Fatalf("Args() error = %v", err)
	}
	if args["temperature"] != 72.0 {
		t.Errorf("Args() temperature = %v, want 72", args["temperature"])
	}
	if result.FinishReason != FinishToolCalls {
		t.Errorf("Generate() finish = %v, want tool_calls", result.FinishReason)
	}
}

func TestGeminiProvider_BuildRequest_RoleMapping(t *testing.T) {
	provider, err := NewGeminiProvider(geminiTestConfig("http://unused"))
	if err != nil {
		t.Fatalf("NewGeminiProvider() error = %v", err)
	}

	messages := []Message{
		UserMessage("Lights on"),
		{
			Role:      RoleAssistant,
			ToolCalls: []ToolCall{{ID: "call_1", Name: "set_light", Arguments: `{"state":"on"}`}},
		},
		{Role: RoleTool, Name: "set_light", Content: `{"ok":true}`},
	}

	req := provider.buildRequest(messages, nil, Options{})

	if len(req.Contents) != 3 {
		t.Fatalf("buildRequest() contents = %d, want 3", len(req.Contents))
	}
	if req.Contents[1].Role != "model" {
		t.Errorf("assistant role = %q, want model", req.Contents[1].Role)
	}
	if req.Contents[1].Parts[0].FunctionCall == nil {
		t.Error("expected functionCall part on assistant turn")
	}
	if req.Contents[2].Parts[0].FunctionResponse == nil {
		t.Error("expected functionResponse part for tool result")
	}
	if req.Contents[2].Parts[0].FunctionResponse.Name != "set_light" {
		t.Errorf("functionResponse name = %q, want set_light", req.Contents[2].Parts[0].FunctionResponse.Name)
	}
}

func TestGeminiProvider_GenerateStreaming_SSE(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wantPath := "/v1beta/models/gemini-2.0-flash:streamGenerateContent"
		if r.URL.Path != wantPath {
			t.Errorf("Expected %s, got %s", wantPath, r.URL.Path)
		}
		if alt := r.URL.Query().Get("alt"); alt != "sse" {
			t.Errorf("Expected alt=sse, got %q", alt)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Once"}]}}]}`,
			`data: {"candidates":[{"content":{"role":"model","parts":[{"text":" upon"}]}}],"usageMetadata":{"promptTokenCount":6,"candidatesTokenCount":2}}`,
		}
		for _, chunk := range chunks {
			_, _ = w.Write([]byte(chunk + "\n\n"))
		}
	}))
	defer server.Close()

	provider, err := NewGeminiProvider(geminiTestConfig(server.URL))
	if err != nil {
		t.Fatalf("NewGeminiProvider() error = %v", err)
	}

	ch, err := provider.GenerateStreaming(context.Background(), []Message{UserMessage("Story")}, nil, Options{})
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

	if text.String() != "Once upon" {
		t.Errorf("streamed text = %q, want %q", text.String(), "Once upon")
	}
	if done == nil {
		t.Fatal("expected done chunk")
	}
	if done.InputTokens != 6 || done.OutputTokens != 2 {
		t.Errorf("done tokens = %d/%d, want 6/2", done.InputTokens, done.OutputTokens)
	}
}

func TestSanitizeGeminiSchema_StripsUnsupportedKeys(t *testing.T) {
	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"properties": map[string]any{
			"nested": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
		},
		"items": []any{
			map[string]any{"type": "string", "$id": "x"},
		},
	}

	clean := sanitizeGeminiSchema(schema)

	if _, found := clean["additionalProperties"]; found {
		t.Error("top-level additionalProperties not stripped")
	}
	if _, found := clean["$schema"]; found {
		t.Error("$schema not stripped")
	}
	nested := clean["properties"].(map[string]any)["nested"].(map[string]any)
	if _, found := nested["additionalProperties"]; found {
		t.Error("nested additionalProperties not stripped")
	}
	item := clean["items"].([]any)[0].(map[string]any)
	if _, found := item["$id"]; found {
		t.Error("$id inside array not stripped")
	}

	// Original schema is untouched.
	if _, found := schema["additionalProperties"]; !found {
		t.Error("sanitize mutated the input schema")
	}
}
