package llms

import (
	"encoding/json"
	"fmt"
)

// The canonical tool representation is the OpenAI function-tool shape.
// Each provider gets its conversion here so the round trip
// canonical → provider → tool-call response → canonical preserves
// {name, arguments} exactly.

// openAITool is the wire shape OpenAI and llama.cpp accept.
type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// anthropicTool is the wire shape the Anthropic messages API accepts.
type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// geminiFunctionDeclaration is one entry of Google's tools array.
type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"function_declarations"`
}

func toOpenAITools(tools []ToolDefinition) []openAITool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openAITool, len(tools))
	for i, t := range tools {
		out[i] = openAITool{
			Type: "function",
			Function: openAIToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}

func toAnthropicTools(tools []ToolDefinition) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropicTool, len(tools))
	for i, t := range tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		}
	}
	return out
}

// toGeminiTools wraps all declarations into the single tools entry the
// generateContent API expects.
func toGeminiTools(tools []ToolDefinition) []geminiTool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]geminiFunctionDeclaration, len(tools))
	for i, t := range tools {
		decls[i] = geminiFunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  sanitizeGeminiSchema(t.Parameters),
		}
	}
	return []geminiTool{{FunctionDeclarations: decls}}
}

// sanitizeGeminiSchema strips JSON-Schema keywords the Gemini API
// rejects (additionalProperties, $schema) while keeping the structure.
func sanitizeGeminiSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		switch k {
		case "additionalProperties", "$schema", "$id", "$defs":
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = sanitizeGeminiSchema(nested)
			continue
		}
		if list, ok := v.([]any); ok {
			cp := make([]any, len(list))
			for i, item := range list {
				if m, ok := item.(map[string]any); ok {
					cp[i] = sanitizeGeminiSchema(m)
				} else {
					cp[i] = item
				}
			}
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

// normalizeToolCall builds the canonical call from whatever argument
// framing the provider used: a JSON string (OpenAI) or a decoded object
// (Anthropic input, Google args, Ollama arguments).
func normalizeToolCall(id, name string, args any) (ToolCall, error) {
	tc := ToolCall{ID: id, Name: name}

	switch v := args.(type) {
	case nil:
		tc.Arguments = "{}"
	case string:
		if v == "" {
			tc.Arguments = "{}"
		} else {
			tc.Arguments = v
		}
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return tc, fmt.Errorf("failed to encode tool arguments for %s: %w", name, err)
		}
		tc.Arguments = string(encoded)
	}

	return tc, nil
}
