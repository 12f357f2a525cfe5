package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/faults"
	"github.com/hearthd/hearth/pkg/httpclient"
	"github.com/hearthd/hearth/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const anthropicAPIVersion = "2023-06-01"

// Anthropic requires max_tokens on every request.
const anthropicDefaultMaxTokens = 4096

// AnthropicProvider speaks the Anthropic messages wire format.
type AnthropicProvider struct {
	config       *config.BackendConfig
	httpClient   *httpclient.Client
	streamClient *httpclient.Client
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	System      string             `json:"system,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use blocks
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result blocks
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
	Error      *anthropicError         `json:"error,omitempty"`
}

type anthropicStreamEvent struct {
	Type         string                 `json:"type"`
	Index        int                    `json:"index,omitempty"`
	Message      *anthropicResponse     `json:"message,omitempty"`
	ContentBlock *anthropicContentBlock `json:"content_block,omitempty"`
	Delta        *anthropicStreamDelta  `json:"delta,omitempty"`
	Usage        *anthropicUsage        `json:"usage,omitempty"`
	Error        *anthropicError        `json:"error,omitempty"`
}

type anthropicStreamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewAnthropicProvider builds a provider for the Anthropic API.
func NewAnthropicProvider(cfg *config.BackendConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, faults.New(faults.KindProviderNotConfigured, "anthropic api key is missing")
	}
	return &AnthropicProvider{
		config:       cfg,
		httpClient:   newBackendHTTPClient(cfg),
		streamClient: newStreamingHTTPClient(),
	}, nil
}

func (p *AnthropicProvider) ModelName() string             { return p.config.Model }
func (p *AnthropicProvider) ProviderName() config.Provider { return config.ProviderAnthropic }
func (p *AnthropicProvider) Close() error                  { return nil }

func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (*Result, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("hearth.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrModel, p.config.Model),
			attribute.String(observability.AttrBackend, string(config.ProviderAnthropic)),
			attribute.Bool("streaming", false),
		),
	)
	defer span.End()

	request := p.buildRequest(messages, false, tools, opts)

	response, err := p.makeRequest(ctx, request)
	duration := time.Since(startTime)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.GetGlobalMetrics().RecordLLMCall(ctx, "anthropic", p.config.Model, duration, 0, 0, err)
		return nil, err
	}

	if response.Error != nil {
		apiErr := faults.New(faults.KindUpstreamError, "anthropic api error: %s", response.Error.Message)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, response.Error.Message)
		observability.GetGlobalMetrics().RecordLLMCall(ctx, "anthropic", p.config.Model, duration, 0, 0, apiErr)
		return nil, apiErr
	}

	result := &Result{
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
		FinishReason: normalizeAnthropicStop(response.StopReason),
		Model:        p.config.Model,
		Latency:      duration,
	}

	for _, block := range response.Content {
		switch block.Type {
		case "text":
			result.Text += block.Text
		case "tool_use":
			call, err := normalizeToolCall(block.ID, block.Name, block.Input)
			if err != nil {
				span.RecordError(err)
				return nil, faults.Wrap(faults.KindParseFailure, err, "malformed tool call from anthropic")
			}
			result.ToolCalls = append(result.ToolCalls, call)
		}
	}

	span.SetAttributes(
		attribute.Int(observability.AttrTokensInput, result.InputTokens),
		attribute.Int(observability.AttrTokensOutput, result.OutputTokens),
	)
	span.SetStatus(codes.Ok, "")
	observability.GetGlobalMetrics().RecordLLMCall(ctx, "anthropic", p.config.Model, duration, result.InputTokens, result.OutputTokens, nil)

	return result, nil
}

func (p *AnthropicProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (<-chan StreamChunk, error) {
	request := p.buildRequest(messages, true, tools, opts)

	outputCh := make(chan StreamChunk, streamChunkBuffer)

	go func() {
		defer close(outputCh)

		if err := p.makeStreamingRequest(ctx, request, outputCh); err != nil {
			outputCh <- StreamChunk{Type: ChunkError, Err: err}
		}
	}()

	return outputCh, nil
}

// buildRequest converts canonical messages to the Anthropic shape. System
// messages move to the top-level system field, tool results become
// tool_result blocks inside user messages, and assistant tool calls
// become tool_use blocks.
func (p *AnthropicProvider) buildRequest(messages []Message, stream bool, tools []ToolDefinition, opts Options) anthropicRequest {
	var system string
	wireMessages := make([]anthropicMessage, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content

		case RoleTool:
			wireMessages = append(wireMessages, anthropicMessage{
				Role: "user",
				Content: []anthropicContentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				wireMessages = append(wireMessages, anthropicMessage{Role: "assistant", Content: msg.Content})
				continue
			}
			blocks := make([]anthropicContentBlock, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropicContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			wireMessages = append(wireMessages, anthropicMessage{Role: "assistant", Content: blocks})

		default:
			wireMessages = append(wireMessages, anthropicMessage{Role: "user", Content: msg.Content})
		}
	}

	maxTokens := resolvedMaxTokens(p.config, opts)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	request := anthropicRequest{
		Model:       p.config.Model,
		Messages:    wireMessages,
		MaxTokens:   maxTokens,
		Temperature: resolvedTemperature(p.config, opts),
		Stream:      stream,
		System:      system,
	}

	if len(tools) > 0 {
		request.Tools = toAnthropicTools(tools)
	}

	return request
}

func (p *AnthropicProvider) newRequest(ctx context.Context, request anthropicRequest) (*http.Request, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Host+"/v1/messages", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	return req, nil
}

func (p *AnthropicProvider) makeRequest(ctx context.Context, request anthropicRequest) (*anthropicResponse, error) {
	req, err := p.newRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if resp == nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "anthropic request failed")
	}
	defer resp.Body.Close()

	if err := checkHTTPResponse("anthropic", resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &response, nil
}

func (p *AnthropicProvider) makeStreamingRequest(ctx context.Context, request anthropicRequest, outputCh chan<- StreamChunk) error {
	startTime := time.Now()

	req, err := p.newRequest(ctx, request)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.streamClient.Do(req)
	if resp == nil {
		return faults.Wrap(faults.KindUpstreamError, err, "anthropic stream failed")
	}
	defer resp.Body.Close()

	if err := checkHTTPResponse("anthropic", resp); err != nil {
		return err
	}

	reader := bufio.NewReader(resp.Body)

	// Tool-call arguments arrive as input_json_delta fragments keyed by
	// block index; the block start carries id and name.
	type pendingTool struct {
		id   string
		name string
		args string
	}
	pending := make(map[int]*pendingTool)
	var inputTokens, outputTokens int

	flushTool := func(index int) error {
		pt, ok := pending[index]
		if !ok {
			return nil
		}
		delete(pending, index)
		call, err := normalizeToolCall(pt.id, pt.name, pt.args)
		if err != nil {
			return nil
		}
		select {
		case outputCh <- StreamChunk{Type: ChunkToolCall, ToolCall: &call}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return faults.Wrap(faults.KindUpstreamError, err, "anthropic stream read failed")
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]

		var event anthropicStreamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				inputTokens = event.Message.Usage.InputTokens
			}

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				pending[event.Index] = &pendingTool{
					id:   event.ContentBlock.ID,
					name: event.ContentBlock.Name,
				}
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				select {
				case outputCh <- StreamChunk{Type: ChunkText, Text: event.Delta.Text}:
				case <-ctx.Done():
					return ctx.Err()
				}
			case "input_json_delta":
				if pt, ok := pending[event.Index]; ok {
					pt.args += event.Delta.PartialJSON
				}
			}

		case "content_block_stop":
			if err := flushTool(event.Index); err != nil {
				return err
			}

		case "message_delta":
			if event.Usage != nil {
				outputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			outputCh <- StreamChunk{
				Type:         ChunkDone,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
				Duration:     time.Since(startTime),
			}
			return nil

		case "error":
			if event.Error != nil {
				return faults.New(faults.KindUpstreamError, "anthropic api error: %s", event.Error.Message)
			}
		}
	}

	// Stream ended without message_stop; report what we have.
	outputCh <- StreamChunk{
		Type:         ChunkDone,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Duration:     time.Since(startTime),
	}

	return nil
}

func normalizeAnthropicStop(reason string) string {
	switch reason {
	case "max_tokens":
		return FinishLength
	case "tool_use":
		return FinishToolCalls
	default:
		return FinishStop
	}
}
