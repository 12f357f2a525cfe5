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

// OpenAIProvider speaks the OpenAI chat-completions wire format.
// llama.cpp's server exposes the same surface, so LlamaCppProvider is a
// thin layer over this one.
type OpenAIProvider struct {
	config       *config.BackendConfig
	httpClient   *httpclient.Client
	streamClient *httpclient.Client
	name         config.Provider
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	MaxTokens      *int                  `json:"max_tokens,omitempty"`
	Temperature    float64               `json:"temperature"`
	Stream         bool                  `json:"stream"`
	StreamOptions  *openAIStreamOptions  `json:"stream_options,omitempty"`
	Tools          []openAITool          `json:"tools,omitempty"`
	ToolChoice     string                `json:"tool_choice,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openAIJSONSchema `json:"json_schema,omitempty"`
}

type openAIJSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict,omitempty"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message      openAIChoiceMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type openAIChoiceMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIStreamResponse struct {
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *openAIUsage         `json:"usage,omitempty"`
	Error   *openAIError         `json:"error,omitempty"`
}

type openAIStreamChoice struct {
	Delta        openAIDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type openAIDelta struct {
	Content   string                `json:"content,omitempty"`
	ToolCalls []openAIToolCallDelta `json:"tool_calls,omitempty"`
}

type openAIToolCallDelta struct {
	Index    int                `json:"index"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openAIFunctionCall `json:"function"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// NewOpenAIProvider builds a provider for the OpenAI API.
func NewOpenAIProvider(cfg *config.BackendConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, faults.New(faults.KindProviderNotConfigured, "openai api key is missing")
	}
	return newOpenAICompatProvider(cfg, config.ProviderOpenAI), nil
}

func newOpenAICompatProvider(cfg *config.BackendConfig, name config.Provider) *OpenAIProvider {
	return &OpenAIProvider{
		config:       cfg,
		httpClient:   newBackendHTTPClient(cfg),
		streamClient: newStreamingHTTPClient(),
		name:         name,
	}
}

func (p *OpenAIProvider) ModelName() string               { return p.config.Model }
func (p *OpenAIProvider) ProviderName() config.Provider   { return p.name }
func (p *OpenAIProvider) Close() error                    { return nil }
func (p *OpenAIProvider) endpoint(path string) string     { return p.config.Host + path }
func (p *OpenAIProvider) setAuth(req *http.Request) *http.Request {
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}
	return req
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (*Result, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("hearth.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrModel, p.config.Model),
			attribute.String(observability.AttrBackend, string(p.name)),
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
		observability.GetGlobalMetrics().RecordLLMCall(ctx, string(p.name), p.config.Model, duration, 0, 0, err)
		return nil, err
	}

	if response.Error != nil {
		apiErr := faults.New(faults.KindUpstreamError, "%s api error: %s", p.name, response.Error.Message)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, response.Error.Message)
		observability.GetGlobalMetrics().RecordLLMCall(ctx, string(p.name), p.config.Model, duration, 0, 0, apiErr)
		return nil, apiErr
	}

	if len(response.Choices) == 0 {
		noChoiceErr := faults.New(faults.KindUpstreamError, "%s returned no choices", p.name)
		span.RecordError(noChoiceErr)
		span.SetStatus(codes.Error, "no choices")
		observability.GetGlobalMetrics().RecordLLMCall(ctx, string(p.name), p.config.Model, duration, 0, 0, noChoiceErr)
		return nil, noChoiceErr
	}

	choice := response.Choices[0]

	result := &Result{
		Text:         choice.Message.Content,
		InputTokens:  response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
		FinishReason: normalizeOpenAIFinish(choice.FinishReason),
		Model:        p.config.Model,
		Latency:      duration,
	}

	for _, tc := range choice.Message.ToolCalls {
		call, err := normalizeToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments)
		if err != nil {
			span.RecordError(err)
			return nil, faults.Wrap(faults.KindParseFailure, err, "malformed tool call from %s", p.name)
		}
		result.ToolCalls = append(result.ToolCalls, call)
	}

	span.SetAttributes(
		attribute.Int(observability.AttrTokensInput, result.InputTokens),
		attribute.Int(observability.AttrTokensOutput, result.OutputTokens),
	)
	span.SetStatus(codes.Ok, "")
	observability.GetGlobalMetrics().RecordLLMCall(ctx, string(p.name), p.config.Model, duration, result.InputTokens, result.OutputTokens, nil)

	return result, nil
}

func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (<-chan StreamChunk, error) {
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

func (p *OpenAIProvider) buildRequest(messages []Message, stream bool, tools []ToolDefinition, opts Options) openAIRequest {
	wireMessages := make([]openAIMessage, 0, len(messages))
	for _, msg := range messages {
		wireMsg := openAIMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			wireMsg.ToolCalls = append(wireMsg.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIFunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		wireMessages = append(wireMessages, wireMsg)
	}

	request := openAIRequest{
		Model:       p.config.Model,
		Messages:    wireMessages,
		Temperature: resolvedTemperature(p.config, opts),
		Stream:      stream,
	}

	if stream {
		request.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}

	if maxTokens := resolvedMaxTokens(p.config, opts); maxTokens > 0 {
		request.MaxTokens = &maxTokens
	}

	if opts.JSONSchema != nil {
		request.ResponseFormat = &openAIResponseFormat{
			Type: "json_schema",
			JSONSchema: &openAIJSONSchema{
				Name:   "response",
				Schema: opts.JSONSchema,
				Strict: true,
			},
		}
	}

	if len(tools) > 0 {
		request.Tools = toOpenAITools(tools)
		request.ToolChoice = "auto"
	}

	return request
}

func (p *OpenAIProvider) makeRequest(ctx context.Context, request openAIRequest) (*openAIResponse, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/chat/completions"), bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	p.setAuth(req)

	resp, err := p.httpClient.Do(req)
	if resp == nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "%s request failed", p.name)
	}
	defer resp.Body.Close()

	if err := checkHTTPResponse(string(p.name), resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &response, nil
}

func (p *OpenAIProvider) makeStreamingRequest(ctx context.Context, request openAIRequest, outputCh chan<- StreamChunk) error {
	startTime := time.Now()

	requestBody, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/chat/completions"), bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	p.setAuth(req)

	resp, err := p.streamClient.Do(req)
	if resp == nil {
		return faults.Wrap(faults.KindUpstreamError, err, "%s stream failed", p.name)
	}
	defer resp.Body.Close()

	if err := checkHTTPResponse(string(p.name), resp); err != nil {
		return err
	}

	reader := bufio.NewReader(resp.Body)

	// Tool-call deltas arrive fragmented; the index field stitches the
	// argument pieces back onto the right call.
	toolCalls := make(map[int]*openAIToolCall)
	maxIndex := -1
	var usage openAIUsage

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return faults.Wrap(faults.KindUpstreamError, err, "%s stream read failed", p.name)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]

		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var streamResp openAIStreamResponse
		if err := json.Unmarshal(line, &streamResp); err != nil {
			continue
		}

		if streamResp.Error != nil {
			return faults.New(faults.KindUpstreamError, "%s api error: %s", p.name, streamResp.Error.Message)
		}

		if streamResp.Usage != nil {
			usage = *streamResp.Usage
		}

		if len(streamResp.Choices) == 0 {
			continue
		}

		choice := streamResp.Choices[0]

		if choice.Delta.Content != "" {
			select {
			case outputCh <- StreamChunk{Type: ChunkText, Text: choice.Delta.Content}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		for _, delta := range choice.Delta.ToolCalls {
			if delta.ID != "" {
				toolCalls[delta.Index] = &openAIToolCall{
					ID:       delta.ID,
					Type:     delta.Type,
					Function: delta.Function,
				}
			} else if tc, ok := toolCalls[delta.Index]; ok {
				tc.Function.Arguments += delta.Function.Arguments
			}
			if delta.Index > maxIndex {
				maxIndex = delta.Index
			}
		}
	}

	for i := 0; i <= maxIndex; i++ {
		tc, ok := toolCalls[i]
		if !ok {
			continue
		}
		call, err := normalizeToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments)
		if err != nil {
			continue
		}
		select {
		case outputCh <- StreamChunk{Type: ChunkToolCall, ToolCall: &call}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	outputCh <- StreamChunk{
		Type:         ChunkDone,
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		Duration:     time.Since(startTime),
	}

	return nil
}

// Embed implements Embedder over the /embeddings endpoint.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	model := p.config.Model

	requestBody, err := json.Marshal(map[string]any{
		"model": model,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/embeddings"), bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	p.setAuth(req)

	resp, err := p.httpClient.Do(req)
	if resp == nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "%s embed failed", p.name)
	}
	defer resp.Body.Close()

	if err := checkHTTPResponse(string(p.name), resp); err != nil {
		return nil, err
	}

	var response struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
		Error *openAIError `json:"error,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embed response: %w", err)
	}
	if response.Error != nil {
		return nil, faults.New(faults.KindUpstreamError, "%s embed error: %s", p.name, response.Error.Message)
	}

	out := make([][]float32, len(response.Data))
	for i, d := range response.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func normalizeOpenAIFinish(reason string) string {
	switch reason {
	case "length":
		return FinishLength
	case "tool_calls", "function_call":
		return FinishToolCalls
	default:
		return FinishStop
	}
}

// streamChunkBuffer is the per-stream channel capacity. A lagging
// consumer blocks the producer rather than dropping tokens.
const streamChunkBuffer = 64
