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

	"github.com/google/uuid"
	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/faults"
	"github.com/hearthd/hearth/pkg/httpclient"
	"github.com/hearthd/hearth/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OllamaProvider speaks the Ollama /api/chat wire format. Responses
// stream as NDJSON rather than SSE.
type OllamaProvider struct {
	config       *config.BackendConfig
	httpClient   *httpclient.Client
	streamClient *httpclient.Client
}

type ollamaRequest struct {
	Model     string          `json:"model"`
	Messages  []ollamaMessage `json:"messages"`
	Stream    bool            `json:"stream"`
	Format    any             `json:"format,omitempty"`
	Options   *ollamaOptions  `json:"options,omitempty"`
	Tools     []openAITool    `json:"tools,omitempty"`
	KeepAlive string          `json:"keep_alive,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaToolCallFunction `json:"function"`
}

type ollamaToolCallFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// NewOllamaProvider builds a provider for a local Ollama server.
func NewOllamaProvider(cfg *config.BackendConfig) (*OllamaProvider, error) {
	if cfg.Host == "" {
		return nil, faults.New(faults.KindProviderNotConfigured, "ollama host is missing")
	}
	return &OllamaProvider{
		config:       cfg,
		httpClient:   newBackendHTTPClient(cfg),
		streamClient: newStreamingHTTPClient(),
	}, nil
}

func (p *OllamaProvider) ModelName() string             { return p.config.Model }
func (p *OllamaProvider) ProviderName() config.Provider { return config.ProviderOllama }
func (p *OllamaProvider) Close() error                  { return nil }

func (p *OllamaProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (*Result, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("hearth.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrModel, p.config.Model),
			attribute.String(observability.AttrBackend, string(config.ProviderOllama)),
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
		observability.GetGlobalMetrics().RecordLLMCall(ctx, "ollama", p.config.Model, duration, 0, 0, err)
		return nil, err
	}

	if response.Error != "" {
		apiErr := faults.New(faults.KindUpstreamError, "ollama api error: %s", response.Error)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, response.Error)
		observability.GetGlobalMetrics().RecordLLMCall(ctx, "ollama", p.config.Model, duration, 0, 0, apiErr)
		return nil, apiErr
	}

	result := &Result{
		Text:         response.Message.Content,
		InputTokens:  response.PromptEvalCount,
		OutputTokens: response.EvalCount,
		FinishReason: normalizeOllamaDone(response.DoneReason, len(response.Message.ToolCalls) > 0),
		Model:        p.config.Model,
		Latency:      duration,
	}

	for _, tc := range response.Message.ToolCalls {
		call, err := normalizeToolCall(ollamaCallID(), tc.Function.Name, tc.Function.Arguments)
		if err != nil {
			span.RecordError(err)
			return nil, faults.Wrap(faults.KindParseFailure, err, "malformed tool call from ollama")
		}
		result.ToolCalls = append(result.ToolCalls, call)
	}

	span.SetAttributes(
		attribute.Int(observability.AttrTokensInput, result.InputTokens),
		attribute.Int(observability.AttrTokensOutput, result.OutputTokens),
	)
	span.SetStatus(codes.Ok, "")
	observability.GetGlobalMetrics().RecordLLMCall(ctx, "ollama", p.config.Model, duration, result.InputTokens, result.OutputTokens, nil)

	return result, nil
}

func (p *OllamaProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (<-chan StreamChunk, error) {
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

func (p *OllamaProvider) buildRequest(messages []Message, stream bool, tools []ToolDefinition, opts Options) ollamaRequest {
	wireMessages := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		wireMsg := ollamaMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.Role == RoleTool {
			wireMsg.ToolName = msg.Name
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
				args = map[string]any{}
			}
			wireMsg.ToolCalls = append(wireMsg.ToolCalls, ollamaToolCall{
				Function: ollamaToolCallFunction{Name: tc.Name, Arguments: args},
			})
		}
		wireMessages = append(wireMessages, wireMsg)
	}

	request := ollamaRequest{
		Model:     p.config.Model,
		Messages:  wireMessages,
		Stream:    stream,
		KeepAlive: keepAliveValue(p.config.KeepAlive()),
		Options: &ollamaOptions{
			Temperature: resolvedTemperature(p.config, opts),
			NumPredict:  resolvedMaxTokens(p.config, opts),
		},
	}

	if opts.JSONSchema != nil {
		request.Format = opts.JSONSchema
	}

	if len(tools) > 0 {
		request.Tools = toOpenAITools(tools)
	}

	return request
}

func (p *OllamaProvider) newRequest(ctx context.Context, request ollamaRequest) (*http.Request, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Host+"/api/chat", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")

	return req, nil
}

func (p *OllamaProvider) makeRequest(ctx context.Context, request ollamaRequest) (*ollamaResponse, error) {
	req, err := p.newRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if resp == nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "ollama request failed")
	}
	defer resp.Body.Close()

	if err := checkHTTPResponse("ollama", resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response ollamaResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &response, nil
}

func (p *OllamaProvider) makeStreamingRequest(ctx context.Context, request ollamaRequest, outputCh chan<- StreamChunk) error {
	startTime := time.Now()

	req, err := p.newRequest(ctx, request)
	if err != nil {
		return err
	}

	resp, err := p.streamClient.Do(req)
	if resp == nil {
		return faults.Wrap(faults.KindUpstreamError, err, "ollama stream failed")
	}
	defer resp.Body.Close()

	if err := checkHTTPResponse("ollama", resp); err != nil {
		return err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var inputTokens, outputTokens int

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}

		if chunk.Error != "" {
			return faults.New(faults.KindUpstreamError, "ollama api error: %s", chunk.Error)
		}

		if chunk.Message.Content != "" {
			select {
			case outputCh <- StreamChunk{Type: ChunkText, Text: chunk.Message.Content}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		for _, tc := range chunk.Message.ToolCalls {
			call, err := normalizeToolCall(ollamaCallID(), tc.Function.Name, tc.Function.Arguments)
			if err != nil {
				continue
			}
			select {
			case outputCh <- StreamChunk{Type: ChunkToolCall, ToolCall: &call}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if chunk.Done {
			inputTokens = chunk.PromptEvalCount
			outputTokens = chunk.EvalCount
			break
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return faults.Wrap(faults.KindUpstreamError, err, "ollama stream read failed")
	}

	outputCh <- StreamChunk{
		Type:         ChunkDone,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Duration:     time.Since(startTime),
	}

	return nil
}

// Embed implements Embedder over the /api/embed endpoint.
func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	requestBody, err := json.Marshal(map[string]any{
		"model": p.config.Model,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Host+"/api/embed", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if resp == nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "ollama embed failed")
	}
	defer resp.Body.Close()

	if err := checkHTTPResponse("ollama", resp); err != nil {
		return nil, err
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
		Error      string      `json:"error,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embed response: %w", err)
	}
	if response.Error != "" {
		return nil, faults.New(faults.KindUpstreamError, "ollama embed error: %s", response.Error)
	}

	return response.Embeddings, nil
}

func ollamaCallID() string {
	return "call_" + uuid.NewString()
}

// keepAliveValue renders the keep_alive hint: -1 keeps the model
// resident forever, 0 releases it immediately, positive values are
// seconds.
func keepAliveValue(seconds int) string {
	switch {
	case seconds < 0:
		return "-1"
	case seconds == 0:
		return "0"
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

func normalizeOllamaDone(reason string, hasToolCalls bool) string {
	if hasToolCalls {
		return FinishToolCalls
	}
	switch reason {
	case "length":
		return FinishLength
	default:
		return FinishStop
	}
}
