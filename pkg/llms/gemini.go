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

// GeminiProvider speaks the Google generateContent wire format.
type GeminiProvider struct {
	config       *config.BackendConfig
	httpClient   *httpclient.Client
	streamClient *httpclient.Client
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      *float64       `json:"temperature,omitempty"`
	MaxOutputTokens  int            `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	Error         *geminiError         `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// NewGeminiProvider builds a provider for the Google Gemini API.
func NewGeminiProvider(cfg *config.BackendConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, faults.New(faults.KindProviderNotConfigured, "google api key is missing")
	}
	return &GeminiProvider{
		config:       cfg,
		httpClient:   newBackendHTTPClient(cfg),
		streamClient: newStreamingHTTPClient(),
	}, nil
}

func (p *GeminiProvider) ModelName() string             { return p.config.Model }
func (p *GeminiProvider) ProviderName() config.Provider { return config.ProviderGoogle }
func (p *GeminiProvider) Close() error                  { return nil }

// endpoint builds the model URL. The API key travels as a query
// parameter, not a header.
func (p *GeminiProvider) endpoint(method, query string) string {
	url := fmt.Sprintf("%s/v1beta/models/%s:%s?key=%s", p.config.Host, p.config.Model, method, p.config.APIKey)
	if query != "" {
		url += "&" + query
	}
	return url
}

func (p *GeminiProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (*Result, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("hearth.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrModel, p.config.Model),
			attribute.String(observability.AttrBackend, string(config.ProviderGoogle)),
			attribute.Bool("streaming", false),
		),
	)
	defer span.End()

	request := p.buildRequest(messages, tools, opts)

	response, err := p.makeRequest(ctx, request)
	duration := time.Since(startTime)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.GetGlobalMetrics().RecordLLMCall(ctx, "google", p.config.Model, duration, 0, 0, err)
		return nil, err
	}

	if response.Error != nil {
		apiErr := faults.New(faults.KindUpstreamError, "gemini api error: %s", response.Error.Message)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, response.Error.Message)
		observability.GetGlobalMetrics().RecordLLMCall(ctx, "google", p.config.Model, duration, 0, 0, apiErr)
		return nil, apiErr
	}

	if len(response.Candidates) == 0 {
		noCandErr := faults.New(faults.KindUpstreamError, "gemini returned no candidates")
		span.RecordError(noCandErr)
		span.SetStatus(codes.Error, "no candidates")
		observability.GetGlobalMetrics().RecordLLMCall(ctx, "google", p.config.Model, duration, 0, 0, noCandErr)
		return nil, noCandErr
	}

	candidate := response.Candidates[0]

	result := &Result{
		FinishReason: normalizeGeminiFinish(candidate.FinishReason),
		Model:        p.config.Model,
		Latency:      duration,
	}
	if response.UsageMetadata != nil {
		result.InputTokens = response.UsageMetadata.PromptTokenCount
		result.OutputTokens = response.UsageMetadata.CandidatesTokenCount
	}

	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			result.Text += part.Text
		}
		if part.FunctionCall != nil {
			call, err := normalizeToolCall(geminiCallID(), part.FunctionCall.Name, part.FunctionCall.Args)
			if err != nil {
				span.RecordError(err)
				return nil, faults.Wrap(faults.KindParseFailure, err, "malformed tool call from gemini")
			}
			result.ToolCalls = append(result.ToolCalls, call)
		}
	}
	if len(result.ToolCalls) > 0 {
		result.FinishReason = FinishToolCalls
	}

	span.SetAttributes(
		attribute.Int(observability.AttrTokensInput, result.InputTokens),
		attribute.Int(observability.AttrTokensOutput, result.OutputTokens),
	)
	span.SetStatus(codes.Ok, "")
	observability.GetGlobalMetrics().RecordLLMCall(ctx, "google", p.config.Model, duration, result.InputTokens, result.OutputTokens, nil)

	return result, nil
}

func (p *GeminiProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (<-chan StreamChunk, error) {
	request := p.buildRequest(messages, tools, opts)

	outputCh := make(chan StreamChunk, streamChunkBuffer)

	go func() {
		defer close(outputCh)

		if err := p.makeStreamingRequest(ctx, request, outputCh); err != nil {
			outputCh <- StreamChunk{Type: ChunkError, Err: err}
		}
	}()

	return outputCh, nil
}

// buildRequest converts canonical messages to the Gemini shape. The
// assistant role becomes "model", system messages move to
// systemInstruction, and tool results become functionResponse parts.
func (p *GeminiProvider) buildRequest(messages []Message, tools []ToolDefinition, opts Options) geminiRequest {
	var systemParts []geminiPart
	contents := make([]geminiContent, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, geminiPart{Text: msg.Content})

		case RoleAssistant:
			var parts []geminiPart
			if msg.Content != "" {
				parts = append(parts, geminiPart{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				parts = append(parts, geminiPart{
					FunctionCall: &geminiFunctionCall{Name: tc.Name, Args: args},
				})
			}
			if len(parts) == 0 {
				parts = append(parts, geminiPart{Text: ""})
			}
			contents = append(contents, geminiContent{Role: "model", Parts: parts})

		case RoleTool:
			contents = append(contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{
					FunctionResponse: &geminiFunctionResponse{
						Name:     msg.Name,
						Response: map[string]any{"result": msg.Content},
					},
				}},
			})

		default:
			contents = append(contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		}
	}

	genConfig := &geminiGenerationConfig{}
	temp := resolvedTemperature(p.config, opts)
	genConfig.Temperature = &temp
	if maxTokens := resolvedMaxTokens(p.config, opts); maxTokens > 0 {
		genConfig.MaxOutputTokens = maxTokens
	}
	if opts.JSONSchema != nil {
		genConfig.ResponseMimeType = "application/json"
		genConfig.ResponseSchema = sanitizeGeminiSchema(opts.JSONSchema)
	}

	request := geminiRequest{
		Contents:         contents,
		GenerationConfig: genConfig,
	}
	if len(systemParts) > 0 {
		request.SystemInstruction = &geminiContent{Parts: systemParts}
	}
	if len(tools) > 0 {
		request.Tools = toGeminiTools(tools)
	}

	return request
}

func (p *GeminiProvider) makeRequest(ctx context.Context, request geminiRequest) (*geminiResponse, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("generateContent", ""), bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if resp == nil {
		return nil, faults.Wrap(faults.KindUpstreamError, err, "gemini request failed")
	}
	defer resp.Body.Close()

	if err := checkHTTPResponse("google", resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response geminiResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &response, nil
}

func (p *GeminiProvider) makeStreamingRequest(ctx context.Context, request geminiRequest, outputCh chan<- StreamChunk) error {
	startTime := time.Now()

	requestBody, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("streamGenerateContent", "alt=sse"), bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.streamClient.Do(req)
	if resp == nil {
		return faults.Wrap(faults.KindUpstreamError, err, "gemini stream failed")
	}
	defer resp.Body.Close()

	if err := checkHTTPResponse("google", resp); err != nil {
		return err
	}

	reader := bufio.NewReader(resp.Body)
	var inputTokens, outputTokens int

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return faults.Wrap(faults.KindUpstreamError, err, "gemini stream read failed")
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]

		var chunk geminiResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}

		if chunk.Error != nil {
			return faults.New(faults.KindUpstreamError, "gemini api error: %s", chunk.Error.Message)
		}

		if chunk.UsageMetadata != nil {
			inputTokens = chunk.UsageMetadata.PromptTokenCount
			outputTokens = chunk.UsageMetadata.CandidatesTokenCount
		}

		for _, candidate := range chunk.Candidates {
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					select {
					case outputCh <- StreamChunk{Type: ChunkText, Text: part.Text}:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				if part.FunctionCall != nil {
					call, err := normalizeToolCall(geminiCallID(), part.FunctionCall.Name, part.FunctionCall.Args)
					if err != nil {
						continue
					}
					select {
					case outputCh <- StreamChunk{Type: ChunkToolCall, ToolCall: &call}:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		}
	}

	outputCh <- StreamChunk{
		Type:         ChunkDone,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Duration:     time.Since(startTime),
	}

	return nil
}

// geminiCallID synthesizes an id for function calls, which the Gemini
// API does not assign.
func geminiCallID() string {
	return "call_" + uuid.NewString()
}

func normalizeGeminiFinish(reason string) string {
	switch reason {
	case "MAX_TOKENS":
		return FinishLength
	default:
		return FinishStop
	}
}
