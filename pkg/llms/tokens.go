package llms

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator fills in token counts when a backend omits usage
// data. Local servers frequently report nothing for streamed calls.
type TokenEstimator struct {
	encoding *tiktoken.Tiktoken
	model    string
}

var (
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
	encodingCacheMu sync.RWMutex
)

// NewTokenEstimator creates an estimator for a model. Non-OpenAI
// models approximate with cl100k_base, which is close enough for
// cost accounting.
func NewTokenEstimator(model string) (*TokenEstimator, error) {
	encodingCacheMu.RLock()
	cached, exists := encodingCache[model]
	encodingCacheMu.RUnlock()

	if exists {
		return &TokenEstimator{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	encodingCacheMu.Lock()
	encodingCache[model] = encoding
	encodingCacheMu.Unlock()

	return &TokenEstimator{encoding: encoding, model: model}, nil
}

// Text returns the token count for a plain string.
func (e *TokenEstimator) Text(text string) int {
	if e == nil || e.encoding == nil {
		return roughTokenEstimate(text)
	}
	return len(e.encoding.Encode(text, nil, nil))
}

// Messages counts a conversation including per-message framing
// overhead, following OpenAI's published counting scheme.
func (e *TokenEstimator) Messages(messages []Message) int {
	if e == nil || e.encoding == nil {
		total := 0
		for _, msg := range messages {
			total += roughTokenEstimate(msg.Content) + 3
		}
		return total + 3
	}

	const tokensPerMessage = 3

	total := 0
	for _, msg := range messages {
		total += tokensPerMessage
		total += len(e.encoding.Encode(string(msg.Role), nil, nil))
		total += len(e.encoding.Encode(msg.Content, nil, nil))
		for _, tc := range msg.ToolCalls {
			total += len(e.encoding.Encode(tc.Name, nil, nil))
			total += len(e.encoding.Encode(tc.Arguments, nil, nil))
		}
	}

	// Every reply is primed with <|start|>assistant<|message|>.
	return total + 3
}

// Model returns the model this estimator is configured for.
func (e *TokenEstimator) Model() string { return e.model }

// roughTokenEstimate is the 4-chars-per-token approximation used when
// no encoding is available.
func roughTokenEstimate(text string) int {
	return len(text) / 4
}
