package perception

import (
	"time"

	"bridgebot/internal/types"
)

// Provider represents a remote bot provider.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderOpenRouter Provider = "openrouter"
	ProviderAnthropic  Provider = "anthropic"
	ProviderGemini     Provider = "gemini"
)

// Request is one call to a named participant.
type Request struct {
	Bot          string          // participant id, sent upstream as the model name
	Prompt       string          // the message this participant must answer
	History      []types.Message // snapshot of the participant's prior exchanges
	SystemPrompt string          // optional
}

// =============================================================================
// TRANSPORT EVENTS
// =============================================================================

// Event is a closed set of values a transport emits while a reply streams in.
// Wire-level events are mapped onto these once, inside each client.
type Event interface {
	isEvent()
}

// TextFragment carries the next piece of reply text.
type TextFragment struct {
	Text string
}

// Finish reports that the upstream reply ended normally.
type Finish struct {
	Reason string
}

func (TextFragment) isEvent() {}
func (Finish) isEvent()       {}

// ClientConfig holds configuration shared by every provider client.
type ClientConfig struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	MaxTokens    int
	Temperature  float64
	SystemPrompt string // used when a Request carries none
}

// =============================================================================
// OPENAI-COMPATIBLE WIRE FORMAT
// =============================================================================

// OpenAIStreamOptions configures streaming behavior.
type OpenAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// OpenAIMessage represents a message.
type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIRequest represents the chat completions request.
type OpenAIRequest struct {
	Model         string               `json:"model"`
	Messages      []OpenAIMessage      `json:"messages"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Temperature   float64              `json:"temperature,omitempty"`
	Stream        bool                 `json:"stream"`
	StreamOptions *OpenAIStreamOptions `json:"stream_options,omitempty"`
}

// OpenAIStreamChunk is one SSE data payload.
type OpenAIStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta *struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta,omitempty"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// =============================================================================
// ANTHROPIC WIRE FORMAT
// =============================================================================

// AnthropicMessage represents a message in the Messages API.
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicRequest represents the Anthropic API request.
type AnthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []AnthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
}

// AnthropicStreamEvent is one SSE data payload.
type AnthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text,omitempty"`
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
