package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bridgebot/internal/logging"
)

// OpenAIClient streams chat completions from OpenAI or any OpenAI-compatible API
// (OpenRouter uses the same wire format with extra headers).
type OpenAIClient struct {
	provider     Provider
	apiKey       string
	baseURL      string
	maxTokens    int
	temperature  float64
	systemPrompt string
	siteName     string
	httpClient   *http.Client
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) ClientConfig {
	return ClientConfig{
		APIKey:      apiKey,
		BaseURL:     "https://api.openai.com/v1",
		Timeout:     120 * time.Second,
		MaxTokens:   1024,
		Temperature: 0.7,
	}
}

// DefaultOpenRouterConfig returns sensible defaults.
func DefaultOpenRouterConfig(apiKey string) ClientConfig {
	cfg := DefaultOpenAIConfig(apiKey)
	cfg.BaseURL = "https://openrouter.ai/api/v1"
	return cfg
}

// NewOpenAIClient creates a new OpenAI client with default config.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return NewOpenAIClientWithConfig(ProviderOpenAI, DefaultOpenAIConfig(apiKey))
}

// NewOpenAIClientWithConfig creates a client for an OpenAI-compatible provider.
func NewOpenAIClientWithConfig(provider Provider, config ClientConfig) *OpenAIClient {
	return &OpenAIClient{
		provider:     provider,
		apiKey:       config.APIKey,
		baseURL:      strings.TrimRight(config.BaseURL, "/"),
		maxTokens:    config.MaxTokens,
		temperature:  config.Temperature,
		systemPrompt: config.SystemPrompt,
		siteName:     "bridgebot",
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Stream sends req and streams content deltas back as TextFragments.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (<-chan Event, <-chan error) {
	events := make(chan Event, 100)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		timer := logging.StartTimer(logging.CategoryAPI, fmt.Sprintf("[%s] stream %s", c.provider, req.Bot))
		if err := c.stream(ctx, req, events); err != nil {
			logging.APIError("[%s] stream %s failed after %v: %v", c.provider, req.Bot, timer.Stop(), err)
			errs <- &CallError{Bot: req.Bot, Err: err}
			return
		}
		timer.Stop()
	}()

	return events, errs
}

func (c *OpenAIClient) stream(ctx context.Context, req Request, events chan<- Event) error {
	if c.apiKey == "" {
		return fmt.Errorf("API key not configured")
	}

	messages := make([]OpenAIMessage, 0, len(req.History)+2)
	if system := firstNonEmpty(req.SystemPrompt, c.systemPrompt); system != "" {
		messages = append(messages, OpenAIMessage{Role: "system", Content: system})
	}
	messages = append(messages, buildHistory(req, func(role, content string) OpenAIMessage {
		return OpenAIMessage{Role: role, Content: content}
	})...)

	reqBody := OpenAIRequest{
		Model:         req.Bot,
		Messages:      messages,
		MaxTokens:     c.maxTokens,
		Temperature:   c.temperature,
		Stream:        true,
		StreamOptions: &OpenAIStreamOptions{IncludeUsage: true},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.provider == ProviderOpenRouter {
		httpReq.Header.Set("X-Title", c.siteName)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	finish := ""
	err = readSSE(resp.Body, func(data string) error {
		if data == "[DONE]" {
			return errStreamDone
		}
		var chunk OpenAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("malformed stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return fmt.Errorf("API error: %s", chunk.Error.Message)
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finish = *choice.FinishReason
			}
			if choice.Delta == nil || choice.Delta.Content == "" {
				continue
			}
			if err := emit(ctx, events, TextFragment{Text: choice.Delta.Content}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("stream error: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return emit(ctx, events, Finish{Reason: finish})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
