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

// AnthropicClient streams replies from the Anthropic Messages API.
type AnthropicClient struct {
	apiKey       string
	baseURL      string
	maxTokens    int
	temperature  float64
	systemPrompt string
	httpClient   *http.Client
}

// DefaultAnthropicConfig returns sensible defaults.
func DefaultAnthropicConfig(apiKey string) ClientConfig {
	return ClientConfig{
		APIKey:      apiKey,
		BaseURL:     "https://api.anthropic.com/v1",
		Timeout:     120 * time.Second,
		MaxTokens:   1024,
		Temperature: 0.7,
	}
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return NewAnthropicClientWithConfig(DefaultAnthropicConfig(apiKey))
}

// NewAnthropicClientWithConfig creates a new Anthropic client with custom config.
func NewAnthropicClientWithConfig(config ClientConfig) *AnthropicClient {
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024 // required by the API
	}
	return &AnthropicClient{
		apiKey:       config.APIKey,
		baseURL:      strings.TrimRight(config.BaseURL, "/"),
		maxTokens:    maxTokens,
		temperature:  config.Temperature,
		systemPrompt: config.SystemPrompt,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Stream sends req and streams text deltas back as TextFragments.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) (<-chan Event, <-chan error) {
	events := make(chan Event, 100)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		timer := logging.StartTimer(logging.CategoryAPI, "[anthropic] stream "+req.Bot)
		if err := c.stream(ctx, req, events); err != nil {
			logging.APIError("[anthropic] stream %s failed after %v: %v", req.Bot, timer.Stop(), err)
			errs <- &CallError{Bot: req.Bot, Err: err}
			return
		}
		timer.Stop()
	}()

	return events, errs
}

func (c *AnthropicClient) stream(ctx context.Context, req Request, events chan<- Event) error {
	if c.apiKey == "" {
		return fmt.Errorf("API key not configured")
	}

	reqBody := AnthropicRequest{
		Model:     req.Bot,
		MaxTokens: c.maxTokens,
		System:    firstNonEmpty(req.SystemPrompt, c.systemPrompt),
		Messages: buildHistory(req, func(role, content string) AnthropicMessage {
			return AnthropicMessage{Role: role, Content: content}
		}),
		Temperature: c.temperature,
		Stream:      true,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("Accept", "text/event-stream")

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
		var evt AnthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			return fmt.Errorf("malformed stream event: %w", err)
		}
		switch evt.Type {
		case "error":
			if evt.Error != nil {
				return fmt.Errorf("API error: %s", evt.Error.Message)
			}
			return fmt.Errorf("API error")
		case "content_block_delta":
			if evt.Delta != nil && evt.Delta.Text != "" {
				return emit(ctx, events, TextFragment{Text: evt.Delta.Text})
			}
		case "message_delta":
			if evt.Delta != nil && evt.Delta.StopReason != "" {
				finish = evt.Delta.StopReason
			}
		case "message_stop":
			return errStreamDone
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
