package perception

import (
	"context"
	"fmt"
	"time"

	"bridgebot/internal/logging"
	"bridgebot/internal/types"

	"google.golang.org/genai"
)

// GeminiClient streams replies through the Google GenAI SDK.
type GeminiClient struct {
	client       *genai.Client
	maxTokens    int32
	temperature  float32
	systemPrompt string
	timeout      time.Duration
}

// NewGeminiClient creates a Gemini client. The SDK client is built eagerly so a bad
// credential setup fails at startup rather than on the first turn.
func NewGeminiClient(config ClientConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{
		client:       client,
		maxTokens:    int32(config.MaxTokens),
		temperature:  float32(config.Temperature),
		systemPrompt: config.SystemPrompt,
		timeout:      config.Timeout,
	}, nil
}

// Stream sends req and streams candidate text back as TextFragments.
func (c *GeminiClient) Stream(ctx context.Context, req Request) (<-chan Event, <-chan error) {
	events := make(chan Event, 100)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		if c.timeout > 0 {
			if _, hasDeadline := ctx.Deadline(); !hasDeadline {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, c.timeout)
				defer cancel()
			}
		}

		timer := logging.StartTimer(logging.CategoryAPI, "[gemini] stream "+req.Bot)
		if err := c.stream(ctx, req, events); err != nil {
			logging.APIError("[gemini] stream %s failed after %v: %v", req.Bot, timer.Stop(), err)
			errs <- &CallError{Bot: req.Bot, Err: err}
			return
		}
		timer.Stop()
	}()

	return events, errs
}

func (c *GeminiClient) stream(ctx context.Context, req Request, events chan<- Event) error {
	contents := buildHistory(req, func(role, content string) *genai.Content {
		if role == string(types.RoleAssistant) {
			return genai.NewContentFromText(content, genai.RoleModel)
		}
		return genai.NewContentFromText(content, genai.RoleUser)
	})

	temperature := c.temperature
	genConfig := &genai.GenerateContentConfig{
		Temperature: &temperature,
	}
	if c.maxTokens > 0 {
		genConfig.MaxOutputTokens = c.maxTokens
	}
	if system := firstNonEmpty(req.SystemPrompt, c.systemPrompt); system != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	finish := ""
	for resp, err := range c.client.Models.GenerateContentStream(ctx, req.Bot, contents, genConfig) {
		if err != nil {
			return fmt.Errorf("GenAI stream failed: %w", err)
		}
		if text := resp.Text(); text != "" {
			if err := emit(ctx, events, TextFragment{Text: text}); err != nil {
				return err
			}
		}
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
			finish = string(resp.Candidates[0].FinishReason)
		}
	}
	return emit(ctx, events, Finish{Reason: finish})
}
