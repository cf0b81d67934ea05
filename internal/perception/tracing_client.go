package perception

import (
	"context"
	"time"

	"bridgebot/internal/logging"

	"go.uber.org/zap"
)

// CallTrace summarizes one remote call.
type CallTrace struct {
	Bot             string
	PromptChars     int
	HistoryMessages int
	Fragments       int
	ReplyChars      int
	FinishReason    string
	Duration        time.Duration
	Err             error
}

// TraceSink receives a CallTrace after every call. It must not block.
type TraceSink func(CallTrace)

// TracingClient wraps any BotClient and reports every call to a sink.
// Events pass through unchanged and in order.
type TracingClient struct {
	underlying BotClient
	sink       TraceSink
}

// NewTracingClient creates a tracing wrapper. A nil sink logs traces.
func NewTracingClient(underlying BotClient, sink TraceSink) *TracingClient {
	if sink == nil {
		sink = LogTrace
	}
	return &TracingClient{underlying: underlying, sink: sink}
}

// Stream forwards to the wrapped client.
func (tc *TracingClient) Stream(ctx context.Context, req Request) (<-chan Event, <-chan error) {
	inner, innerErrs := tc.underlying.Stream(ctx, req)
	events := make(chan Event)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		start := time.Now()
		trace := CallTrace{
			Bot:             req.Bot,
			PromptChars:     len(req.Prompt),
			HistoryMessages: len(req.History),
		}

	relay:
		for ev := range inner {
			switch e := ev.(type) {
			case TextFragment:
				trace.Fragments++
				trace.ReplyChars += len(e.Text)
			case Finish:
				trace.FinishReason = e.Reason
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				for range inner {
				}
				break relay
			}
		}

		err := <-innerErrs
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		trace.Duration = time.Since(start)
		trace.Err = err
		tc.sink(trace)

		if err != nil {
			errs <- err
		}
	}()

	return events, errs
}

// LogTrace writes a trace to the api logger with typed fields.
func LogTrace(trace CallTrace) {
	if !logging.IsCategoryEnabled(logging.CategoryAPI) {
		return
	}
	fields := []zap.Field{
		zap.String("bot", trace.Bot),
		zap.Int("prompt_chars", trace.PromptChars),
		zap.Int("history_messages", trace.HistoryMessages),
		zap.Int("fragments", trace.Fragments),
		zap.Int("reply_chars", trace.ReplyChars),
		zap.String("finish_reason", trace.FinishReason),
		zap.Duration("duration", trace.Duration),
	}
	logger := logging.Zap().Named(string(logging.CategoryAPI))
	if trace.Err != nil {
		logger.Warn("remote call failed", append(fields, zap.Error(trace.Err))...)
		return
	}
	logger.Debug("remote call", fields...)
}
