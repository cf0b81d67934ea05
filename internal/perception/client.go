// Package perception is the remote bot boundary: send a prompt to a named participant,
// receive its reply as a stream of events.
package perception

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// BotClient sends prompts to named participants.
//
// Stream returns immediately. Events arrive in upstream order; the event channel is
// closed when the reply ends. A failure is delivered on the error channel, which is
// closed before the event channel, so a caller can drain events and then read errs.
// Cancelling ctx stops the call.
type BotClient interface {
	Stream(ctx context.Context, req Request) (<-chan Event, <-chan error)
}

// CallError is a failed remote call, labelled with the participant it was addressed to.
type CallError struct {
	Bot string
	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Bot, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// AsCallError extracts a CallError from err, labelling it with bot when err is unlabelled.
func AsCallError(bot string, err error) *CallError {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr
	}
	return &CallError{Bot: bot, Err: err}
}

// Complete drains a stream into the full reply text, trimmed.
func Complete(ctx context.Context, client BotClient, req Request) (string, error) {
	events, errs := client.Stream(ctx, req)

	var sb strings.Builder
	for ev := range events {
		if frag, ok := ev.(TextFragment); ok {
			sb.WriteString(frag.Text)
		}
	}
	if err := <-errs; err != nil {
		return "", AsCallError(req.Bot, err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// errStreamDone stops readSSE without reporting a failure.
var errStreamDone = errors.New("stream done")

// readSSE calls handle with every non-empty "data:" payload in body. The body must end
// with handle returning errStreamDone; running out of input first is a truncated stream.
func readSSE(body io.Reader, handle func(data string) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if err := handle(data); err != nil {
			if errors.Is(err, errStreamDone) {
				return nil
			}
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream ended before completion: %w", io.ErrUnexpectedEOF)
}

// emit sends ev unless ctx is done first.
func emit(ctx context.Context, events chan<- Event, ev Event) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildHistory[T any](req Request, convert func(role, content string) T) []T {
	messages := make([]T, 0, len(req.History)+1)
	for _, m := range req.History {
		messages = append(messages, convert(string(m.Role), m.Content))
	}
	return append(messages, convert("user", req.Prompt))
}
