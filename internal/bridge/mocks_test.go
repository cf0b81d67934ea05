package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"bridgebot/internal/config"
	"bridgebot/internal/perception"
	"bridgebot/internal/store"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// genai pulls in opencensus, whose stats worker starts at init and never exits.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

var errUpstream = errors.New("upstream exploded")

// stubClient answers every request with reply(req), split into word-sized fragments.
type stubClient struct {
	mu     sync.Mutex
	calls  []perception.Request
	failOn int // 1-based call index that fails; 0 never fails
	reply  func(n int, req perception.Request) string
}

func echoClient() *stubClient {
	return &stubClient{reply: func(_ int, req perception.Request) string {
		return fmt.Sprintf("%s says: %s", req.Bot, req.Prompt)
	}}
}

func (c *stubClient) Stream(ctx context.Context, req perception.Request) (<-chan perception.Event, <-chan error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	n := len(c.calls)
	c.mu.Unlock()

	events := make(chan perception.Event)
	errs := make(chan error, 1)
	go func() {
		defer close(events)
		defer close(errs)
		if n == c.failOn {
			errs <- &perception.CallError{Bot: req.Bot, Err: errUpstream}
			return
		}
		text := c.reply(n, req)
		var out []perception.Event
		for _, chunk := range strings.SplitAfter(text, " ") {
			out = append(out, perception.TextFragment{Text: chunk})
		}
		out = append(out, perception.Finish{Reason: "stop"})
		for _, ev := range out {
			if err := ctx.Err(); err != nil {
				errs <- err
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return events, errs
}

func (c *stubClient) requests() []perception.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]perception.Request(nil), c.calls...)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Reflect.HelperBot = "helper"
	cfg.Reflect.CriticBot = "critic"
	return cfg
}

func newTestService(client perception.BotClient, mutate ...func(*config.Config)) (*Service, store.SessionStore) {
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}
	sessions := store.NewMapStore(cfg.Memory.MaxHistory)
	return NewService(client, sessions, cfg), sessions
}
