package bridge

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"bridgebot/internal/command"
	"bridgebot/internal/config"
	"bridgebot/internal/perception"
	"bridgebot/internal/store"
	"bridgebot/internal/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runBridge(t *testing.T, client perception.BotClient, limits config.BridgeLimits, cfg command.BridgeConfig, streaming bool) ([]Fragment, store.SessionStore) {
	t.Helper()
	sessions := store.NewMapStore(config.DefaultMaxHistory)
	orch := NewOrchestrator(client, sessions, limits)
	var got []Fragment
	for f := range orch.Run(context.Background(), "conv", cfg, streaming) {
		got = append(got, f)
	}
	return got, sessions
}

func fixed(a, b, topic string, n int) command.BridgeConfig {
	return command.BridgeConfig{ParticipantA: a, ParticipantB: b, Topic: topic, Mode: command.FixedTurns, Turns: n}
}

func auto(a, b, topic string) command.BridgeConfig {
	return command.BridgeConfig{ParticipantA: a, ParticipantB: b, Topic: topic, Mode: command.AutoUntilStop}
}

func TestOrchestrator_AlternatesSpeakers(t *testing.T) {
	client := echoClient()
	got, _ := runBridge(t, client, testConfig().Bridge, fixed("alpha", "beta", "go", 7), false)

	require.Len(t, got, 7)
	for i, f := range got {
		assert.Equal(t, KindTurn, f.Kind)
		if (i+1)%2 == 1 {
			assert.Equal(t, "alpha", f.Speaker, "turn %d", i+1)
		} else {
			assert.Equal(t, "beta", f.Speaker, "turn %d", i+1)
		}
	}
	assert.Len(t, client.requests(), 7)
}

func TestOrchestrator_FeedsReplyAsNextPrompt(t *testing.T) {
	client := echoClient()
	got, _ := runBridge(t, client, testConfig().Bridge, fixed("alpha", "beta", "topic", 3), false)

	reqs := client.requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "topic", reqs[0].Prompt)
	assert.Equal(t, got[0].Text, reqs[1].Prompt)
	assert.Equal(t, got[1].Text, reqs[2].Prompt)
}

func TestOrchestrator_AutoStopsOnToken(t *testing.T) {
	client := &stubClient{reply: func(n int, _ perception.Request) string {
		if n == 3 {
			return "I think we are done [check]"
		}
		return fmt.Sprintf("turn %d", n)
	}}
	limits := testConfig().Bridge
	got, sessions := runBridge(t, client, limits, auto("alpha", "beta", "topic"), false)

	want := []Fragment{
		{Kind: KindTurn, Speaker: "alpha", Text: "turn 1"},
		{Kind: KindTurn, Speaker: "beta", Text: "turn 2"},
		{Kind: KindTurn, Speaker: "alpha", Text: "I think we are done [check]"},
		{Kind: KindNotice, Text: "Stop token [CHECK] received after 3 turns."},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fragments mismatch (-want +got):\n%s", diff)
	}

	reqs := client.requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "topic\n\n"+limits.Guidance(), reqs[0].Prompt)

	// Memory holds the bare prompt, not the guidance.
	history, err := sessions.Load(context.Background(), "conv", "alpha")
	require.NoError(t, err)
	assert.Equal(t, "topic", history[0].Content)
}

func TestOrchestrator_StopTokenIgnoredInFixedMode(t *testing.T) {
	client := &stubClient{reply: func(int, perception.Request) string { return "[CHECK]" }}
	got, _ := runBridge(t, client, testConfig().Bridge, fixed("a", "b", "t", 3), false)
	assert.Len(t, got, 3)
	for _, f := range got {
		assert.Equal(t, KindTurn, f.Kind)
	}
}

func TestOrchestrator_SafetyCap(t *testing.T) {
	client := &stubClient{reply: func(n int, _ perception.Request) string { return fmt.Sprint(n) }}
	limits := testConfig().Bridge
	limits.MaxTurns = 5
	got, _ := runBridge(t, client, limits, auto("a", "b", "t"), false)

	require.Len(t, got, 6)
	assert.Equal(t, Fragment{Kind: KindNotice, Text: "Reached the safety cap of 5 turns."}, got[5])
	assert.Len(t, client.requests(), 5)
}

func TestOrchestrator_FailureHaltsSession(t *testing.T) {
	client := echoClient()
	client.failOn = 2
	got, _ := runBridge(t, client, testConfig().Bridge, fixed("alpha", "beta", "t", 4), false)

	require.Len(t, got, 2)
	assert.Equal(t, KindTurn, got[0].Kind)
	assert.Equal(t, Fragment{Kind: KindError, Speaker: "beta", Text: "beta: upstream exploded"}, got[1])
	assert.Len(t, client.requests(), 2)
}

func TestOrchestrator_StreamingOrder(t *testing.T) {
	client := echoClient()
	got, _ := runBridge(t, client, testConfig().Bridge, fixed("alpha", "beta", "hi", 1), true)

	want := []Fragment{
		{Kind: KindSpeaker, Speaker: "alpha"},
		{Kind: KindText, Speaker: "alpha", Text: "alpha "},
		{Kind: KindText, Speaker: "alpha", Text: "says: "},
		{Kind: KindText, Speaker: "alpha", Text: "hi"},
		{Kind: KindTurnEnd, Speaker: "alpha"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stream mismatch (-want +got):\n%s", diff)
	}
}

func TestOrchestrator_StreamingMatchesBatch(t *testing.T) {
	cfg := fixed("alpha", "beta", "Say hello.", 4)
	batch, _ := runBridge(t, echoClient(), testConfig().Bridge, cfg, false)
	stream, _ := runBridge(t, echoClient(), testConfig().Bridge, cfg, true)

	assert.Equal(t, Transcript(seqOf(batch)), Transcript(seqOf(stream)))

	var rendered strings.Builder
	for _, f := range stream {
		rendered.WriteString(RenderStream(f))
	}
	assert.Contains(t, rendered.String(), "[alpha]: alpha says: Say hello.\n\n[beta]: ")
}

func TestOrchestrator_StreamingFailureClosesTurn(t *testing.T) {
	client := echoClient()
	client.failOn = 1
	got, _ := runBridge(t, client, testConfig().Bridge, fixed("alpha", "beta", "t", 2), true)

	want := []Fragment{
		{Kind: KindSpeaker, Speaker: "alpha"},
		{Kind: KindTurnEnd, Speaker: "alpha"},
		{Kind: KindError, Speaker: "alpha", Text: "alpha: upstream exploded"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "[error]: alpha: upstream exploded", Transcript(seqOf(got)))
}

func TestTranscript_KeepsPartialTextBeforeError(t *testing.T) {
	got := Transcript(seqOf([]Fragment{
		{Kind: KindSpeaker, Speaker: "alpha"},
		{Kind: KindText, Speaker: "alpha", Text: "half "},
		{Kind: KindTurnEnd, Speaker: "alpha"},
		{Kind: KindError, Speaker: "alpha", Text: "alpha: stream ended before completion"},
	}))
	assert.Equal(t, "[alpha]: half\n[error]: alpha: stream ended before completion", got)
}

func TestOrchestrator_ObserverStopsEarly(t *testing.T) {
	for _, streaming := range []bool{false, true} {
		t.Run(fmt.Sprintf("streaming=%v", streaming), func(t *testing.T) {
			client := echoClient()
			orch := NewOrchestrator(client, store.NewMapStore(20), testConfig().Bridge)

			seen := 0
			for range orch.Run(context.Background(), "conv", fixed("a", "b", "one two three", 4), streaming) {
				seen++
				if seen == 2 {
					break
				}
			}
			assert.Equal(t, 2, seen)
			if streaming {
				assert.Len(t, client.requests(), 1)
			} else {
				assert.Len(t, client.requests(), 2)
			}
		})
	}
}

func TestOrchestrator_ContextCancelEndsQuietly(t *testing.T) {
	client := echoClient()
	orch := NewOrchestrator(client, store.NewMapStore(20), testConfig().Bridge)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []Fragment
	for f := range orch.Run(ctx, "conv", fixed("a", "b", "t", 4), false) {
		got = append(got, f)
		cancel()
	}
	require.Len(t, got, 1)
	assert.Equal(t, KindTurn, got[0].Kind)
}

func TestOrchestrator_HistoryPerParticipant(t *testing.T) {
	client := echoClient()
	got, sessions := runBridge(t, client, testConfig().Bridge, fixed("alpha", "beta", "topic", 3), false)

	reqs := client.requests()
	assert.Empty(t, reqs[0].History)
	assert.Empty(t, reqs[1].History)
	assert.Equal(t, types.Exchange("topic", got[0].Text), reqs[2].History)

	beta, err := sessions.Load(context.Background(), "conv", "beta")
	require.NoError(t, err)
	assert.Equal(t, types.Exchange(got[0].Text, got[1].Text), beta)
}

func TestOrchestrator_HistoryDisabled(t *testing.T) {
	client := echoClient()
	limits := testConfig().Bridge
	limits.History = false
	_, sessions := runBridge(t, client, limits, fixed("alpha", "beta", "topic", 3), false)

	for _, req := range client.requests() {
		assert.Nil(t, req.History)
	}
	history, err := sessions.Load(context.Background(), "conv", "alpha")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestOrchestrator_SetLimits(t *testing.T) {
	orch := NewOrchestrator(echoClient(), store.NewMapStore(20), testConfig().Bridge)
	limits := testConfig().Bridge
	limits.MaxTurns = 2
	orch.SetLimits(limits)
	assert.Equal(t, 2, orch.Limits().MaxTurns)
}

func seqOf(fs []Fragment) func(func(Fragment) bool) {
	return func(yield func(Fragment) bool) {
		for _, f := range fs {
			if !yield(f) {
				return
			}
		}
	}
}
