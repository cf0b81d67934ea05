package command

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser() *Parser {
	return NewParser(Limits{DefaultTurns: 4, MaxTurns: 40})
}

func TestParse_Intents(t *testing.T) {
	tests := []struct {
		input string
		want  Kind
	}{
		{"ping", KindPing},
		{"  PING ", KindPing},
		{"/ping", KindPing},
		{"reset", KindReset},
		{"Reset", KindReset},
		{"!reset", KindReset},
		{"reset everything", KindHelp},
		{"hello there", KindHelp},
		{"", KindHelp},
		{"bridges are nice", KindHelp},
		{"//bridge a b: t", KindHelp},
		{"bridge a b: t", KindBridge},
		{"/bridge a b: t", KindBridge},
		{"!BRIDGE a b: t", KindBridge},
		{"reflect why is the sky blue?", KindReflect},
		{"/reflect: why?", KindReflect},
	}

	p := newTestParser()
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd, err := p.Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd.Kind)
		})
	}
}

func TestParse_Bridge(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  BridgeConfig
	}{
		{
			name:  "default turns",
			input: "bridge alpha beta: Say hello.",
			want:  BridgeConfig{ParticipantA: "alpha", ParticipantB: "beta", Topic: "Say hello.", Mode: FixedTurns, Turns: 4},
		},
		{
			name:  "explicit turns",
			input: "/bridge alpha beta 2: test",
			want:  BridgeConfig{ParticipantA: "alpha", ParticipantB: "beta", Topic: "test", Mode: FixedTurns, Turns: 2},
		},
		{
			name:  "cap is inclusive",
			input: "bridge a b 40 : t",
			want:  BridgeConfig{ParticipantA: "a", ParticipantB: "b", Topic: "t", Mode: FixedTurns, Turns: 40},
		},
		{
			name:  "auto",
			input: "bridge GPT-4o Claude AUTO: debate",
			want:  BridgeConfig{ParticipantA: "GPT-4o", ParticipantB: "Claude", Topic: "debate", Mode: AutoUntilStop},
		},
		{
			name:  "topic split on first colon only",
			input: "bridge a b: ratio 3:1 is fine",
			want:  BridgeConfig{ParticipantA: "a", ParticipantB: "b", Topic: "ratio 3:1 is fine", Mode: FixedTurns, Turns: 4},
		},
	}

	p := newTestParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := p.Parse(tt.input)
			require.NoError(t, err)
			require.Equal(t, KindBridge, cmd.Kind)
			assert.Equal(t, tt.want, cmd.Bridge)
		})
	}
}

func TestParse_BridgeUsageErrors(t *testing.T) {
	inputs := []string{
		"bridge alpha beta 999: test",
		"bridge alpha beta 0: test",
		"bridge alpha beta -3: test",
		"bridge alpha beta many: test",
		"bridge alpha: test",
		"bridge a b 3 extra: test",
		"bridge alpha beta",
		"bridge alpha beta:   ",
		"bridge: topic",
	}

	p := newTestParser()
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := p.Parse(input)
			require.Error(t, err)

			var usageErr *UsageError
			require.True(t, errors.As(err, &usageErr))
			assert.Contains(t, usageErr.Usage(), BridgeUsage)
		})
	}
}

func TestParse_ReflectNeedsQuestion(t *testing.T) {
	_, err := newTestParser().Parse("/reflect   ")

	var usageErr *UsageError
	require.ErrorAs(t, err, &usageErr)
	assert.Contains(t, usageErr.Usage(), ReflectUsage)
}

func TestParse_RespectsConfiguredCap(t *testing.T) {
	p := NewParser(Limits{DefaultTurns: 2, MaxTurns: 5})

	_, err := p.Parse("bridge a b 6: t")
	require.Error(t, err)

	cmd, err := p.Parse("bridge a b: t")
	require.NoError(t, err)
	assert.Equal(t, 2, cmd.Bridge.Turns)
}

func TestHelpTextHasExample(t *testing.T) {
	assert.Contains(t, HelpText, "/bridge gpt-4o claude-3-5-sonnet 6:")
	assert.Equal(t, "bridge", KindBridge.String())
}
