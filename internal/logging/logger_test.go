package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, enabled map[string]bool) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core), enabled)
	t.Cleanup(func() { SetLogger(nil, nil) })
	return logs
}

func TestCategoryLoggersAreNamed(t *testing.T) {
	logs := observe(t, nil)

	Bridge("turn %d from %s", 1, "alpha")
	APIWarn("upstream slow")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "bridge", entries[0].LoggerName)
	assert.Equal(t, "turn 1 from alpha", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "api", entries[1].LoggerName)
}

func TestDisabledCategoryIsSilent(t *testing.T) {
	logs := observe(t, map[string]bool{"memory": false, "bridge": true})

	Memory("dropped")
	Bridge("kept")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "kept", logs.All()[0].Message)
	assert.False(t, IsCategoryEnabled(CategoryMemory))
	assert.True(t, IsCategoryEnabled(CategoryServer))
}

func TestWithAddsFields(t *testing.T) {
	logs := observe(t, nil)

	Get(CategoryServer).With("conversation_id", "c1").Info("hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "c1", logs.All()[0].ContextMap()["conversation_id"])
}

func TestTimerThreshold(t *testing.T) {
	logs := observe(t, nil)

	timer := StartTimer(CategoryAPI, "stream alpha")
	timer.start = time.Now().Add(-time.Second)
	timer.StopWithThreshold(10 * time.Millisecond)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
}

func TestInitializeRejectsBadLevel(t *testing.T) {
	_, err := Initialize(Options{Level: "loud"})
	require.Error(t, err)

	logger, err := Initialize(Options{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
	SetLogger(nil, nil)
}
