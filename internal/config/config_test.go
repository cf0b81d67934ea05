package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "bridgebot", cfg.Name)
	assert.Equal(t, 4, cfg.Bridge.DefaultTurns)
	assert.Equal(t, 40, cfg.Bridge.MaxTurns)
	assert.Equal(t, "[CHECK]", cfg.Bridge.StopToken)
	assert.Equal(t, 20, cfg.Memory.MaxHistory)
	assert.Equal(t, 120*time.Second, cfg.GetLLMTimeout())
}

func TestConfig_SaveLoad(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.APIKey = "never-written"
	cfg.Bridge.MaxTurns = 60
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "never-written")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", loaded.LLM.Provider)
	assert.Equal(t, "sk-test", loaded.LLM.APIKey)
	assert.Equal(t, 60, loaded.Bridge.MaxTurns)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearCredentialEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultTurns, cfg.Bridge.DefaultTurns)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bridge: [unclosed"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing credential", func(c *Config) { c.LLM.APIKey = "" }, true},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "zai" }, true},
		{"default above cap", func(c *Config) { c.Bridge.DefaultTurns = 41 }, true},
		{"zero cap", func(c *Config) { c.Bridge.MaxTurns = 0 }, true},
		{"empty stop token", func(c *Config) { c.Bridge.StopToken = " " }, true},
		{"odd history", func(c *Config) { c.Memory.MaxHistory = 7 }, true},
		{"unknown backend", func(c *Config) { c.Memory.Backend = "redis" }, true},
		{"sqlite backend", func(c *Config) { c.Memory.Backend = "sqlite" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.LLM.Provider = "openai"
			cfg.LLM.APIKey = "key"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsConfigurationError(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestBridgeLimits_Guidance(t *testing.T) {
	limits := DefaultConfig().Bridge
	assert.Contains(t, limits.Guidance(), "[CHECK]")

	limits.StopGuidance = "say DONE"
	assert.Equal(t, "say DONE", limits.Guidance())

	limits.StopGuidance = "aim for 100% agreement, then say %s"
	assert.Equal(t, "aim for 100% agreement, then say [CHECK]", limits.Guidance())

	limits.StopGuidance = "%s or %s"
	assert.Equal(t, "[CHECK] or [CHECK]", limits.Guidance())

	limits.StopGuidance = ""
	assert.Empty(t, limits.Guidance())
}

func TestWatch_ReloadsBridgeLimits(t *testing.T) {
	clearCredentialEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bridge:\n  default_turns: 4\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan BridgeLimits, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(l BridgeLimits) { changes <- l })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("bridge:\n  default_turns: 6\n  max_turns: 50\n"), 0644))

	select {
	case l := <-changes:
		assert.Equal(t, 6, l.DefaultTurns)
		assert.Equal(t, 50, l.MaxTurns)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	require.NoError(t, <-done)
}
