package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for a bridge session. All of them can be overridden from the config file.
const (
	DefaultTurns      = 4
	DefaultMaxTurns   = 40
	DefaultMaxHistory = 20
	DefaultStopToken  = "[CHECK]"

	DefaultStopGuidance = "When you believe the conversation has reached a natural conclusion, " +
		"include the marker %s somewhere in your reply."
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = ".bridgebot/config.yaml"

// Config holds all bridgebot configuration.
type Config struct {
	Name string `yaml:"name"`

	// Remote bot transport
	LLM LLMConfig `yaml:"llm"`

	// Turn orchestration limits
	Bridge BridgeLimits `yaml:"bridge"`

	// Draft/critique/merge pipeline
	Reflect ReflectConfig `yaml:"reflect"`

	// Session memory
	Memory MemoryConfig `yaml:"memory"`

	// HTTP host
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the remote bot transport.
type LLMConfig struct {
	Provider     string  `yaml:"provider"` // openai, anthropic, openrouter, gemini
	APIKey       string  `yaml:"-"`        // environment only
	BaseURL      string  `yaml:"base_url"`
	Timeout      string  `yaml:"timeout"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	SystemPrompt string  `yaml:"system_prompt"`
}

// BridgeLimits configures the turn orchestrator and the command parser.
type BridgeLimits struct {
	DefaultTurns int    `yaml:"default_turns"`
	MaxTurns     int    `yaml:"max_turns"`
	StopToken    string `yaml:"stop_token"`
	StopGuidance string `yaml:"stop_guidance"` // %s is replaced by the stop token
	History      bool   `yaml:"history"`
}

// ReflectConfig names the bots used by the reflect command.
type ReflectConfig struct {
	HelperBot string `yaml:"helper_bot"`
	CriticBot string `yaml:"critic_bot"`
}

// MemoryConfig configures the session memory store.
type MemoryConfig struct {
	Backend    string `yaml:"backend"` // memory, sqlite
	MaxHistory int    `yaml:"max_history"`
}

// ServerConfig configures the HTTP host.
type ServerConfig struct {
	Addr              string   `yaml:"addr"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
	ShutdownTimeout   string   `yaml:"shutdown_timeout"`
	HeartbeatInterval string   `yaml:"heartbeat_interval"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, console
	Categories map[string]bool `yaml:"categories"`
}

// ConfigurationError reports a configuration the process must not start with.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "bridgebot",

		LLM: LLMConfig{
			Provider:    "",
			Timeout:     "120s",
			MaxTokens:   1024,
			Temperature: 0.7,
		},

		Bridge: BridgeLimits{
			DefaultTurns: DefaultTurns,
			MaxTurns:     DefaultMaxTurns,
			StopToken:    DefaultStopToken,
			StopGuidance: DefaultStopGuidance,
			History:      true,
		},

		Reflect: ReflectConfig{
			HelperBot: "claude-3-5-sonnet",
			CriticBot: "gpt-4o",
		},

		Memory: MemoryConfig{
			Backend:    "memory",
			MaxHistory: DefaultMaxHistory,
		},

		Server: ServerConfig{
			Addr:              ":8080",
			ShutdownTimeout:   "10s",
			HeartbeatInterval: "15s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults; environment overrides always apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file. The credential is never written.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// providerKeys lists provider-specific credential variables in priority order.
var providerKeys = []struct {
	envVar   string
	provider string
}{
	{"ANTHROPIC_API_KEY", "anthropic"},
	{"OPENAI_API_KEY", "openai"},
	{"OPENROUTER_API_KEY", "openrouter"},
	{"GEMINI_API_KEY", "gemini"},
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if c.LLM.Provider != "" {
		for _, p := range providerKeys {
			if p.provider != c.LLM.Provider {
				continue
			}
			if key := os.Getenv(p.envVar); key != "" {
				c.LLM.APIKey = key
			}
		}
	} else {
		for _, p := range providerKeys {
			if key := os.Getenv(p.envVar); key != "" {
				c.LLM.APIKey = key
				c.LLM.Provider = p.provider
				break
			}
		}
	}

	// Generic credential wins over provider-specific ones
	if key := os.Getenv("BRIDGEBOT_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}

	if addr := os.Getenv("BRIDGEBOT_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if level := os.Getenv("BRIDGEBOT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// ValidProviders lists all supported remote bot providers.
var ValidProviders = []string{"openai", "anthropic", "openrouter", "gemini"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return &ConfigurationError{Reason: "remote bot credential not configured (set BRIDGEBOT_API_KEY, ANTHROPIC_API_KEY, OPENAI_API_KEY, OPENROUTER_API_KEY, or GEMINI_API_KEY)"}
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return &ConfigurationError{Reason: fmt.Sprintf("invalid provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)}
	}

	if err := c.Bridge.Validate(); err != nil {
		return err
	}

	if c.Memory.MaxHistory < 2 || c.Memory.MaxHistory%2 != 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("memory.max_history must be a positive even number, got %d", c.Memory.MaxHistory)}
	}
	switch c.Memory.Backend {
	case "memory", "sqlite":
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown memory backend: %s (valid: memory, sqlite)", c.Memory.Backend)}
	}
	return nil
}

// Validate checks the orchestration limits on their own; reloads use it too.
func (b BridgeLimits) Validate() error {
	if b.MaxTurns < 1 {
		return &ConfigurationError{Reason: fmt.Sprintf("bridge.max_turns must be at least 1, got %d", b.MaxTurns)}
	}
	if b.DefaultTurns < 1 || b.DefaultTurns > b.MaxTurns {
		return &ConfigurationError{Reason: fmt.Sprintf("bridge.default_turns must be within 1..%d, got %d", b.MaxTurns, b.DefaultTurns)}
	}
	if strings.TrimSpace(b.StopToken) == "" {
		return &ConfigurationError{Reason: "bridge.stop_token must not be empty"}
	}
	return nil
}

// Guidance returns the stop-token instruction appended to prompts in auto mode.
// Each "%s" in stop_guidance is replaced by the stop token; nothing else is interpreted.
func (b BridgeLimits) Guidance() string {
	if strings.TrimSpace(b.StopGuidance) == "" {
		return ""
	}
	return strings.ReplaceAll(b.StopGuidance, "%s", b.StopToken)
}

// GetLLMTimeout returns the remote call timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// GetShutdownTimeout returns the graceful shutdown timeout as a duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

// GetHeartbeatInterval returns the SSE heartbeat interval as a duration.
func (c *Config) GetHeartbeatInterval() time.Duration {
	return parseDuration(c.Server.HeartbeatInterval, 15*time.Second)
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
