package perception

import (
	"fmt"

	"bridgebot/internal/config"
)

// NewClientFromConfig creates the remote bot client selected by cfg.LLM.
func NewClientFromConfig(cfg *config.Config) (BotClient, error) {
	if cfg.LLM.APIKey == "" {
		return nil, &config.ConfigurationError{Reason: "remote bot credential not configured"}
	}

	provider := Provider(cfg.LLM.Provider)
	clientCfg := defaultsFor(provider, cfg.LLM.APIKey)
	if cfg.LLM.BaseURL != "" {
		clientCfg.BaseURL = cfg.LLM.BaseURL
	}
	clientCfg.Timeout = cfg.GetLLMTimeout()
	if cfg.LLM.MaxTokens > 0 {
		clientCfg.MaxTokens = cfg.LLM.MaxTokens
	}
	clientCfg.Temperature = cfg.LLM.Temperature
	clientCfg.SystemPrompt = cfg.LLM.SystemPrompt

	switch provider {
	case ProviderOpenAI, ProviderOpenRouter:
		return NewOpenAIClientWithConfig(provider, clientCfg), nil
	case ProviderAnthropic:
		return NewAnthropicClientWithConfig(clientCfg), nil
	case ProviderGemini:
		return NewGeminiClient(clientCfg)
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

func defaultsFor(provider Provider, apiKey string) ClientConfig {
	switch provider {
	case ProviderOpenRouter:
		return DefaultOpenRouterConfig(apiKey)
	case ProviderAnthropic:
		return DefaultAnthropicConfig(apiKey)
	default:
		cfg := DefaultOpenAIConfig(apiKey)
		if provider == ProviderGemini {
			cfg.BaseURL = ""
		}
		return cfg
	}
}
