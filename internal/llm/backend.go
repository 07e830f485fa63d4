package llm

import (
	"fmt"
	"log/slog"
)

// BackendConfig carries the credentials and endpoints backends need.
type BackendConfig struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OllamaURL       string
}

// NewBackend builds the chat client that serves id. A remote host without
// an API key is an error.
func NewBackend(id ModelID, cfg BackendConfig, logger *slog.Logger) (Client, error) {
	switch id.Host {
	case HostAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("model %s requires an Anthropic API key", id)
		}
		return NewAnthropicClient(cfg.AnthropicAPIKey, logger), nil
	case HostOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("model %s requires an OpenAI API key", id)
		}
		return NewOpenAIClient(cfg.OpenAIAPIKey, logger), nil
	case HostLocal:
		return NewOllamaClient(cfg.OllamaURL, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown host %q", ErrUnsupportedTag, id.Host)
	}
}

// ProviderName returns the provider label used in logs and usage records.
func ProviderName(h Host) string {
	switch h {
	case HostAnthropic:
		return "anthropic"
	case HostOpenAI:
		return "openai"
	default:
		return "ollama"
	}
}
