package providers

import (
	"fmt"

	"github.com/crosswindhq/crosswind/internal/agent"
)

// NewFactory returns the standard provider factory covering the closed
// provider set. Clients are constructed per resolved credential, never
// cached, since different tenants carry different keys.
func NewFactory() agent.ProviderFactory {
	return func(name, apiKey string) (agent.Provider, error) {
		switch name {
		case "openai", "":
			return NewOpenAIProvider(OpenAIConfig{APIKey: apiKey})
		case "anthropic":
			return NewAnthropicProvider(AnthropicConfig{APIKey: apiKey})
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}
}
