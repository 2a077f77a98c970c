package ai

import (
	"context"
	"fmt"

	"github.com/kozaktomas/people-tracker/internal/config"
)

// NewProvider builds the description provider selected in the configuration.
// It returns nil when no provider is configured.
func NewProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	switch cfg.Plugins.DescriptionProvider {
	case "":
		return nil, nil
	case "openai":
		return NewOpenAIProvider(cfg.OpenAI.Token, cfg.OpenAI.Model), nil
	case "gemini":
		return NewGeminiProvider(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	case "ollama":
		return NewOllamaProvider(cfg.Ollama.URL, cfg.Ollama.Model), nil
	default:
		return nil, fmt.Errorf("unknown description provider %q", cfg.Plugins.DescriptionProvider)
	}
}
