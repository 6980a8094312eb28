// Package llm provides unified LLM provider interfaces and implementations.
package llm

import (
	"context"
	"fmt"

	"dbma/internal/config"
)

// Provider is the unified interface for all LLM backends.
// Implementations: AnthropicProvider, OllamaProvider, OpenAIProvider
type Provider interface {
	// Identity
	Name() string  // Provider type name (e.g., "ollama")
	Model() string // Current model name

	// Availability
	IsAvailable() bool

	// Generate sends one system+user exchange and returns the full
	// completion. All agent prompting (SQL generation, healing,
	// summarization) goes through this.
	Generate(ctx context.Context, userMessage, systemPrompt string) (string, error)
}

// NewProvider creates a provider instance from config.
// Dispatches to the appropriate constructor based on cfg.Provider.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "openai":
		return NewOpenAIProvider(cfg)
	case "ollama":
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
