package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"dbma/internal/config"
	. "dbma/internal/logging"
)

// OpenAIProvider talks to the OpenAI chat completions API, or any
// OpenAI-compatible endpoint when a custom URL is configured.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
}

// NewOpenAIProvider creates an OpenAI provider from config.
func NewOpenAIProvider(cfg config.LLMConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key not configured")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.URL != "" {
		clientCfg.BaseURL = cfg.URL
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	p := &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     timeout,
	}
	L_debug("openai provider created", "model", p.model, "baseURL", clientCfg.BaseURL)
	return p, nil
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }

// IsAvailable reports whether the model list endpoint responds.
func (p *OpenAIProvider) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := p.client.ListModels(ctx)
	if err != nil {
		L_debug("openai: availability check failed: %v", err)
		return false
	}
	return true
}

// Generate sends one non-streaming chat completion request.
func (p *OpenAIProvider) Generate(ctx context.Context, userMessage, systemPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var messages []openai.ChatCompletionMessage
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userMessage,
	})

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: p.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}

	L_elapsed(start, "openai: generation", "model", p.model,
		"promptTokens", resp.Usage.PromptTokens, "completionTokens", resp.Usage.CompletionTokens)
	return resp.Choices[0].Message.Content, nil
}
