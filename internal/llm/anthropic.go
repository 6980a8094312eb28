package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"dbma/internal/config"
	. "dbma/internal/logging"
)

// AnthropicProvider talks to the Anthropic messages API.
type AnthropicProvider struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
}

// anthropicMaxTokens is the output limit for agent completions. SQL
// generation and summaries are short; this is generous headroom.
const anthropicMaxTokens = 4096

// NewAnthropicProvider creates an Anthropic provider from config.
func NewAnthropicProvider(cfg config.LLMConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.URL != "" {
		opts = append(opts, option.WithBaseURL(cfg.URL))
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	p := &AnthropicProvider{
		client:  anthropic.NewClient(opts...),
		model:   cfg.Model,
		timeout: timeout,
	}
	L_debug("anthropic provider created", "model", p.model)
	return p, nil
}

func (p *AnthropicProvider) Name() string  { return "anthropic" }
func (p *AnthropicProvider) Model() string { return p.model }

// IsAvailable is optimistic: the messages API has no cheap health endpoint,
// so a configured key counts as available and errors surface per request.
func (p *AnthropicProvider) IsAvailable() bool {
	return true
}

// Generate sends one non-streaming messages request.
func (p *AnthropicProvider) Generate(ctx context.Context, userMessage, systemPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	start := time.Now()
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}

	L_elapsed(start, "anthropic: generation", "model", p.model,
		"inputTokens", msg.Usage.InputTokens, "outputTokens", msg.Usage.OutputTokens)
	return text, nil
}
