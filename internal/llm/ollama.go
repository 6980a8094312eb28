package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dbma/internal/config"
	. "dbma/internal/logging"
)

// OllamaProvider talks to a local or remote Ollama server over its chat API.
type OllamaProvider struct {
	url         string
	model       string
	temperature float32
	client      *http.Client
}

// ollamaChatRequest is the request body for the Ollama chat API.
type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  *ollamaOptions      `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

// NewOllamaProvider creates an Ollama provider from config.
func NewOllamaProvider(cfg config.LLMConfig) (*OllamaProvider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ollama URL not configured")
	}
	timeoutSeconds := cfg.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 120
	}

	p := &OllamaProvider{
		url:         strings.TrimSuffix(cfg.URL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		client: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
	}
	L_debug("ollama provider created", "url", p.url, "model", p.model, "timeout", timeoutSeconds)
	return p, nil
}

func (p *OllamaProvider) Name() string  { return "ollama" }
func (p *OllamaProvider) Model() string { return p.model }

// IsAvailable checks the server root endpoint.
func (p *OllamaProvider) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url+"/", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		L_debug("ollama: availability check failed: %v", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Generate sends one non-streaming chat request.
func (p *OllamaProvider) Generate(ctx context.Context, userMessage, systemPrompt string) (string, error) {
	var messages []ollamaChatMessage
	if systemPrompt != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: userMessage})

	reqBody := ollamaChatRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   false,
	}
	if p.temperature > 0 {
		reqBody.Options = &ollamaOptions{Temperature: p.temperature}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding ollama response: %w", err)
	}

	L_elapsed(start, "ollama: generation", "model", p.model)
	return chatResp.Message.Content, nil
}
