package core

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/into-the-night/fin-breaker/config"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider talks to any OpenAI-compatible chat/embeddings endpoint.
type OpenAIProvider struct {
	client      *openai.Client
	temperature float32
	maxTokens   int
}

// NewLLMProvider creates the provider described by cfg.
func NewLLMProvider(cfg config.LLMConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("llm.api_key not configured")
	}
	return NewOpenAIProvider(cfg), nil
}

func NewOpenAIProvider(cfg config.LLMConfig) *OpenAIProvider {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(oc),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// Client exposes the raw client for audio endpoints.
func (p *OpenAIProvider) Client() *openai.Client { return p.client }

// Generate runs a single-turn chat completion. Recognised options are
// "temperature" (float64), "max_tokens" (int), "system" (string) and
// "json" (bool, requests a JSON object response).
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}
	if t, ok := options["temperature"].(float64); ok {
		req.Temperature = float32(t)
	}
	if mt, ok := options["max_tokens"].(int); ok {
		req.MaxTokens = mt
	}
	if sys, ok := options["system"].(string); ok && sys != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: sys})
	}
	if asJSON, ok := options["json"].(bool); ok && asJSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns one vector per input, in input order.
func (p *OpenAIProvider) Embed(ctx context.Context, model string, input []string) ([][]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: input,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	out := make([][]float32, len(input))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
