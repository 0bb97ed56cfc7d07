package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrGenerationDisabled is returned when no OpenAI API key is configured
var ErrGenerationDisabled = errors.New("text generation is not configured")

// Generator produces text from a prompt. It is the only seam to the language
// model, so tests can swap in a canned implementation.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// OpenAIGenerator implements Generator using the OpenAI chat completions API
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator creates a generator, or nil when no API key is set so
// callers fall back to their deterministic paths.
func NewOpenAIGenerator(config *OpenAIConfig) *OpenAIGenerator {
	if config.APIKey == "" {
		return nil
	}
	model := config.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	return &OpenAIGenerator{
		client: openai.NewClient(config.APIKey),
		model:  model,
	}
}

// Generate sends a single-message chat completion request
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", fmt.Errorf("chat completion returned empty content")
	}
	return out, nil
}
