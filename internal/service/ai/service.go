// Package ai wraps the Gemini API behind a single prompt-in, text-out call.
package ai

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Service holds one Gemini client bound to a model name.
type Service struct {
	client *genai.Client
	model  string
}

// NewService creates a client for the given API key and model.
func NewService(ctx context.Context, apiKey, model string) (*Service, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Service{client: client, model: model}, nil
}

// Model returns the configured model name.
func (s *Service) Model() string {
	return s.model
}

// Generate sends a prompt and returns the concatenated text of the
// first candidate.
func (s *Service) Generate(ctx context.Context, prompt string) (string, error) {
	result, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty response from model %s", s.model)
	}
	var text string
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}
	return text, nil
}
