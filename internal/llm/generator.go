// Package llm generates answers from assembled prompts.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/answerdhq/answerd/internal/config"
)

var (
	// ErrEmptyPrompt indicates an empty prompt was submitted.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrUnavailable indicates the model endpoint failed or timed out.
	ErrUnavailable = errors.New("generation unavailable")
)

// Generator produces one completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Close() error
}

// NewGenerator builds the configured generator.
func NewGenerator(cfg config.GeneratorConfig) (Generator, error) {
	g, err := NewOpenAIGenerator(OpenAIGeneratorConfig{
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey.Value(),
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout.Duration(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating generator: %w", err)
	}
	return g, nil
}
