package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("answerd.llm.openai")

// OpenAIGeneratorConfig holds the chat completion settings.
type OpenAIGeneratorConfig struct {
	Model       string
	BaseURL     string
	APIKey      string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *OpenAIGeneratorConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = openai.GPT4oMini
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
}

// Validate validates the configuration.
func (c OpenAIGeneratorConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0, 2], got %g", c.Temperature)
	}
	return nil
}

// OpenAIGenerator generates answers via the OpenAI chat completion
// API, or any compatible endpoint when BaseURL points elsewhere.
type OpenAIGenerator struct {
	client *openai.Client
	config OpenAIGeneratorConfig
}

var _ Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator creates a generator from the configuration.
func NewOpenAIGenerator(config OpenAIGeneratorConfig) (*OpenAIGenerator, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Generate runs one chat completion. Endpoint failures and timeouts
// surface as ErrUnavailable; the caller decides how much of that to
// reveal to end users.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIGenerator.Generate")
	defer span.End()

	span.SetAttributes(
		attribute.String("model", g.config.Model),
		attribute.Int("prompt_length", len(prompt)),
	)

	if prompt == "" {
		return "", ErrEmptyPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.config.Model,
		MaxTokens:   g.config.MaxTokens,
		Temperature: g.config.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "no choices returned")
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}

	span.SetAttributes(attribute.Int("completion_tokens", resp.Usage.CompletionTokens))
	span.SetStatus(codes.Ok, "success")
	return resp.Choices[0].Message.Content, nil
}

// Close releases nothing: the client holds no persistent connections
// beyond the transport pool.
func (g *OpenAIGenerator) Close() error {
	return nil
}
