package embeddings

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/answerdhq/answerd/internal/config"
)

// OpenAIConfig holds configuration for the OpenAI embedding provider.
type OpenAIConfig struct {
	// Model is the embedding model name.
	// Default: "text-embedding-3-small"
	Model string

	// BaseURL overrides the API endpoint (for compatible gateways).
	BaseURL string

	// APIKey is the API key.
	APIKey config.Secret

	// Timeout bounds each API call. Default: 15s.
	Timeout time.Duration

	// RequestsPerSecond throttles outbound calls; 0 disables throttling.
	RequestsPerSecond float64

	// Burst is the limiter burst size. Default: 16.
	Burst int
}

// ApplyDefaults sets default values for unset fields.
func (c *OpenAIConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
	if c.Burst == 0 {
		c.Burst = 16
	}
}

// Validate validates the configuration.
func (c OpenAIConfig) Validate() error {
	if !c.APIKey.IsSet() {
		return fmt.Errorf("%w: API key required", ErrInvalidConfig)
	}
	return nil
}

// OpenAIProvider generates embeddings via the OpenAI API.
type OpenAIProvider struct {
	client  *openai.Client
	config  OpenAIConfig
	limiter *rate.Limiter
	dim     int
	metrics *Metrics
}

// NewOpenAIProvider creates a provider for the configured model.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey.Value())
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	dim := 1536 // text-embedding-3-small and ada-002
	if cfg.Model == "text-embedding-3-large" {
		dim = 3072
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}

	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(clientCfg),
		config:  cfg,
		limiter: limiter,
		dim:     dim,
		metrics: DefaultMetrics(),
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts in one batched
// API call. Vectors are L2-normalized.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.config.Model),
		Input: texts,
	})
	p.metrics.observe(len(texts), time.Since(start), err)
	if err != nil {
		// Timeouts, cancellations, and API failures all surface as
		// ErrUnavailable; the retrieval engine retries reads once.
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrUnavailable, len(resp.Data), len(texts))
	}

	// Responses can arrive out of order; Index restores input order.
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrUnavailable, d.Index)
		}
		v := make([]float32, len(d.Embedding))
		copy(v, d.Embedding)
		l2normalize(v)
		vectors[d.Index] = v
	}

	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *OpenAIProvider) Dimension() int {
	return p.dim
}

// Close releases resources held by the provider.
func (p *OpenAIProvider) Close() error {
	return nil
}

// wait blocks until the client-side limiter admits one request.
func (p *OpenAIProvider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Ensure OpenAIProvider implements Provider.
var _ Provider = (*OpenAIProvider)(nil)
