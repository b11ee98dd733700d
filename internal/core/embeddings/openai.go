package embeddings

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	apperrors "github.com/opennotes/opennotes/internal/core/errors"
)

const (
	ModelTextEmbedding3Large = "text-embedding-3-large"
	ModelTextEmbedding3Small = "text-embedding-3-small"

	// text-embedding-3-large native width; anything below it is requested
	// via the API's dimensions parameter.
	largeNativeDimensions = 3072

	openaiBurst = 5
)

// OpenAIConfig configures the OpenAI embedding provider.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	Dimensions int
	RateLimit  int // requests per second
}

// OpenAIProvider calls the OpenAI embeddings API behind a rate limiter.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	dimensions int
	limiter    *rate.Limiter
	configured bool
}

// NewOpenAIProvider builds the provider; zero config fields fall back to
// the small model at the schema dimension.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = ModelTextEmbedding3Small
	}

	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}

	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1
	}

	return &OpenAIProvider{
		client:     openai.NewClient(cfg.APIKey),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), openaiBurst),
		configured: cfg.APIKey != "" && cfg.APIKey != mockAPIKey,
	}
}

func (p *OpenAIProvider) Name() ProviderName { return ProviderOpenAI }
func (p *OpenAIProvider) Priority() int      { return PriorityPrimary }
func (p *OpenAIProvider) Dimensions() int    { return p.dimensions }
func (p *OpenAIProvider) IsAvailable() bool  { return p.configured }

// GetEmbedding embeds one text.
func (p *OpenAIProvider) GetEmbedding(ctx context.Context, text string) (Result, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limiter: %w", err)
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.model),
	}

	if p.model == ModelTextEmbedding3Large && p.dimensions > 0 && p.dimensions < largeNativeDimensions {
		req.Dimensions = p.dimensions
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("openai embeddings: %w", err)
	}

	if len(resp.Data) == 0 {
		return Result{}, fmt.Errorf("openai embeddings: %w", apperrors.ErrEmptyResponse)
	}

	vec := resp.Data[0].Embedding

	return Result{
		Vector:     vec,
		Dimensions: len(vec),
		Provider:   ProviderOpenAI,
		Model:      p.model,
	}, nil
}
