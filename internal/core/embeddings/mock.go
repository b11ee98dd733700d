package embeddings

import (
	"context"
	"hash/fnv"
	"math"
)

// MockProvider produces deterministic pseudo-embeddings for tests and
// local development without API keys.
type MockProvider struct {
	dimensions int
}

// NewMockProvider creates a mock provider with default dimensions.
func NewMockProvider() *MockProvider {
	return &MockProvider{dimensions: DefaultDimensions}
}

// Name returns the provider identifier.
func (p *MockProvider) Name() ProviderName { return ProviderMock }

// Priority returns the lowest priority.
func (p *MockProvider) Priority() int { return PriorityMock }

// Dimensions returns the configured dimensions.
func (p *MockProvider) Dimensions() int { return p.dimensions }

// IsAvailable always returns true.
func (p *MockProvider) IsAvailable() bool { return true }

// GetEmbedding returns a unit vector derived from a hash of the text.
// Identical inputs produce identical vectors.
func (p *MockProvider) GetEmbedding(_ context.Context, text string) (Result, error) {
	vec := make([]float32, p.dimensions)

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	var norm float64

	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed>>11)) / float64(1<<52)
		vec[i] = float32(v)
		norm += v * v
	}

	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}

	return Result{
		Vector:     vec,
		Dimensions: p.dimensions,
		Provider:   ProviderMock,
		Model:      "mock",
	}, nil
}
