// Package embeddings turns text into fixed-dimension vectors. A registry
// of providers gives fallback, per-provider circuit breaking and rate
// limiting; the Service on top adds retries, caching and trace spans.
package embeddings

import (
	"context"
	"time"
)

// ProviderName identifies an embedding backend.
type ProviderName string

const (
	ProviderOpenAI ProviderName = "openai"
	ProviderMock   ProviderName = "mock"
)

// Provider priorities; the registry tries higher values first.
const (
	PriorityPrimary = 100
	PriorityMock    = 0
)

// DefaultDimensions matches the vector(1536) columns in the schema.
const DefaultDimensions = 1536

const mockAPIKey = "mock"

// Result is one generated embedding with its provenance. Provider and
// model are persisted next to the vector so reindexing can tell stale
// embeddings apart.
type Result struct {
	Vector     []float32
	Dimensions int
	Provider   ProviderName
	Model      string
}

// Provider is one embedding backend.
type Provider interface {
	Name() ProviderName
	GetEmbedding(ctx context.Context, text string) (Result, error)
	IsAvailable() bool
	Priority() int
	Dimensions() int
}

// CircuitBreakerConfig tunes the per-provider breaker.
type CircuitBreakerConfig struct {
	// Threshold is the consecutive-failure count that opens the circuit.
	Threshold int

	// ResetAfter is how long an open circuit rejects attempts.
	ResetAfter time.Duration
}
