package embeddings

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opennotes/opennotes/internal/platform/observability"
)

var (
	ErrNoProvidersAvailable = errors.New("no embedding providers available")
	ErrAllProvidersFailed   = errors.New("all embedding providers failed")
)

type registered struct {
	provider Provider
	breaker  *CircuitBreaker
}

// Registry orders providers by priority and walks down the list until one
// of them answers. Every vector leaving the registry has the target
// dimension, whatever the provider natively emits.
type Registry struct {
	mu        sync.RWMutex
	providers []registered

	targetDimension int
	logger          *zerolog.Logger
}

// NewRegistry creates an empty registry emitting targetDimension vectors.
func NewRegistry(targetDimension int, logger *zerolog.Logger) *Registry {
	return &Registry{targetDimension: targetDimension, logger: logger}
}

// Register adds a provider behind its own circuit breaker.
func (r *Registry) Register(p Provider, cfg CircuitBreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers = append(r.providers, registered{
		provider: p,
		breaker:  NewCircuitBreaker(cfg, r.logger),
	})

	sort.SliceStable(r.providers, func(i, j int) bool {
		return r.providers[i].provider.Priority() > r.providers[j].provider.Priority()
	})

	r.logger.Info().
		Str("provider", string(p.Name())).
		Int("priority", p.Priority()).
		Int("dimensions", p.Dimensions()).
		Msg("embedding provider registered")
}

// GetEmbedding tries each available provider in priority order and fits
// the winning vector to the target dimension.
func (r *Registry) GetEmbedding(ctx context.Context, text string) (Result, error) {
	r.mu.RLock()
	candidates := make([]registered, len(r.providers))
	copy(candidates, r.providers)
	r.mu.RUnlock()

	var (
		attempted bool
		lastErr   error
	)

	for _, c := range candidates {
		if !c.provider.IsAvailable() {
			continue
		}

		name := string(c.provider.Name())

		if !c.breaker.CanAttempt() {
			r.logger.Debug().Str("provider", name).Msg("circuit open, skipping provider")
			continue
		}

		attempted = true
		start := time.Now()

		result, err := c.provider.GetEmbedding(ctx, text)

		observability.EmbeddingLatency.WithLabelValues(name, result.Model).Observe(time.Since(start).Seconds())

		if err != nil {
			c.breaker.RecordFailure(c.provider.Name())
			observability.EmbeddingRequests.WithLabelValues(name, result.Model, "error").Inc()

			r.logger.Warn().Err(err).Str("provider", name).Msg("embedding provider failed")

			lastErr = err

			continue
		}

		c.breaker.RecordSuccess()
		observability.EmbeddingRequests.WithLabelValues(name, result.Model, "success").Inc()

		result.Vector = fitDimensions(result.Vector, r.targetDimension)
		result.Dimensions = len(result.Vector)

		return result, nil
	}

	if !attempted {
		return Result{}, ErrNoProvidersAvailable
	}

	return Result{}, errors.Join(ErrAllProvidersFailed, lastErr)
}

// fitDimensions zero-pads or truncates so every stored vector is
// comparable regardless of its provider.
func fitDimensions(vec []float32, target int) []float32 {
	switch {
	case target <= 0 || len(vec) == target:
		return vec
	case len(vec) > target:
		return vec[:target]
	default:
		fitted := make([]float32, target)
		copy(fitted, vec)

		return fitted
	}
}
