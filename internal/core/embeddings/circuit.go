package embeddings

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opennotes/opennotes/internal/platform/observability"
)

// CircuitBreaker guards one provider. Consecutive failures open the
// circuit for ResetAfter; a single success closes it again.
type CircuitBreaker struct {
	mu        sync.Mutex
	streak    int
	openUntil time.Time

	threshold  int
	resetAfter time.Duration
	logger     *zerolog.Logger
}

// NewCircuitBreaker builds a breaker from cfg.
func NewCircuitBreaker(cfg CircuitBreakerConfig, logger *zerolog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:  cfg.Threshold,
		resetAfter: cfg.ResetAfter,
		logger:     logger,
	}
}

// CanAttempt reports whether the circuit currently admits a call.
func (cb *CircuitBreaker) CanAttempt() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return !time.Now().Before(cb.openUntil)
}

// RecordSuccess closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.streak = 0
}

// RecordFailure extends the failure streak and opens the circuit once the
// threshold is hit.
func (cb *CircuitBreaker) RecordFailure(provider ProviderName) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.streak++

	if cb.streak < cb.threshold {
		return
	}

	cb.openUntil = time.Now().Add(cb.resetAfter)
	observability.EmbeddingCircuitBreakerOpens.WithLabelValues(string(provider)).Inc()

	if cb.logger != nil {
		cb.logger.Warn().
			Str("provider", string(provider)).
			Int("failure_streak", cb.streak).
			Time("open_until", cb.openUntil).
			Msg("embedding circuit opened")
	}
}
