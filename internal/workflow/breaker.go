package workflow

import (
	"fmt"

	apperrors "github.com/opennotes/opennotes/internal/core/errors"
)

// RunBreaker counts consecutive item failures within one workflow run.
// Any success resets it; reaching the threshold aborts the batch with
// ErrCircuitOpen, which is distinct from the item-level errors that fed it.
type RunBreaker struct {
	threshold           int
	consecutiveFailures int
}

// NewRunBreaker creates a per-run breaker.
func NewRunBreaker(threshold int) *RunBreaker {
	if threshold <= 0 {
		threshold = 5
	}

	return &RunBreaker{threshold: threshold}
}

// RecordSuccess resets the failure streak.
func (b *RunBreaker) RecordSuccess() {
	b.consecutiveFailures = 0
}

// RecordFailure increments the streak. When the streak reaches the
// threshold it returns ErrCircuitOpen; the caller must abort the run.
func (b *RunBreaker) RecordFailure() error {
	b.consecutiveFailures++

	if b.consecutiveFailures >= b.threshold {
		return fmt.Errorf("%d consecutive step failures: %w", b.consecutiveFailures, apperrors.ErrCircuitOpen)
	}

	return nil
}
