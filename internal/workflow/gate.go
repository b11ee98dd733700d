package workflow

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/opennotes/opennotes/internal/core/domain"
)

// tokenWeights assigns each workflow type its admission weight. Heavier
// jobs hold more of the pool while they run.
var tokenWeights = map[string]int64{
	domain.JobTypeRechunkFactCheck:      2,
	domain.JobTypeRechunkPreviouslySeen: 2,
	domain.JobTypeImportFactCheck:       3,
	domain.JobTypeImportFactCheckFeed:   3,
}

const defaultTokenWeight = 1

// TokenGate bounds simultaneous heavy work across the process with named
// weighted pools.
type TokenGate struct {
	capacity int64

	mu    sync.Mutex
	pools map[string]*semaphore.Weighted
}

// NewTokenGate creates a gate whose pools each hold capacity tokens.
func NewTokenGate(capacity int64) *TokenGate {
	if capacity <= 0 {
		capacity = 8
	}

	return &TokenGate{
		capacity: capacity,
		pools:    make(map[string]*semaphore.Weighted),
	}
}

// Acquire blocks until the pool can admit the workflow type's weight. The
// returned release function is safe to call exactly once on any exit path.
func (g *TokenGate) Acquire(ctx context.Context, pool, jobType string) (func(), error) {
	weight := WeightFor(jobType)

	sem := g.pool(pool)

	if err := sem.Acquire(ctx, weight); err != nil {
		return nil, fmt.Errorf("acquire %s token: %w", pool, err)
	}

	return func() { sem.Release(weight) }, nil
}

// WeightFor returns the admission weight of a workflow type.
func WeightFor(jobType string) int64 {
	if w, ok := tokenWeights[jobType]; ok {
		return w
	}

	return defaultTokenWeight
}

func (g *TokenGate) pool(name string) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()

	sem, ok := g.pools[name]
	if !ok {
		sem = semaphore.NewWeighted(g.capacity)
		g.pools[name] = sem
	}

	return sem
}
