package scoring

import (
	"sync"
)

// FactoryConfig holds tier selection and scorer defaults.
type FactoryConfig struct {
	TierBoundary int
	MinRatings   int
	PriorMean    float64
	PriorWeight  float64
	CacheSize    int
}

// Factory maps (community, note count, optional tier override) to cached
// scorer instances. Instances cache under the effective tier, so an
// override never shares state with the computed-tier scorer.
type Factory struct {
	store RatingsStore
	cfg   FactoryConfig

	mu      sync.Mutex
	scorers map[string]Scorer
}

// NewFactory creates the scorer factory.
func NewFactory(store RatingsStore, cfg FactoryConfig) *Factory {
	if cfg.TierBoundary <= 0 {
		cfg.TierBoundary = 200
	}

	if cfg.MinRatings <= 0 {
		cfg.MinRatings = 5
	}

	if cfg.PriorMean <= 0 {
		cfg.PriorMean = 0.5
	}

	if cfg.PriorWeight <= 0 {
		cfg.PriorWeight = 10
	}

	return &Factory{
		store:   store,
		cfg:     cfg,
		scorers: make(map[string]Scorer),
	}
}

// ScorerFor returns the cached scorer for the community's effective tier,
// creating it on first use. tierOverride, when non-empty, replaces the
// computed tier.
func (f *Factory) ScorerFor(communityID string, noteCount int, tierOverride string) Scorer {
	tier := TierForNoteCount(noteCount, f.cfg.TierBoundary)
	if tierOverride != "" {
		tier = tierOverride
	}

	key := communityID + "|" + tier

	f.mu.Lock()
	defer f.mu.Unlock()

	if scorer, ok := f.scorers[key]; ok {
		return scorer
	}

	var scorer Scorer

	if usesMatrixFactorization(tier) {
		scorer = NewMFAdapter(f.store, communityID, tier, f.cfg.MinRatings, f.cfg.CacheSize)
	} else {
		scorer = NewBayesianScorer(f.cfg.PriorMean, f.cfg.PriorWeight, f.cfg.MinRatings)
	}

	f.scorers[key] = scorer

	return scorer
}

// MinRatings exposes the configured minimum rating threshold for status
// derivation.
func (f *Factory) MinRatings() int {
	return f.cfg.MinRatings
}
