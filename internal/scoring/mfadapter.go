package scoring

import (
	"context"
	"fmt"
	"sync"

	"github.com/opennotes/opennotes/internal/core/domain"
	"github.com/opennotes/opennotes/internal/platform/observability"
)

// RatingsStore loads the community-wide rating set for batch scoring.
type RatingsStore interface {
	ListRatingsForCommunity(ctx context.Context, communityID string) ([]domain.Rating, error)
	CommunityRatingsVersion(ctx context.Context, communityID string) (int64, error)
}

// MFAdapter wraps the batch matrix-factorization core behind the per-note
// Scorer interface. Batch results are cached under the community's ratings
// version; any rating mutation changes the version and invalidates the
// whole cache. All operations are serialized by the adapter lock.
type MFAdapter struct {
	store       RatingsStore
	communityID string
	tier        string
	minRatings  int

	mu      sync.Mutex
	version int64
	primed  bool
	cache   *lruCache
}

// NewMFAdapter creates the batch scorer adapter for one community/tier.
func NewMFAdapter(store RatingsStore, communityID, tier string, minRatings, cacheSize int) *MFAdapter {
	if minRatings <= 0 {
		minRatings = 5
	}

	return &MFAdapter{
		store:       store,
		communityID: communityID,
		tier:        tier,
		minRatings:  minRatings,
		cache:       newLRUCache(cacheSize),
	}
}

// Name implements Scorer.
func (a *MFAdapter) Name() string { return "matrix_factorization" }

// ScoreNote returns the note's batch result, recomputing the whole batch
// when the community's ratings have changed since the cached run.
func (a *MFAdapter) ScoreNote(ctx context.Context, noteID string, ratings []domain.Rating) (ScoringResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	version, err := a.store.CommunityRatingsVersion(ctx, a.communityID)
	if err != nil {
		return ScoringResult{}, fmt.Errorf("ratings version: %w", err)
	}

	if !a.primed || version != a.version {
		if err := a.recomputeBatch(ctx, version); err != nil {
			return ScoringResult{}, err
		}
	}

	if result, ok := a.cache.Get(noteID); ok {
		observability.ScorerCacheHits.WithLabelValues("hit").Inc()

		return result, nil
	}

	observability.ScorerCacheHits.WithLabelValues("miss").Inc()

	// Note absent from the batch: no ratings reached the training set yet.
	return a.unratedResult(noteID, len(ratings)), nil
}

// recomputeBatch runs the MF core over the community's full rating set and
// repopulates the cache. Caller holds the lock.
func (a *MFAdapter) recomputeBatch(ctx context.Context, version int64) error {
	all, err := a.store.ListRatingsForCommunity(ctx, a.communityID)
	if err != nil {
		return fmt.Errorf("load community ratings: %w", err)
	}

	a.cache.Purge()

	results := runMF(buildFrame(all))

	for _, r := range results {
		a.cache.Put(r.NoteID, ScoringResult{
			Score:      normalizeIntercept(r.Intercept),
			Confidence: confidenceForStatus(r.RatingStatus),
			Metadata: map[string]any{
				"algorithm":     a.Name(),
				"note_id":       r.NoteID,
				"rating_count":  r.RatingCount,
				"tier":          a.tier,
				"intercept":     r.Intercept,
				"factor":        r.Factor,
				"rating_status": r.RatingStatus,
			},
		})
	}

	a.version = version
	a.primed = true

	return nil
}

func (a *MFAdapter) unratedResult(noteID string, ratingCount int) ScoringResult {
	return ScoringResult{
		Score:      normalizeIntercept(0),
		Confidence: ConfidenceProvisional,
		Metadata: map[string]any{
			"algorithm":    a.Name(),
			"note_id":      noteID,
			"rating_count": ratingCount,
			"tier":         a.tier,
		},
	}
}
