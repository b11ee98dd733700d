package scoring

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opennotes/opennotes/internal/core/domain"
)

func ratingsFor(noteID string, helpfulness ...string) []domain.Rating {
	out := make([]domain.Rating, len(helpfulness))
	for i, h := range helpfulness {
		out[i] = domain.Rating{
			ID:             fmt.Sprintf("r%d", i),
			NoteID:         noteID,
			RaterProfileID: fmt.Sprintf("u%d", i),
			Helpfulness:    h,
		}
	}

	return out
}

func TestTierForNoteCount_BoundaryInclusive(t *testing.T) {
	assert.Equal(t, TierMinimal, TierForNoteCount(0, 200))
	assert.Equal(t, TierMinimal, TierForNoteCount(199, 200))
	assert.Equal(t, TierFull, TierForNoteCount(200, 200))
	assert.Equal(t, TierFull, TierForNoteCount(5000, 200))
}

func TestStatusForScore(t *testing.T) {
	assert.Equal(t, domain.NoteStatusNeedsMoreRatings, StatusForScore(0.9, 2, 5))
	assert.Equal(t, domain.NoteStatusRatedHelpful, StatusForScore(0.5, 5, 5))
	assert.Equal(t, domain.NoteStatusRatedHelpful, StatusForScore(0.8, 10, 5))
	assert.Equal(t, domain.NoteStatusRatedNotHelpful, StatusForScore(0.49, 5, 5))
}

func TestPersistedScore(t *testing.T) {
	assert.Equal(t, 0, PersistedScore(0))
	assert.Equal(t, 100, PersistedScore(1))
	assert.Equal(t, 100, PersistedScore(1.5))
	assert.Equal(t, 0, PersistedScore(-0.2))
	assert.Equal(t, 73, PersistedScore(0.739))
}

func TestBayesian_NoRatingsReturnsPrior(t *testing.T) {
	s := NewBayesianScorer(0.5, 10, 5)

	result, err := s.ScoreNote(context.Background(), "n1", nil)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, result.Score, 0.0001)
	assert.Equal(t, ConfidenceProvisional, result.Confidence)
}

func TestBayesian_PriorPullsFewRatings(t *testing.T) {
	s := NewBayesianScorer(0.5, 10, 5)

	// Two HELPFUL ratings: (0.5*10 + 2) / 12.
	result, err := s.ScoreNote(context.Background(), "n1",
		ratingsFor("n1", domain.HelpfulnessHelpful, domain.HelpfulnessHelpful))
	require.NoError(t, err)

	assert.InDelta(t, 7.0/12.0, result.Score, 0.0001)
	assert.Equal(t, ConfidenceProvisional, result.Confidence)
}

func TestBayesian_ManyRatingsDominatePrior(t *testing.T) {
	s := NewBayesianScorer(0.5, 10, 5)

	helpful := make([]string, 100)
	for i := range helpful {
		helpful[i] = domain.HelpfulnessHelpful
	}

	result, err := s.ScoreNote(context.Background(), "n1", ratingsFor("n1", helpful...))
	require.NoError(t, err)

	assert.Greater(t, result.Score, 0.9)
	assert.Equal(t, ConfidenceStandard, result.Confidence)
}

func TestBayesian_Deterministic(t *testing.T) {
	s := NewBayesianScorer(0.5, 10, 5)
	ratings := ratingsFor("n1", domain.HelpfulnessHelpful, domain.HelpfulnessNotHelpful, domain.HelpfulnessSomewhatHelpful)

	first, err := s.ScoreNote(context.Background(), "n1", ratings)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := s.ScoreNote(context.Background(), "n1", ratings)
		require.NoError(t, err)
		assert.Equal(t, first.Score, again.Score)
	}
}

func TestNormalizeIntercept(t *testing.T) {
	assert.InDelta(t, 0, normalizeIntercept(-0.4), 0.0001)
	assert.InDelta(t, 1, normalizeIntercept(0.7), 0.0001)
	assert.InDelta(t, 0.3636, normalizeIntercept(0), 0.0001)

	// Outliers clamp.
	assert.InDelta(t, 0, normalizeIntercept(-2), 0.0001)
	assert.InDelta(t, 1, normalizeIntercept(3), 0.0001)
}

func TestConfidenceForStatus(t *testing.T) {
	assert.Equal(t, ConfidenceHigh, confidenceForStatus(domain.NoteStatusRatedHelpful))
	assert.Equal(t, ConfidenceStandard, confidenceForStatus(domain.NoteStatusRatedNotHelpful))
	assert.Equal(t, ConfidenceProvisional, confidenceForStatus(domain.NoteStatusNeedsMoreRatings))
}

func TestRunMF_SeparatesGoodFromBad(t *testing.T) {
	var ratings []domain.Rating

	// Five raters agree: n-good is helpful, n-bad is not.
	for i := 0; i < 5; i++ {
		rater := fmt.Sprintf("u%d", i)
		ratings = append(ratings,
			domain.Rating{NoteID: "n-good", RaterProfileID: rater, Helpfulness: domain.HelpfulnessHelpful},
			domain.Rating{NoteID: "n-bad", RaterProfileID: rater, Helpfulness: domain.HelpfulnessNotHelpful},
		)
	}

	results := runMF(buildFrame(ratings))
	require.Len(t, results, 2)

	byID := map[string]noteResult{}
	for _, r := range results {
		byID[r.NoteID] = r
	}

	assert.Greater(t, byID["n-good"].Intercept, byID["n-bad"].Intercept)
	assert.Equal(t, 5, byID["n-good"].RatingCount)
}

func TestRunMF_Deterministic(t *testing.T) {
	var ratings []domain.Rating

	for i := 0; i < 8; i++ {
		ratings = append(ratings, domain.Rating{
			NoteID:         fmt.Sprintf("n%d", i%3),
			RaterProfileID: fmt.Sprintf("u%d", i%4),
			Helpfulness:    []string{domain.HelpfulnessHelpful, domain.HelpfulnessNotHelpful}[i%2],
		})
	}

	first := runMF(buildFrame(ratings))

	for i := 0; i < 5; i++ {
		again := runMF(buildFrame(ratings))
		assert.Equal(t, first, again)
	}
}

func TestRunMF_Empty(t *testing.T) {
	assert.Nil(t, runMF(buildFrame(nil)))
}

func TestBuildFrame_StableMapping(t *testing.T) {
	ratings := []domain.Rating{
		{NoteID: "note-a", RaterProfileID: "u1", Helpfulness: domain.HelpfulnessHelpful},
		{NoteID: "note-b", RaterProfileID: "u1", Helpfulness: domain.HelpfulnessNotHelpful},
		{NoteID: "note-a", RaterProfileID: "u2", Helpfulness: domain.HelpfulnessSomewhatHelpful},
	}

	f := buildFrame(ratings)

	require.Len(t, f.noteIDOf, 2)
	assert.Equal(t, "note-a", f.noteIDOf[0])
	assert.Equal(t, "note-b", f.noteIDOf[1])
	assert.Equal(t, []int64{0, 1, 0}, f.noteIdx)
	assert.Equal(t, []float64{1, 0, 0.5}, f.values)
}

func TestLRUCache_EvictsOldest(t *testing.T) {
	c := newLRUCache(2)

	c.Put("a", ScoringResult{Score: 1})
	c.Put("b", ScoringResult{Score: 2})
	c.Put("c", ScoringResult{Score: 3})

	_, ok := c.Get("a")
	assert.False(t, ok)

	_, ok = c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRUCache_GetRefreshesRecency(t *testing.T) {
	c := newLRUCache(2)

	c.Put("a", ScoringResult{Score: 1})
	c.Put("b", ScoringResult{Score: 2})

	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("c", ScoringResult{Score: 3})

	_, ok = c.Get("b")
	assert.False(t, ok)

	_, ok = c.Get("a")
	assert.True(t, ok)
}
