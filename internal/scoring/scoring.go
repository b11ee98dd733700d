// Package scoring computes helpfulness scores and confidence bands for
// notes. Small communities use a Bayesian prior-pulled average; communities
// with enough notes run the batch matrix-factorization core.
package scoring

import (
	"context"

	"github.com/opennotes/opennotes/internal/core/domain"
)

// Confidence bands attached to scoring results.
const (
	ConfidenceProvisional = "provisional"
	ConfidenceLow         = "low"
	ConfidenceStandard    = "standard"
	ConfidenceHigh        = "high"
)

// Community maturity tiers. MINIMAL uses the Bayesian scorer; everything
// from LIMITED up runs the matrix-factorization core.
const (
	TierMinimal      = "MINIMAL"
	TierLimited      = "LIMITED"
	TierBasic        = "BASIC"
	TierIntermediate = "INTERMEDIATE"
	TierAdvanced     = "ADVANCED"
	TierFull         = "FULL"
)

// ScoringResult is the transient outcome of scoring one note.
type ScoringResult struct {
	Score      float64
	Confidence string
	Metadata   map[string]any
}

// Scorer computes a score for one note from its ratings.
type Scorer interface {
	Name() string
	ScoreNote(ctx context.Context, noteID string, ratings []domain.Rating) (ScoringResult, error)
}

// ratingValue maps a helpfulness level onto [0,1].
func ratingValue(helpfulness string) float64 {
	switch helpfulness {
	case domain.HelpfulnessHelpful:
		return 1.0
	case domain.HelpfulnessSomewhatHelpful:
		return 0.5
	default:
		return 0.0
	}
}

// TierForNoteCount selects the community tier. The boundary is inclusive:
// exactly boundary notes already selects the matrix-factorization tier.
func TierForNoteCount(noteCount, boundary int) string {
	if noteCount < boundary {
		return TierMinimal
	}

	return TierFull
}

// usesMatrixFactorization reports whether a tier runs the MF core.
func usesMatrixFactorization(tier string) bool {
	return tier != TierMinimal
}

// StatusForScore derives the persisted note status from a score and the
// number of ratings behind it.
func StatusForScore(score float64, ratingCount, minRatings int) string {
	if ratingCount < minRatings {
		return domain.NoteStatusNeedsMoreRatings
	}

	if score >= 0.5 {
		return domain.NoteStatusRatedHelpful
	}

	return domain.NoteStatusRatedNotHelpful
}

// PersistedScore converts a [0,1] score into the stored integer in
// [0,100].
func PersistedScore(score float64) int {
	if score < 0 {
		score = 0
	}

	if score > 1 {
		score = 1
	}

	return int(score * 100)
}
