package scoring

import (
	"context"

	"github.com/opennotes/opennotes/internal/core/domain"
)

// BayesianScorer pulls the plain rating average toward a global prior. With
// few ratings the prior dominates; the influence fades as ratings arrive.
type BayesianScorer struct {
	priorMean   float64
	priorWeight float64
	minRatings  int
}

// NewBayesianScorer creates the small-community scorer.
func NewBayesianScorer(priorMean, priorWeight float64, minRatings int) *BayesianScorer {
	if priorMean <= 0 {
		priorMean = 0.5
	}

	if priorWeight <= 0 {
		priorWeight = 10
	}

	if minRatings <= 0 {
		minRatings = 5
	}

	return &BayesianScorer{priorMean: priorMean, priorWeight: priorWeight, minRatings: minRatings}
}

// Name implements Scorer.
func (s *BayesianScorer) Name() string { return "bayesian_average" }

// ScoreNote computes the prior-pulled average of the note's ratings.
func (s *BayesianScorer) ScoreNote(_ context.Context, noteID string, ratings []domain.Rating) (ScoringResult, error) {
	var sum float64

	for _, r := range ratings {
		sum += ratingValue(r.Helpfulness)
	}

	n := float64(len(ratings))
	score := (s.priorMean*s.priorWeight + sum) / (s.priorWeight + n)

	confidence := ConfidenceStandard
	if len(ratings) < s.minRatings {
		confidence = ConfidenceProvisional
	}

	return ScoringResult{
		Score:      score,
		Confidence: confidence,
		Metadata: map[string]any{
			"algorithm":    s.Name(),
			"note_id":      noteID,
			"rating_count": len(ratings),
			"tier":         TierMinimal,
		},
	}, nil
}
