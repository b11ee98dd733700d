package scoring

import (
	"math"

	"github.com/opennotes/opennotes/internal/core/domain"
)

// Matrix-factorization hyperparameters. The run is fully deterministic:
// fixed initialization, fixed iteration counts, ratings consumed in
// insertion order.
const (
	mfPrescoreEpochs = 30
	mfFinalEpochs    = 50
	mfLearningRate   = 0.05
	mfRegularization = 0.1
	mfFactorInit     = 0.1

	// Note intercept bounds observed by the final phase; the adapter
	// normalizes this interval linearly onto [0,1].
	mfInterceptMin = -0.4
	mfInterceptMax = 0.7

	// rating_status cutoffs on the raw intercept scale.
	mfHelpfulCutoff    = 0.40
	mfNotHelpfulCutoff = -0.05
)

// frame is the column-major tabular input of the MF core. Note and rater
// UUIDs are mapped to dense int64 indices; noteIDOf reverses the mapping.
type frame struct {
	noteIdx  []int64
	raterIdx []int64
	values   []float64

	noteIDOf  []string
	raterIDOf []string
}

// noteResult is the raw per-note output of the MF run.
type noteResult struct {
	NoteID       string
	Intercept    float64
	Factor       float64
	RatingStatus string
	RatingCount  int
}

// buildFrame converts ratings into the column-major frame, assigning dense
// indices in first-seen order so identical inputs produce identical frames.
func buildFrame(ratings []domain.Rating) frame {
	noteIndex := make(map[string]int64)
	raterIndex := make(map[string]int64)

	f := frame{
		noteIdx:  make([]int64, 0, len(ratings)),
		raterIdx: make([]int64, 0, len(ratings)),
		values:   make([]float64, 0, len(ratings)),
	}

	for _, r := range ratings {
		ni, ok := noteIndex[r.NoteID]
		if !ok {
			ni = int64(len(f.noteIDOf))
			noteIndex[r.NoteID] = ni
			f.noteIDOf = append(f.noteIDOf, r.NoteID)
		}

		ri, ok := raterIndex[r.RaterProfileID]
		if !ok {
			ri = int64(len(f.raterIDOf))
			raterIndex[r.RaterProfileID] = ri
			f.raterIDOf = append(f.raterIDOf, r.RaterProfileID)
		}

		f.noteIdx = append(f.noteIdx, ni)
		f.raterIdx = append(f.raterIdx, ri)
		f.values = append(f.values, ratingValue(r.Helpfulness))
	}

	return f
}

// runMF executes the two-phase batch algorithm: prescore fits global mean
// and intercepts only; score_final adds one latent factor per note and
// rater on top of the prescore intercepts.
func runMF(f frame) []noteResult {
	nNotes := len(f.noteIDOf)
	nRaters := len(f.raterIDOf)

	if nNotes == 0 {
		return nil
	}

	var mu float64
	for _, v := range f.values {
		mu += v
	}
	mu /= float64(len(f.values))

	noteIntercept := make([]float64, nNotes)
	raterIntercept := make([]float64, nRaters)

	// Phase one: intercept-only fit.
	for epoch := 0; epoch < mfPrescoreEpochs; epoch++ {
		for i := range f.values {
			ni, ri := f.noteIdx[i], f.raterIdx[i]

			pred := mu + noteIntercept[ni] + raterIntercept[ri]
			err := f.values[i] - pred

			noteIntercept[ni] += mfLearningRate * (err - mfRegularization*noteIntercept[ni])
			raterIntercept[ri] += mfLearningRate * (err - mfRegularization*raterIntercept[ri])
		}
	}

	noteFactor := make([]float64, nNotes)
	raterFactor := make([]float64, nRaters)

	for i := range noteFactor {
		noteFactor[i] = mfFactorInit
	}

	for i := range raterFactor {
		raterFactor[i] = mfFactorInit
	}

	// Phase two: joint fit with one latent factor.
	for epoch := 0; epoch < mfFinalEpochs; epoch++ {
		for i := range f.values {
			ni, ri := f.noteIdx[i], f.raterIdx[i]

			pred := mu + noteIntercept[ni] + raterIntercept[ri] + noteFactor[ni]*raterFactor[ri]
			err := f.values[i] - pred

			nf, rf := noteFactor[ni], raterFactor[ri]

			noteIntercept[ni] += mfLearningRate * (err - mfRegularization*noteIntercept[ni])
			raterIntercept[ri] += mfLearningRate * (err - mfRegularization*raterIntercept[ri])
			noteFactor[ni] += mfLearningRate * (err*rf - mfRegularization*nf)
			raterFactor[ri] += mfLearningRate * (err*nf - mfRegularization*rf)
		}
	}

	counts := make([]int, nNotes)
	for _, ni := range f.noteIdx {
		counts[ni]++
	}

	out := make([]noteResult, nNotes)

	for i := 0; i < nNotes; i++ {
		out[i] = noteResult{
			NoteID:       f.noteIDOf[i],
			Intercept:    noteIntercept[i],
			Factor:       noteFactor[i],
			RatingStatus: ratingStatusFor(noteIntercept[i]),
			RatingCount:  counts[i],
		}
	}

	return out
}

func ratingStatusFor(intercept float64) string {
	switch {
	case intercept >= mfHelpfulCutoff:
		return domain.NoteStatusRatedHelpful
	case intercept <= mfNotHelpfulCutoff:
		return domain.NoteStatusRatedNotHelpful
	default:
		return domain.NoteStatusNeedsMoreRatings
	}
}

// normalizeIntercept maps the raw intercept interval [-0.4, 0.7] linearly
// onto [0,1], clamping outliers.
func normalizeIntercept(intercept float64) float64 {
	normalized := (intercept - mfInterceptMin) / (mfInterceptMax - mfInterceptMin)

	return math.Min(1, math.Max(0, normalized))
}

// confidenceForStatus maps the MF rating_status onto the confidence band.
func confidenceForStatus(status string) string {
	switch status {
	case domain.NoteStatusRatedHelpful:
		return ConfidenceHigh
	case domain.NoteStatusRatedNotHelpful:
		return ConfidenceStandard
	default:
		return ConfidenceProvisional
	}
}
