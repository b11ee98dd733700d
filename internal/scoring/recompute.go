package scoring

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/opennotes/opennotes/internal/core/domain"
	"github.com/opennotes/opennotes/internal/platform/observability"
)

// NoteStore is the persistence surface score recomputation needs.
type NoteStore interface {
	GetNote(ctx context.Context, id string) (*domain.Note, error)
	ListRatingsForNote(ctx context.Context, noteID string) ([]domain.Rating, error)
	CountNotes(ctx context.Context, communityID string) (int, error)
	UpdateNoteScore(ctx context.Context, noteID string, score int, status string) error
}

// Recomputer recomputes one note's derived score and status. Every rating
// mutation must be followed by a recompute, either inline or through the
// score outbox.
type Recomputer struct {
	store   NoteStore
	factory *Factory
	logger  *zerolog.Logger
}

// NewRecomputer creates a recomputer over the scorer factory.
func NewRecomputer(store NoteStore, factory *Factory, logger *zerolog.Logger) *Recomputer {
	return &Recomputer{store: store, factory: factory, logger: logger}
}

// Recompute scores the note and persists the derived status and integer
// score. It returns the fresh scoring result.
func (r *Recomputer) Recompute(ctx context.Context, noteID string) (*ScoringResult, error) {
	note, err := r.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("load note: %w", err)
	}

	ratings, err := r.store.ListRatingsForNote(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("load ratings: %w", err)
	}

	noteCount, err := r.store.CountNotes(ctx, note.CommunityID)
	if err != nil {
		return nil, fmt.Errorf("count notes: %w", err)
	}

	scorer := r.factory.ScorerFor(note.CommunityID, noteCount, "")

	result, err := scorer.ScoreNote(ctx, noteID, ratings)
	if err != nil {
		return nil, fmt.Errorf("score note: %w", err)
	}

	status := StatusForScore(result.Score, len(ratings), r.factory.MinRatings())
	persisted := PersistedScore(result.Score)

	if err := r.store.UpdateNoteScore(ctx, noteID, persisted, status); err != nil {
		return nil, fmt.Errorf("persist score: %w", err)
	}

	observability.NoteScoreRecomputes.WithLabelValues(scorer.Name()).Inc()

	r.logger.Debug().
		Str("note_id", noteID).
		Str("algorithm", scorer.Name()).
		Int("score", persisted).
		Str("status", status).
		Int("rating_count", len(ratings)).
		Msg("note score recomputed")

	return &result, nil
}
