package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/opennotes/opennotes/internal/core/domain"
	apperrors "github.com/opennotes/opennotes/internal/core/errors"
	"github.com/opennotes/opennotes/internal/platform/observability"
)

// UpsertRating stores one member's helpfulness judgment of a note.
// Re-rating updates the existing row in place. The note row is locked for
// the duration so concurrent recomputes observe a consistent rating set.
func (db *DB) UpsertRating(ctx context.Context, rating domain.Rating) (*domain.Rating, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin upsert rating: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var exists bool

	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM notes WHERE id = $1 FOR UPDATE)`, toUUID(rating.NoteID)).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("lock note for rating: %w", err)
	}

	if !exists {
		return nil, apperrors.ErrNoteNotFound
	}

	var out domain.Rating

	err = tx.QueryRow(ctx, `
		INSERT INTO ratings (note_id, rater_profile_id, helpfulness)
		VALUES ($1, $2, $3)
		ON CONFLICT (note_id, rater_profile_id)
		DO UPDATE SET helpfulness = EXCLUDED.helpfulness, updated_at = now()
		RETURNING id, note_id, rater_profile_id, helpfulness, created_at, updated_at
	`, toUUID(rating.NoteID), toUUID(rating.RaterProfileID), rating.Helpfulness).Scan(
		&out.ID, &out.NoteID, &out.RaterProfileID, &out.Helpfulness, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert rating: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit upsert rating: %w", err)
	}

	observability.RatingsUpserted.WithLabelValues(rating.Helpfulness).Inc()

	return &out, nil
}

// ListRatingsForNote returns all ratings of a note, oldest first.
func (db *DB) ListRatingsForNote(ctx context.Context, noteID string) ([]domain.Rating, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, note_id, rater_profile_id, helpfulness, created_at, updated_at
		FROM ratings
		WHERE note_id = $1
		ORDER BY created_at
	`, toUUID(noteID))
	if err != nil {
		return nil, fmt.Errorf("list ratings for note: %w", err)
	}
	defer rows.Close()

	return scanRatings(rows)
}

// ListRatingsForCommunity returns every rating of the community's notes.
// The matrix-factorization scorer consumes this as its training set.
func (db *DB) ListRatingsForCommunity(ctx context.Context, communityID string) ([]domain.Rating, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT r.id, r.note_id, r.rater_profile_id, r.helpfulness, r.created_at, r.updated_at
		FROM ratings r
		JOIN notes n ON n.id = r.note_id
		WHERE n.community_id = $1
		ORDER BY r.created_at
	`, toUUID(communityID))
	if err != nil {
		return nil, fmt.Errorf("list ratings for community: %w", err)
	}
	defer rows.Close()

	return scanRatings(rows)
}

// DeleteRating removes a rating by id. Returns the note id so the caller
// can trigger a recompute.
func (db *DB) DeleteRating(ctx context.Context, ratingID string) (string, error) {
	var noteID string

	err := db.Pool.QueryRow(ctx, `
		DELETE FROM ratings WHERE id = $1 RETURNING note_id
	`, toUUID(ratingID)).Scan(&noteID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.ErrNotFound
		}

		return "", fmt.Errorf("delete rating: %w", err)
	}

	return noteID, nil
}

// GetRating fetches one rating by id.
func (db *DB) GetRating(ctx context.Context, ratingID string) (*domain.Rating, error) {
	var out domain.Rating

	err := db.Pool.QueryRow(ctx, `
		SELECT id, note_id, rater_profile_id, helpfulness, created_at, updated_at
		FROM ratings
		WHERE id = $1
	`, toUUID(ratingID)).Scan(&out.ID, &out.NoteID, &out.RaterProfileID, &out.Helpfulness, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}

		return nil, fmt.Errorf("get rating: %w", err)
	}

	return &out, nil
}

// RatingStats summarizes the rating distribution of one note.
type RatingStats struct {
	NoteID        string
	Total         int
	Helpful       int
	SomewhatCount int
	NotHelpful    int
}

// GetRatingStats aggregates rating counts for a note.
func (db *DB) GetRatingStats(ctx context.Context, noteID string) (*RatingStats, error) {
	stats := RatingStats{NoteID: noteID}

	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE helpfulness = $2),
		       COUNT(*) FILTER (WHERE helpfulness = $3),
		       COUNT(*) FILTER (WHERE helpfulness = $4)
		FROM ratings
		WHERE note_id = $1
	`, toUUID(noteID), domain.HelpfulnessHelpful, domain.HelpfulnessSomewhatHelpful, domain.HelpfulnessNotHelpful).Scan(
		&stats.Total, &stats.Helpful, &stats.SomewhatCount, &stats.NotHelpful)
	if err != nil {
		return nil, fmt.Errorf("get rating stats: %w", err)
	}

	return &stats, nil
}

// CommunityRatingsVersion returns a value that changes whenever the
// community's rating set changes. The scorer uses it to invalidate cached
// batch results.
func (db *DB) CommunityRatingsVersion(ctx context.Context, communityID string) (int64, error) {
	var (
		count   int64
		maxUnix int64
	)

	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(EXTRACT(EPOCH FROM MAX(r.updated_at))::bigint, 0)
		FROM ratings r
		JOIN notes n ON n.id = r.note_id
		WHERE n.community_id = $1
	`, toUUID(communityID)).Scan(&count, &maxUnix)
	if err != nil {
		return 0, fmt.Errorf("community ratings version: %w", err)
	}

	return count<<32 ^ maxUnix, nil
}

func scanRatings(rows pgx.Rows) ([]domain.Rating, error) {
	var out []domain.Rating

	for rows.Next() {
		var r domain.Rating
		if err := rows.Scan(&r.ID, &r.NoteID, &r.RaterProfileID, &r.Helpfulness, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}

		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ratings: %w", err)
	}

	return out, nil
}
