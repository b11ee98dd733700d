package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/opennotes/opennotes/internal/core/domain"
	apperrors "github.com/opennotes/opennotes/internal/core/errors"
)

// CreateNote stores a new note and returns it with generated fields.
func (db *DB) CreateNote(ctx context.Context, note domain.Note) (*domain.Note, error) {
	var requestID pgtype.UUID
	if note.RequestID != "" {
		requestID = toUUID(note.RequestID)
	}

	row := db.Pool.QueryRow(ctx, `
		INSERT INTO notes (community_id, author_id, summary, classification, status, request_id, ai_generated, force_published)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, community_id, author_id, summary, classification, status,
		          helpfulness_score, request_id, ai_generated, force_published, created_at, updated_at
	`, toUUID(note.CommunityID), toUUID(note.AuthorID), SanitizeUTF8(note.Summary),
		note.Classification, domain.NoteStatusNeedsMoreRatings, requestID, note.AIGenerated, note.ForcePublished)

	created, err := scanNote(row)
	if err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}

	return created, nil
}

// GetNote fetches one note by id.
func (db *DB) GetNote(ctx context.Context, id string) (*domain.Note, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, community_id, author_id, summary, classification, status,
		       helpfulness_score, request_id, ai_generated, force_published, created_at, updated_at
		FROM notes
		WHERE id = $1
	`, toUUID(id))

	note, err := scanNote(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNoteNotFound
		}

		return nil, fmt.Errorf("get note: %w", err)
	}

	return note, nil
}

// NoteFilter narrows ListNotes.
type NoteFilter struct {
	Status         string
	Classification string
	AuthorID       string
}

// ListNotes returns a page of a community's notes, newest first, plus the
// total count for pagination metadata.
func (db *DB) ListNotes(ctx context.Context, communityID string, filter NoteFilter, limit, offset int) ([]domain.Note, int, error) {
	where := `WHERE community_id = $1
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR classification = $3)
		  AND ($4::uuid IS NULL OR author_id = $4)`

	var authorID pgtype.UUID
	if filter.AuthorID != "" {
		authorID = toUUID(filter.AuthorID)
	}

	var total int

	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notes `+where,
		toUUID(communityID), filter.Status, filter.Classification, authorID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count notes: %w", err)
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, community_id, author_id, summary, classification, status,
		       helpfulness_score, request_id, ai_generated, force_published, created_at, updated_at
		FROM notes
		`+where+`
		ORDER BY created_at DESC
		LIMIT $5 OFFSET $6
	`, toUUID(communityID), filter.Status, filter.Classification, authorID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []domain.Note

	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan note: %w", err)
		}

		notes = append(notes, *note)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate notes: %w", err)
	}

	return notes, total, nil
}

// CountNotes returns the community's total note count. The scorer uses it
// for tier selection.
func (db *DB) CountNotes(ctx context.Context, communityID string) (int, error) {
	var count int

	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notes WHERE community_id = $1
	`, toUUID(communityID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count notes: %w", err)
	}

	return count, nil
}

// UpdateNoteScore writes the derived score and status after a recompute.
func (db *DB) UpdateNoteScore(ctx context.Context, noteID string, score int, status string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE notes
		SET helpfulness_score = $2, status = $3, updated_at = now()
		WHERE id = $1
	`, toUUID(noteID), score, status)
	if err != nil {
		return fmt.Errorf("update note score: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return apperrors.ErrNoteNotFound
	}

	return nil
}

// SetForcePublished toggles the moderator publish override.
func (db *DB) SetForcePublished(ctx context.Context, noteID string, forced bool) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE notes SET force_published = $2, updated_at = now() WHERE id = $1
	`, toUUID(noteID), forced)
	if err != nil {
		return fmt.Errorf("set force published: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return apperrors.ErrNoteNotFound
	}

	return nil
}

// DeleteNote removes a note and its ratings (via cascade).
func (db *DB) DeleteNote(ctx context.Context, noteID string) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM notes WHERE id = $1`, toUUID(noteID))
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return apperrors.ErrNoteNotFound
	}

	return nil
}

// ClearNotes deletes a community's notes except those that are published:
// currently rated helpful or force-published. Returns the deleted count.
func (db *DB) ClearNotes(ctx context.Context, communityID string) (int, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM notes
		WHERE community_id = $1
		  AND status <> $2
		  AND NOT force_published
	`, toUUID(communityID), domain.NoteStatusRatedHelpful)
	if err != nil {
		return 0, fmt.Errorf("clear notes: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func scanNote(row pgx.Row) (*domain.Note, error) {
	var (
		note      domain.Note
		authorID  pgtype.UUID
		requestID pgtype.UUID
	)

	err := row.Scan(&note.ID, &note.CommunityID, &authorID, &note.Summary, &note.Classification,
		&note.Status, &note.HelpfulnessScore, &requestID, &note.AIGenerated, &note.ForcePublished,
		&note.CreatedAt, &note.UpdatedAt)
	if err != nil {
		return nil, err
	}

	note.AuthorID = fromUUID(authorID)
	note.RequestID = fromUUID(requestID)

	return &note, nil
}
