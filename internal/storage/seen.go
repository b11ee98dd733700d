package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/opennotes/opennotes/internal/core/domain"
)

// RecordPreviouslySeen appends a previously-seen row. A duplicate
// original_message_id within the community is a no-op; the existing row id
// is returned either way.
func (db *DB) RecordPreviouslySeen(ctx context.Context, msg domain.PreviouslySeenMessage) (string, error) {
	var noteID pgtype.UUID
	if msg.NoteID != "" {
		noteID = toUUID(msg.NoteID)
	}

	metadata := msg.Metadata
	if metadata == nil {
		metadata = json.RawMessage(`{}`)
	}

	var id string

	err := db.Pool.QueryRow(ctx, `
		WITH inserted AS (
			INSERT INTO previously_seen_messages
				(community_id, original_message_id, note_id, embedding, provider, model, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (community_id, original_message_id) DO NOTHING
			RETURNING id
		)
		SELECT id FROM inserted
		UNION ALL
		SELECT id FROM previously_seen_messages
		WHERE community_id = $1 AND original_message_id = $2
		LIMIT 1
	`, toUUID(msg.CommunityID), msg.OriginalMessageID, noteID,
		pgvector.NewVector(msg.Embedding), msg.Provider, msg.Model, metadata).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("record previously seen: %w", err)
	}

	return id, nil
}

// SeenMatch is one previously-seen hit with its cosine similarity.
type SeenMatch struct {
	ID                string
	OriginalMessageID string
	NoteID            string
	Score             float64
	CreatedAt         pgtype.Timestamptz
}

// SearchPreviouslySeen returns the top-K most similar previously-seen rows
// within the community. Rows from other communities are never considered.
func (db *DB) SearchPreviouslySeen(ctx context.Context, communityID string, embedding []float32, limit int) ([]SeenMatch, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, original_message_id, note_id,
		       1 - (embedding <=> $2::vector) AS similarity, created_at
		FROM previously_seen_messages
		WHERE community_id = $1
		ORDER BY embedding <=> $2::vector
		LIMIT $3
	`, toUUID(communityID), pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("search previously seen: %w", err)
	}
	defer rows.Close()

	var out []SeenMatch

	for rows.Next() {
		var (
			m      SeenMatch
			noteID pgtype.UUID
		)

		if err := rows.Scan(&m.ID, &m.OriginalMessageID, &noteID, &m.Score, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan previously seen match: %w", err)
		}

		m.NoteID = fromUUID(noteID)
		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate previously seen matches: %w", err)
	}

	return out, nil
}

// ListPreviouslySeenIDs enumerates a community's previously-seen rows for
// the rechunk workflow. Empty communityID lists all communities.
func (db *DB) ListPreviouslySeenIDs(ctx context.Context, communityID string) ([]string, error) {
	query := `SELECT id FROM previously_seen_messages ORDER BY created_at`
	args := []any{}

	if communityID != "" {
		query = `SELECT id FROM previously_seen_messages WHERE community_id = $1 ORDER BY created_at`
		args = append(args, toUUID(communityID))
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list previously seen ids: %w", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan previously seen id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate previously seen ids: %w", err)
	}

	return ids, nil
}

// GetPreviouslySeenContent returns the original note summary text for one
// previously-seen row, used when re-embedding during a rechunk.
func (db *DB) GetPreviouslySeenContent(ctx context.Context, id string) (string, string, error) {
	var (
		communityID string
		content     string
	)

	err := db.Pool.QueryRow(ctx, `
		SELECT p.community_id, COALESCE(n.summary, p.metadata->>'content', '')
		FROM previously_seen_messages p
		LEFT JOIN notes n ON n.id = p.note_id
		WHERE p.id = $1
	`, toUUID(id)).Scan(&communityID, &content)
	if err != nil {
		return "", "", fmt.Errorf("get previously seen content: %w", err)
	}

	return communityID, content, nil
}

// UpdatePreviouslySeenEmbedding replaces the stored vector after a rechunk.
func (db *DB) UpdatePreviouslySeenEmbedding(ctx context.Context, id string, embedding []float32, provider, model string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE previously_seen_messages
		SET embedding = $2, provider = $3, model = $4
		WHERE id = $1
	`, toUUID(id), pgvector.NewVector(embedding), provider, model)
	if err != nil {
		return fmt.Errorf("update previously seen embedding: %w", err)
	}

	return nil
}
