package storage

import (
	"context"
	"fmt"

	"github.com/opennotes/opennotes/internal/platform/observability"
)

// OutboxEntry is one pending score-recompute request.
type OutboxEntry struct {
	ID          int64
	NoteID      string
	CommunityID string
	Attempts    int
}

// EnqueueScoreRecompute records that a note's score must be recomputed.
// The insert runs after the rating mutation has committed; callers log an
// enqueue failure instead of rolling the mutation back, and the next rating
// event on the note enqueues a fresh recompute.
func (db *DB) EnqueueScoreRecompute(ctx context.Context, noteID, communityID string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO score_outbox (note_id, community_id) VALUES ($1, $2)
	`, toUUID(noteID), toUUID(communityID))
	if err != nil {
		return fmt.Errorf("enqueue score recompute: %w", err)
	}

	return nil
}

// ClaimScoreRecomputes picks up to limit unprocessed outbox entries,
// skipping rows locked by other workers.
func (db *DB) ClaimScoreRecomputes(ctx context.Context, limit int) ([]OutboxEntry, error) {
	rows, err := db.Pool.Query(ctx, `
		UPDATE score_outbox
		SET attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM score_outbox
			WHERE processed_at IS NULL
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		RETURNING id, note_id, community_id, attempts
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim score recomputes: %w", err)
	}
	defer rows.Close()

	var out []OutboxEntry

	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.NoteID, &e.CommunityID, &e.Attempts); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}

		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}

	return out, nil
}

// MarkScoreRecomputeDone marks an outbox entry processed.
func (db *DB) MarkScoreRecomputeDone(ctx context.Context, id int64) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE score_outbox SET processed_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark score recompute done: %w", err)
	}

	observability.OutboxProcessed.WithLabelValues("done").Inc()

	return nil
}

// CountPendingScoreRecomputes reports the outbox backlog for metrics.
func (db *DB) CountPendingScoreRecomputes(ctx context.Context) (int, error) {
	var count int

	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM score_outbox WHERE processed_at IS NULL
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending score recomputes: %w", err)
	}

	return count, nil
}
