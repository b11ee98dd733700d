package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	apperrors "github.com/opennotes/opennotes/internal/core/errors"
	"github.com/opennotes/opennotes/internal/platform/observability"
)

// Bulk scan status constants.
const (
	ScanStatusPending   = "pending"
	ScanStatusRunning   = "running"
	ScanStatusCompleted = "completed"
	ScanStatusFailed    = "failed"
)

// BulkScan is one scan run over a channel's messages.
type BulkScan struct {
	ID             string
	CommunityID    string
	ChannelID      string
	InitiatedBy    string
	Status         string
	Debug          bool
	MessageCount   int
	CandidateCount int
	FlaggedCount   int
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// FlaggedMessage is one message that passed the relevance filter, stored
// under its scan id with a TTL.
type FlaggedMessage struct {
	ID                 string
	ScanID             string
	MessageID          string
	Content            string
	ScanType           string
	Score              float32
	MatchedContent     string
	MatchedSource      string
	RelevanceReasoning string
	RawMatch           json.RawMessage
	CreatedAt          time.Time
	ExpiresAt          time.Time
}

// CreateScan inserts a pending bulk scan row.
func (db *DB) CreateScan(ctx context.Context, communityID, channelID, initiatedBy string, debug bool) (*BulkScan, error) {
	var initiator pgtype.UUID
	if initiatedBy != "" {
		initiator = toUUID(initiatedBy)
	}

	row := db.Pool.QueryRow(ctx, `
		INSERT INTO bulk_scans (community_id, channel_id, initiated_by, status, debug)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, community_id, channel_id, initiated_by, status, debug,
		          message_count, candidate_count, flagged_count, created_at, completed_at
	`, toUUID(communityID), channelID, initiator, ScanStatusPending, debug)

	scan, err := scanBulkScan(row)
	if err != nil {
		return nil, fmt.Errorf("create scan: %w", err)
	}

	return scan, nil
}

// GetScan fetches one bulk scan by id.
func (db *DB) GetScan(ctx context.Context, id string) (*BulkScan, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, community_id, channel_id, initiated_by, status, debug,
		       message_count, candidate_count, flagged_count, created_at, completed_at
		FROM bulk_scans
		WHERE id = $1
	`, toUUID(id))

	scan, err := scanBulkScan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrScanNotFound
		}

		return nil, fmt.Errorf("get scan: %w", err)
	}

	return scan, nil
}

// FinishScan records counts and final status for a scan run.
func (db *DB) FinishScan(ctx context.Context, id, status string, messages, candidates, flagged int) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE bulk_scans
		SET status = $2, message_count = $3, candidate_count = $4, flagged_count = $5, completed_at = now()
		WHERE id = $1
	`, toUUID(id), status, messages, candidates, flagged)
	if err != nil {
		return fmt.Errorf("finish scan: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return apperrors.ErrScanNotFound
	}

	return nil
}

// MarkScanRunning transitions a pending scan to running.
func (db *DB) MarkScanRunning(ctx context.Context, id string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE bulk_scans SET status = $2 WHERE id = $1 AND status = $3
	`, toUUID(id), ScanStatusRunning, ScanStatusPending)
	if err != nil {
		return fmt.Errorf("mark scan running: %w", err)
	}

	return nil
}

// AppendFlaggedMessage stores one flagged message under its scan id.
func (db *DB) AppendFlaggedMessage(ctx context.Context, msg FlaggedMessage) error {
	raw := msg.RawMatch
	if raw == nil {
		raw = json.RawMessage(`{}`)
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO scan_flagged_messages
			(scan_id, message_id, content, scan_type, score, matched_content,
			 matched_source, relevance_reasoning, raw_match, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, toUUID(msg.ScanID), msg.MessageID, SanitizeUTF8(msg.Content), msg.ScanType, toFloat4(msg.Score),
		toText(msg.MatchedContent), toText(msg.MatchedSource), toText(msg.RelevanceReasoning),
		raw, toTimestamptz(msg.ExpiresAt))
	if err != nil {
		return fmt.Errorf("append flagged message: %w", err)
	}

	return nil
}

// ListFlaggedMessages returns the unexpired flagged messages of a scan.
func (db *DB) ListFlaggedMessages(ctx context.Context, scanID string) ([]FlaggedMessage, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, scan_id, message_id, content, scan_type, score,
		       COALESCE(matched_content, ''), COALESCE(matched_source, ''),
		       COALESCE(relevance_reasoning, ''), raw_match, created_at, expires_at
		FROM scan_flagged_messages
		WHERE scan_id = $1 AND expires_at > now()
		ORDER BY created_at
	`, toUUID(scanID))
	if err != nil {
		return nil, fmt.Errorf("list flagged messages: %w", err)
	}
	defer rows.Close()

	var out []FlaggedMessage

	for rows.Next() {
		var m FlaggedMessage
		if err := rows.Scan(&m.ID, &m.ScanID, &m.MessageID, &m.Content, &m.ScanType, &m.Score,
			&m.MatchedContent, &m.MatchedSource, &m.RelevanceReasoning, &m.RawMatch,
			&m.CreatedAt, &m.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan flagged message: %w", err)
		}

		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flagged messages: %w", err)
	}

	return out, nil
}

// SweepExpiredFlagged deletes flagged messages past their TTL and returns
// the count removed.
func (db *DB) SweepExpiredFlagged(ctx context.Context) (int, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM scan_flagged_messages WHERE expires_at <= now()
	`)
	if err != nil {
		return 0, fmt.Errorf("sweep expired flagged: %w", err)
	}

	removed := int(tag.RowsAffected())
	observability.FlaggedSwept.Add(float64(removed))

	return removed, nil
}

func scanBulkScan(row pgx.Row) (*BulkScan, error) {
	var (
		scan        BulkScan
		initiator   pgtype.UUID
		completedAt pgtype.Timestamptz
	)

	err := row.Scan(&scan.ID, &scan.CommunityID, &scan.ChannelID, &initiator, &scan.Status, &scan.Debug,
		&scan.MessageCount, &scan.CandidateCount, &scan.FlaggedCount, &scan.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	scan.InitiatedBy = fromUUID(initiator)
	scan.CompletedAt = fromTimestamptzPtr(completedAt)

	return &scan, nil
}
