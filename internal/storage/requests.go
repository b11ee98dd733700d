package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/opennotes/opennotes/internal/core/domain"
	apperrors "github.com/opennotes/opennotes/internal/core/errors"
)

// CreateRequest stores a note request. Duplicate request_id values return
// the existing row unchanged, so retried submissions stay idempotent.
func (db *DB) CreateRequest(ctx context.Context, req domain.Request) (*domain.Request, error) {
	var (
		itemID      pgtype.UUID
		requestedBy pgtype.UUID
	)

	if req.DatasetItemID != "" {
		itemID = toUUID(req.DatasetItemID)
	}

	if req.RequestedBy != "" {
		requestedBy = toUUID(req.RequestedBy)
	}

	row := db.Pool.QueryRow(ctx, `
		INSERT INTO requests (request_id, community_id, requested_by, content, dataset_item_id, similarity_score, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (request_id) DO UPDATE SET updated_at = requests.updated_at
		RETURNING id, request_id, community_id, requested_by, content, dataset_item_id,
		          COALESCE(similarity_score, 0), status, created_at, updated_at
	`, req.RequestID, toUUID(req.CommunityID), requestedBy, SanitizeUTF8(req.Content),
		itemID, toFloat4(req.SimilarityScore), domain.RequestStatusPending)

	out, err := scanRequest(row)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return out, nil
}

// GetRequestByRequestID fetches a request by its external string id.
func (db *DB) GetRequestByRequestID(ctx context.Context, requestID string) (*domain.Request, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, request_id, community_id, requested_by, content, dataset_item_id,
		       COALESCE(similarity_score, 0), status, created_at, updated_at
		FROM requests
		WHERE request_id = $1
	`, requestID)

	out, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}

		return nil, fmt.Errorf("get request: %w", err)
	}

	return out, nil
}

// ListRequests returns a page of a community's requests, newest first.
func (db *DB) ListRequests(ctx context.Context, communityID, status string, limit, offset int) ([]domain.Request, int, error) {
	var total int

	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM requests WHERE community_id = $1 AND ($2 = '' OR status = $2)
	`, toUUID(communityID), status).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, request_id, community_id, requested_by, content, dataset_item_id,
		       COALESCE(similarity_score, 0), status, created_at, updated_at
		FROM requests
		WHERE community_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, toUUID(communityID), status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []domain.Request

	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan request: %w", err)
		}

		out = append(out, *req)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate requests: %w", err)
	}

	return out, total, nil
}

// UpdateRequestStatus transitions a request.
func (db *DB) UpdateRequestStatus(ctx context.Context, requestID, status string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE requests SET status = $2, updated_at = now() WHERE request_id = $1
	`, requestID, status)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// ClearRequests deletes all of a community's requests and returns the count.
func (db *DB) ClearRequests(ctx context.Context, communityID string) (int, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM requests WHERE community_id = $1
	`, toUUID(communityID))
	if err != nil {
		return 0, fmt.Errorf("clear requests: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// ClearRequestsBefore deletes the community's requests created before the
// cutoff and returns the count.
func (db *DB) ClearRequestsBefore(ctx context.Context, communityID string, before time.Time) (int, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM requests WHERE community_id = $1 AND created_at < $2
	`, toUUID(communityID), toTimestamptz(before))
	if err != nil {
		return 0, fmt.Errorf("clear requests before: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func scanRequest(row pgx.Row) (*domain.Request, error) {
	var (
		req         domain.Request
		requestedBy pgtype.UUID
		itemID      pgtype.UUID
	)

	err := row.Scan(&req.ID, &req.RequestID, &req.CommunityID, &requestedBy, &req.Content,
		&itemID, &req.SimilarityScore, &req.Status, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return nil, err
	}

	req.RequestedBy = fromUUID(requestedBy)
	req.DatasetItemID = fromUUID(itemID)

	return &req, nil
}
