package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/opennotes/opennotes/internal/core/domain"
)

// WriteAudit appends an audit entry. Failures are returned so the handler
// can log them; audit writes never abort the action they describe.
func (db *DB) WriteAudit(ctx context.Context, entry domain.AuditEntry) error {
	var (
		actor     pgtype.UUID
		community pgtype.UUID
	)

	if entry.ActorProfileID != "" {
		actor = toUUID(entry.ActorProfileID)
	}

	if entry.CommunityID != "" {
		community = toUUID(entry.CommunityID)
	}

	details := entry.Details
	if details == nil {
		details = json.RawMessage(`{}`)
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO audit_log (actor_profile_id, community_id, action, details)
		VALUES ($1, $2, $3, $4)
	`, actor, community, entry.Action, details)
	if err != nil {
		return fmt.Errorf("write audit: %w", err)
	}

	return nil
}

// ListAudit returns recent audit entries for a community, newest first.
func (db *DB) ListAudit(ctx context.Context, communityID string, limit int) ([]domain.AuditEntry, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, actor_profile_id, community_id, action, details, created_at
		FROM audit_log
		WHERE community_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, toUUID(communityID), limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry

	for rows.Next() {
		var (
			e         domain.AuditEntry
			actor     pgtype.UUID
			community pgtype.UUID
		)

		if err := rows.Scan(&e.ID, &actor, &community, &e.Action, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}

		e.ActorProfileID = fromUUID(actor)
		e.CommunityID = fromUUID(community)
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	return out, nil
}
