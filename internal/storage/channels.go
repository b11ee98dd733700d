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

const channelColumns = `id, community_id, channel_id, enabled, similarity_threshold, dataset_tags,
	previously_seen_autopublish_threshold, previously_seen_autorequest_threshold, created_at, updated_at`

// UpsertChannel creates or updates a monitored channel configuration.
func (db *DB) UpsertChannel(ctx context.Context, ch domain.MonitoredChannel) (*domain.MonitoredChannel, error) {
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO monitored_channels
			(community_id, channel_id, enabled, similarity_threshold, dataset_tags,
			 previously_seen_autopublish_threshold, previously_seen_autorequest_threshold)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (community_id, channel_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			similarity_threshold = EXCLUDED.similarity_threshold,
			dataset_tags = EXCLUDED.dataset_tags,
			previously_seen_autopublish_threshold = EXCLUDED.previously_seen_autopublish_threshold,
			previously_seen_autorequest_threshold = EXCLUDED.previously_seen_autorequest_threshold,
			updated_at = now()
		RETURNING `+channelColumns,
		toUUID(ch.CommunityID), ch.ChannelID, ch.Enabled, toFloat4(ch.SimilarityThreshold),
		tagsOrEmpty(ch.DatasetTags), toFloat4Ptr(ch.AutoPublishThreshold), toFloat4Ptr(ch.AutoRequestThreshold))

	out, err := scanChannel(row)
	if err != nil {
		return nil, fmt.Errorf("upsert channel: %w", err)
	}

	return out, nil
}

// GetChannel fetches one monitored channel by community and platform
// channel id.
func (db *DB) GetChannel(ctx context.Context, communityID, channelID string) (*domain.MonitoredChannel, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+channelColumns+`
		FROM monitored_channels
		WHERE community_id = $1 AND channel_id = $2
	`, toUUID(communityID), channelID)

	out, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrChannelNotFound
		}

		return nil, fmt.Errorf("get channel: %w", err)
	}

	return out, nil
}

// GetChannelByID fetches one monitored channel by its row id.
func (db *DB) GetChannelByID(ctx context.Context, id string) (*domain.MonitoredChannel, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+channelColumns+`
		FROM monitored_channels
		WHERE id = $1
	`, toUUID(id))

	out, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrChannelNotFound
		}

		return nil, fmt.Errorf("get channel by id: %w", err)
	}

	return out, nil
}

// ListChannels returns all monitored channels of a community.
func (db *DB) ListChannels(ctx context.Context, communityID string) ([]domain.MonitoredChannel, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+channelColumns+`
		FROM monitored_channels
		WHERE community_id = $1
		ORDER BY channel_id
	`, toUUID(communityID))
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []domain.MonitoredChannel

	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}

		out = append(out, *ch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}

	return out, nil
}

// DeleteChannelByID removes a monitored channel by its row id.
func (db *DB) DeleteChannelByID(ctx context.Context, id string) error {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM monitored_channels WHERE id = $1
	`, toUUID(id))
	if err != nil {
		return fmt.Errorf("delete channel by id: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return apperrors.ErrChannelNotFound
	}

	return nil
}

func scanChannel(row pgx.Row) (*domain.MonitoredChannel, error) {
	var (
		ch          domain.MonitoredChannel
		autoPublish pgtype.Float4
		autoRequest pgtype.Float4
	)

	err := row.Scan(&ch.ID, &ch.CommunityID, &ch.ChannelID, &ch.Enabled, &ch.SimilarityThreshold,
		&ch.DatasetTags, &autoPublish, &autoRequest, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return nil, err
	}

	ch.AutoPublishThreshold = fromFloat4Ptr(autoPublish)
	ch.AutoRequestThreshold = fromFloat4Ptr(autoRequest)

	return &ch, nil
}
