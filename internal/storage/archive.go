package storage

import (
	"context"
	"fmt"

	"github.com/opennotes/opennotes/internal/core/domain"
)

// ArchiveMessage stores a scanned message. Duplicate (community, channel,
// message) triples are ignored.
func (db *DB) ArchiveMessage(ctx context.Context, msg domain.ArchivedMessage) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO message_archive (community_id, channel_id, message_id, author, content)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (community_id, channel_id, message_id) DO NOTHING
	`, toUUID(msg.CommunityID), msg.ChannelID, msg.MessageID, toText(msg.Author), SanitizeUTF8(msg.Content))
	if err != nil {
		return fmt.Errorf("archive message: %w", err)
	}

	return nil
}
