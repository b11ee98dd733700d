package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/opennotes/opennotes/internal/core/domain"
	apperrors "github.com/opennotes/opennotes/internal/core/errors"
)

// InsertItem stores a fact-check record and returns its id.
func (db *DB) InsertItem(ctx context.Context, item domain.FactCheckItem) (string, error) {
	var id string

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO fact_check_items (dataset, title, content, rating, source_url, tags)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, item.Dataset, SanitizeUTF8(item.Title), SanitizeUTF8(item.Content),
		toText(item.Rating), toText(item.SourceURL), item.Tags).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert fact check item: %w", err)
	}

	return id, nil
}

// GetItem fetches one fact-check item by id.
func (db *DB) GetItem(ctx context.Context, id string) (*domain.FactCheckItem, error) {
	var (
		item      domain.FactCheckItem
		rating    string
		sourceURL string
	)

	err := db.Pool.QueryRow(ctx, `
		SELECT id, dataset, title, content, COALESCE(rating, ''), COALESCE(source_url, ''), tags, created_at
		FROM fact_check_items
		WHERE id = $1
	`, toUUID(id)).Scan(&item.ID, &item.Dataset, &item.Title, &item.Content, &rating, &sourceURL, &item.Tags, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}

		return nil, fmt.Errorf("get fact check item: %w", err)
	}

	item.Rating = rating
	item.SourceURL = sourceURL

	return &item, nil
}

// ListItemIDs returns all item ids, optionally restricted to one dataset.
// Used by the rechunk workflow to enumerate its work items.
func (db *DB) ListItemIDs(ctx context.Context, dataset string) ([]string, error) {
	query := `SELECT id FROM fact_check_items ORDER BY created_at`
	args := []any{}

	if dataset != "" {
		query = `SELECT id FROM fact_check_items WHERE dataset = $1 ORDER BY created_at`
		args = append(args, dataset)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list item ids: %w", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan item id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item ids: %w", err)
	}

	return ids, nil
}

// ItemExistsBySourceURL reports whether an item with this source URL is
// already imported. Feed imports use it to skip duplicates.
func (db *DB) ItemExistsBySourceURL(ctx context.Context, sourceURL string) (bool, error) {
	var exists bool

	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM fact_check_items WHERE source_url = $1)
	`, sourceURL).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("item exists by source url: %w", err)
	}

	return exists, nil
}

// ReplaceChunks atomically swaps the indexed chunks of an item. Lexemes are
// computed in the database so lexical search and storage stay consistent.
func (db *DB) ReplaceChunks(ctx context.Context, itemID string, chunks []domain.FactCheckChunk) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace chunks: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM fact_check_chunks WHERE item_id = $1`, toUUID(itemID)); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}

	for _, chunk := range chunks {
		_, err := tx.Exec(ctx, `
			INSERT INTO fact_check_chunks
				(item_id, chunk_index, content, lexemes, embedding, provider, model, start_pos, end_pos, token_count)
			VALUES ($1, $2, $3, to_tsvector('english', $3), $4, $5, $6, $7, $8, $9)
		`, toUUID(itemID), chunk.ChunkIndex, SanitizeUTF8(chunk.Content),
			pgvector.NewVector(chunk.Embedding), toText(chunk.Provider), toText(chunk.Model),
			chunk.StartPos, chunk.EndPos, chunk.TokenCount)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace chunks: %w", err)
	}

	return nil
}

// ChunkMatch is one raw hit from a dense or lexical chunk query.
type ChunkMatch struct {
	ItemID    string
	ChunkID   string
	Title     string
	Content   string
	SourceURL string
	Rating    string
	Score     float64
}

// DenseSearchChunks returns the top chunks by cosine similarity, optionally
// restricted by dataset tags. Similarity is 1 - cosine distance.
func (db *DB) DenseSearchChunks(ctx context.Context, embedding []float32, datasetTags []string, limit int) ([]ChunkMatch, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT c.item_id, c.id, i.title, c.content,
		       COALESCE(i.source_url, ''), COALESCE(i.rating, ''),
		       1 - (c.embedding <=> $1::vector) AS similarity
		FROM fact_check_chunks c
		JOIN fact_check_items i ON i.id = c.item_id
		WHERE c.embedding IS NOT NULL
		  AND (cardinality($2::text[]) = 0 OR i.tags && $2::text[])
		ORDER BY c.embedding <=> $1::vector
		LIMIT $3
	`, pgvector.NewVector(embedding), tagsOrEmpty(datasetTags), limit)
	if err != nil {
		return nil, fmt.Errorf("dense search chunks: %w", err)
	}
	defer rows.Close()

	return scanChunkMatches(rows)
}

// LexicalSearchChunks returns the top chunks by full-text rank, optionally
// restricted by dataset tags.
func (db *DB) LexicalSearchChunks(ctx context.Context, queryText string, datasetTags []string, limit int) ([]ChunkMatch, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT c.item_id, c.id, i.title, c.content,
		       COALESCE(i.source_url, ''), COALESCE(i.rating, ''),
		       ts_rank(c.lexemes, q)::float8 AS rank
		FROM fact_check_chunks c
		JOIN fact_check_items i ON i.id = c.item_id,
		     plainto_tsquery('english', $1) q
		WHERE c.lexemes @@ q
		  AND (cardinality($2::text[]) = 0 OR i.tags && $2::text[])
		ORDER BY rank DESC
		LIMIT $3
	`, SanitizeUTF8(queryText), tagsOrEmpty(datasetTags), limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search chunks: %w", err)
	}
	defer rows.Close()

	return scanChunkMatches(rows)
}

func scanChunkMatches(rows pgx.Rows) ([]ChunkMatch, error) {
	var out []ChunkMatch

	for rows.Next() {
		var m ChunkMatch
		if err := rows.Scan(&m.ItemID, &m.ChunkID, &m.Title, &m.Content, &m.SourceURL, &m.Rating, &m.Score); err != nil {
			return nil, fmt.Errorf("scan chunk match: %w", err)
		}

		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk matches: %w", err)
	}

	return out, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}

	return tags
}
