// Package jobs holds the workflow implementations dispatched onto the
// engine: fact-check rechunks, previously-seen re-embeds, and dataset
// imports.
package jobs

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/opennotes/opennotes/internal/core/chunker"
	"github.com/opennotes/opennotes/internal/core/domain"
	"github.com/opennotes/opennotes/internal/core/embeddings"
)

// Embedding for fact-check content is not community-scoped; the shared
// index uses a single namespace.
const globalCommunity = "global"

// ItemStore is the fact-check persistence surface the jobs need.
type ItemStore interface {
	ListItemIDs(ctx context.Context, dataset string) ([]string, error)
	GetItem(ctx context.Context, id string) (*domain.FactCheckItem, error)
	ReplaceChunks(ctx context.Context, itemID string, chunks []domain.FactCheckChunk) error
	InsertItem(ctx context.Context, item domain.FactCheckItem) (string, error)
	ItemExistsBySourceURL(ctx context.Context, sourceURL string) (bool, error)
}

// SeenStore is the previously-seen persistence surface for re-embedding.
type SeenStore interface {
	ListPreviouslySeenIDs(ctx context.Context, communityID string) ([]string, error)
	GetPreviouslySeenContent(ctx context.Context, id string) (string, string, error)
	UpdatePreviouslySeenEmbedding(ctx context.Context, id string, embedding []float32, provider, model string) error
}

// Embedder produces chunk vectors.
type Embedder interface {
	Generate(ctx context.Context, communityID, text string) (embeddings.Result, error)
}

// Chunker splits content for indexing.
type Chunker interface {
	ChunkTextWithPositions(ctx context.Context, text string) ([]chunker.Chunk, error)
}

// indexItem chunks, embeds, and atomically replaces an item's index rows.
// It is idempotent: re-running it converges on the same chunk set.
func indexItem(ctx context.Context, store ItemStore, chunk Chunker, embed Embedder, itemID, content string) error {
	chunks, err := chunk.ChunkTextWithPositions(ctx, content)
	if err != nil {
		return fmt.Errorf("chunk item %s: %w", itemID, err)
	}

	rows := make([]domain.FactCheckChunk, 0, len(chunks))

	for _, c := range chunks {
		result, err := embed.Generate(ctx, globalCommunity, c.Text)
		if err != nil {
			return fmt.Errorf("embed chunk %d of item %s: %w", c.ChunkIndex, itemID, err)
		}

		rows = append(rows, domain.FactCheckChunk{
			ItemID:     itemID,
			ChunkIndex: c.ChunkIndex,
			Content:    c.Text,
			Embedding:  result.Vector,
			Provider:   string(result.Provider),
			Model:      result.Model,
			StartPos:   c.Start,
			EndPos:     c.End,
			TokenCount: c.TokenCount,
		})
	}

	if err := store.ReplaceChunks(ctx, itemID, rows); err != nil {
		return fmt.Errorf("replace chunks of item %s: %w", itemID, err)
	}

	return nil
}

// RechunkFactCheck re-chunks and re-embeds every fact-check item,
// optionally restricted to one dataset.
type RechunkFactCheck struct {
	Store    ItemStore
	Chunker  Chunker
	Embedder Embedder
	Dataset  string
	Logger   *zerolog.Logger
}

// Type implements workflow.Workflow.
func (j *RechunkFactCheck) Type() string { return domain.JobTypeRechunkFactCheck }

// Items enumerates the item ids to rebuild.
func (j *RechunkFactCheck) Items(ctx context.Context) ([]string, error) {
	return j.Store.ListItemIDs(ctx, j.Dataset)
}

// Process rebuilds one item's chunks.
func (j *RechunkFactCheck) Process(ctx context.Context, itemID string) error {
	item, err := j.Store.GetItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}

	return indexItem(ctx, j.Store, j.Chunker, j.Embedder, itemID, item.Content)
}

// RechunkPreviouslySeen re-embeds the previously-seen cache, e.g. after an
// embedding model change.
type RechunkPreviouslySeen struct {
	Store       SeenStore
	Embedder    Embedder
	CommunityID string
	Logger      *zerolog.Logger
}

// Type implements workflow.Workflow.
func (j *RechunkPreviouslySeen) Type() string { return domain.JobTypeRechunkPreviouslySeen }

// Items enumerates the previously-seen rows to re-embed.
func (j *RechunkPreviouslySeen) Items(ctx context.Context) ([]string, error) {
	return j.Store.ListPreviouslySeenIDs(ctx, j.CommunityID)
}

// Process re-embeds one previously-seen row. Rows whose source text is
// gone are skipped as successes; there is nothing left to embed.
func (j *RechunkPreviouslySeen) Process(ctx context.Context, id string) error {
	communityID, content, err := j.Store.GetPreviouslySeenContent(ctx, id)
	if err != nil {
		return fmt.Errorf("load previously seen %s: %w", id, err)
	}

	if content == "" {
		j.Logger.Debug().Str("id", id).Msg("previously seen row has no content, skipping")
		return nil
	}

	result, err := j.Embedder.Generate(ctx, communityID, content)
	if err != nil {
		return fmt.Errorf("embed previously seen %s: %w", id, err)
	}

	if err := j.Store.UpdatePreviouslySeenEmbedding(ctx, id, result.Vector, string(result.Provider), result.Model); err != nil {
		return fmt.Errorf("store embedding for %s: %w", id, err)
	}

	return nil
}
