// Package index provides hybrid similarity search over fact-check chunks:
// dense cosine similarity fused with lexical full-text rank.
package index

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opennotes/opennotes/internal/core/embeddings"
	"github.com/opennotes/opennotes/internal/platform/observability"
	"github.com/opennotes/opennotes/internal/platform/telemetry"
	"github.com/opennotes/opennotes/internal/storage"
)

const (
	// candidateFactor oversamples each leg of the hybrid query before
	// fusion trims back to the requested limit.
	candidateFactor = 4

	// rrfK dampens the reciprocal-rank boost (standard RRF constant).
	rrfK = 60

	// lexBoostWeight scales the lexical reciprocal-rank contribution onto
	// the dense similarity scale.
	lexBoostWeight = 0.5
)

// Match is one fused search hit.
type Match struct {
	ItemID    string
	ChunkID   string
	Title     string
	Content   string
	SourceURL string
	Rating    string
	Score     float64
}

// ChunkStore is the subset of storage the searcher needs.
type ChunkStore interface {
	DenseSearchChunks(ctx context.Context, embedding []float32, datasetTags []string, limit int) ([]storage.ChunkMatch, error)
	LexicalSearchChunks(ctx context.Context, queryText string, datasetTags []string, limit int) ([]storage.ChunkMatch, error)
}

// Embedder produces query vectors.
type Embedder interface {
	Generate(ctx context.Context, communityID, text string) (embeddings.Result, error)
}

// Searcher runs hybrid queries over the fact-check index.
type Searcher struct {
	store    ChunkStore
	embedder Embedder
	tracer   trace.Tracer
	logger   *zerolog.Logger
}

// NewSearcher creates a hybrid searcher.
func NewSearcher(store ChunkStore, embedder Embedder, logger *zerolog.Logger) *Searcher {
	return &Searcher{
		store:    store,
		embedder: embedder,
		tracer:   telemetry.Tracer("index"),
		logger:   logger,
	}
}

// Search runs the hybrid query. Dense hits below similarityThreshold are
// discarded before fusion; fused results below scoreThreshold are dropped.
// Results are deterministic for identical inputs and index state: ordered
// by fused score descending with chunk id as tie-break, at most one match
// per item (its best chunk).
func (s *Searcher) Search(ctx context.Context, communityID, queryText string, datasetTags []string, similarityThreshold, scoreThreshold float32, limit int) ([]Match, error) {
	ctx, span := s.tracer.Start(ctx, "index.search")
	defer span.End()

	span.SetAttributes(
		attribute.String("community_id", communityID),
		attribute.Int("limit", limit),
	)

	searchStatus := "error"
	defer func() {
		observability.SimilaritySearches.WithLabelValues(searchStatus).Inc()
	}()

	embedding, err := s.embedder.Generate(ctx, communityID, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	oversample := limit * candidateFactor

	dense, err := s.store.DenseSearchChunks(ctx, embedding.Vector, datasetTags, oversample)
	if err != nil {
		return nil, fmt.Errorf("dense search: %w", err)
	}

	lexical, err := s.store.LexicalSearchChunks(ctx, queryText, datasetTags, oversample)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	matches := fuse(dense, lexical, similarityThreshold, scoreThreshold, limit)

	span.SetAttributes(attribute.Int("match_count", len(matches)))

	if len(matches) > 0 {
		span.SetAttributes(attribute.Float64("top_score", matches[0].Score))
	}

	searchStatus = "success"

	return matches, nil
}

// fuse combines the dense and lexical legs. The dense similarity is the
// base score; a lexical hit adds a reciprocal-rank boost. Chunks that only
// appear in the lexical leg score by boost alone, which keeps exact-phrase
// hits visible even when the embedding missed them.
func fuse(dense, lexical []storage.ChunkMatch, similarityThreshold, scoreThreshold float32, limit int) []Match {
	type fused struct {
		match storage.ChunkMatch
		score float64
	}

	byChunk := make(map[string]*fused)

	for _, d := range dense {
		if d.Score < float64(similarityThreshold) {
			continue
		}

		m := d
		byChunk[d.ChunkID] = &fused{match: m, score: d.Score}
	}

	for rank, l := range lexical {
		boost := lexBoostWeight * rrfK / float64(rrfK+rank)

		if f, ok := byChunk[l.ChunkID]; ok {
			f.score += boost
			continue
		}

		m := l
		byChunk[l.ChunkID] = &fused{match: m, score: boost}
	}

	// Best chunk per item.
	byItem := make(map[string]*fused)

	for _, f := range byChunk {
		best, ok := byItem[f.match.ItemID]
		if !ok || f.score > best.score || (f.score == best.score && f.match.ChunkID < best.match.ChunkID) {
			byItem[f.match.ItemID] = f
		}
	}

	out := make([]Match, 0, len(byItem))

	for _, f := range byItem {
		if f.score < float64(scoreThreshold) {
			continue
		}

		out = append(out, Match{
			ItemID:    f.match.ItemID,
			ChunkID:   f.match.ChunkID,
			Title:     f.match.Title,
			Content:   f.match.Content,
			SourceURL: f.match.SourceURL,
			Rating:    f.match.Rating,
			Score:     f.score,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}

		return out[i].ChunkID < out[j].ChunkID
	})

	if len(out) > limit {
		out = out[:limit]
	}

	return out
}
