// Package seen implements the previously-seen message cache: recognizing
// repeat content by embedding similarity and deciding auto-publish /
// auto-request actions from per-channel thresholds.
package seen

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opennotes/opennotes/internal/core/domain"
	"github.com/opennotes/opennotes/internal/core/embeddings"
	apperrors "github.com/opennotes/opennotes/internal/core/errors"
	"github.com/opennotes/opennotes/internal/platform/observability"
	"github.com/opennotes/opennotes/internal/platform/telemetry"
	"github.com/opennotes/opennotes/internal/storage"
)

// Store is the persistence surface the cache needs.
type Store interface {
	SearchPreviouslySeen(ctx context.Context, communityID string, embedding []float32, limit int) ([]storage.SeenMatch, error)
	RecordPreviouslySeen(ctx context.Context, msg domain.PreviouslySeenMessage) (string, error)
	GetChannel(ctx context.Context, communityID, channelID string) (*domain.MonitoredChannel, error)
}

// Embedder produces message vectors.
type Embedder interface {
	Generate(ctx context.Context, communityID, text string) (embeddings.Result, error)
}

// Config holds the community-default thresholds.
type Config struct {
	AutoPublishThreshold float32
	AutoRequestThreshold float32
	TopK                 int
}

// Match is one previously-seen hit.
type Match struct {
	ID                string
	OriginalMessageID string
	NoteID            string
	Score             float64
}

// CheckResult is the outcome of a previously-seen lookup.
type CheckResult struct {
	Matches              []Match
	TopMatch             *Match
	ShouldAutoPublish    bool
	ShouldAutoRequest    bool
	AutoPublishThreshold float32
	AutoRequestThreshold float32
}

// Cache checks and records previously-seen messages.
type Cache struct {
	store    Store
	embedder Embedder
	cfg      Config
	tracer   trace.Tracer
	logger   *zerolog.Logger
}

// New creates a previously-seen cache.
func New(store Store, embedder Embedder, cfg Config, logger *zerolog.Logger) *Cache {
	if cfg.AutoPublishThreshold <= 0 {
		cfg.AutoPublishThreshold = 0.9
	}

	if cfg.AutoRequestThreshold <= 0 {
		cfg.AutoRequestThreshold = 0.75
	}

	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}

	return &Cache{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		tracer:   telemetry.Tracer("seen"),
		logger:   logger,
	}
}

// Check looks up the message against the community's previously-seen rows.
// Matches never cross community boundaries. Thresholds resolve per channel:
// a configured override wins, a missing channel or nil override inherits
// the community default.
func (c *Cache) Check(ctx context.Context, communityID, channelID, messageText string) (*CheckResult, error) {
	ctx, span := c.tracer.Start(ctx, "seen.check")
	defer span.End()

	span.SetAttributes(attribute.String("community_id", communityID))

	embedding, err := c.embedder.Generate(ctx, communityID, messageText)
	if err != nil {
		return nil, fmt.Errorf("embed message: %w", err)
	}

	raw, err := c.store.SearchPreviouslySeen(ctx, communityID, embedding.Vector, c.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("search previously seen: %w", err)
	}

	autoPublish, autoRequest := c.resolveThresholds(ctx, communityID, channelID)

	result := &CheckResult{
		Matches:              make([]Match, 0, len(raw)),
		AutoPublishThreshold: autoPublish,
		AutoRequestThreshold: autoRequest,
	}

	for _, m := range raw {
		match := Match{
			ID:                m.ID,
			OriginalMessageID: m.OriginalMessageID,
			NoteID:            m.NoteID,
			Score:             m.Score,
		}

		result.Matches = append(result.Matches, match)

		if m.Score >= float64(autoPublish) {
			result.ShouldAutoPublish = true
		}

		if m.Score >= float64(autoRequest) {
			result.ShouldAutoRequest = true
		}
	}

	if len(result.Matches) > 0 {
		top := result.Matches[0]
		result.TopMatch = &top

		span.SetAttributes(attribute.Float64("top_score", top.Score))
	}

	span.SetAttributes(
		attribute.Int("match_count", len(result.Matches)),
		attribute.Bool("should_auto_publish", result.ShouldAutoPublish),
		attribute.Bool("should_auto_request", result.ShouldAutoRequest),
	)

	outcome := "none"

	switch {
	case result.ShouldAutoPublish:
		outcome = "autopublish"
	case result.ShouldAutoRequest:
		outcome = "autorequest"
	}

	observability.SeenChecks.WithLabelValues(outcome).Inc()

	return result, nil
}

// Record appends a previously-seen row. Recording the same message id
// twice within a community is a no-op.
func (c *Cache) Record(ctx context.Context, communityID, originalMessageID, noteID, messageText string, metadata json.RawMessage) (string, error) {
	embedding, err := c.embedder.Generate(ctx, communityID, messageText)
	if err != nil {
		return "", fmt.Errorf("embed message: %w", err)
	}

	id, err := c.store.RecordPreviouslySeen(ctx, domain.PreviouslySeenMessage{
		CommunityID:       communityID,
		OriginalMessageID: originalMessageID,
		NoteID:            noteID,
		Embedding:         embedding.Vector,
		Provider:          string(embedding.Provider),
		Model:             embedding.Model,
		Metadata:          metadata,
	})
	if err != nil {
		return "", fmt.Errorf("record previously seen: %w", err)
	}

	return id, nil
}

// resolveThresholds applies the per-channel overrides. Lookup failures fall
// back to the community defaults; the check must not fail because channel
// configuration is missing.
func (c *Cache) resolveThresholds(ctx context.Context, communityID, channelID string) (float32, float32) {
	autoPublish := c.cfg.AutoPublishThreshold
	autoRequest := c.cfg.AutoRequestThreshold

	if channelID == "" {
		return autoPublish, autoRequest
	}

	channel, err := c.store.GetChannel(ctx, communityID, channelID)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrChannelNotFound) {
			c.logger.Warn().Err(err).Str("channel_id", channelID).Msg("channel threshold lookup failed")
		}

		return autoPublish, autoRequest
	}

	if channel.AutoPublishThreshold != nil {
		autoPublish = *channel.AutoPublishThreshold
	}

	if channel.AutoRequestThreshold != nil {
		autoRequest = *channel.AutoRequestThreshold
	}

	return autoPublish, autoRequest
}
