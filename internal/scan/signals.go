package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opennotes/opennotes/internal/core/domain"
	"github.com/opennotes/opennotes/internal/core/llm"
	"github.com/opennotes/opennotes/internal/index"
)

// Scan type constants carried on candidates and flagged rows.
const (
	ScanTypeSimilarity = "SIMILARITY"
	ScanTypeModeration = "OPENAI_MODERATION"
)

// Message is one chat message fed to the pipeline.
type Message struct {
	ID      string
	Author  string
	Content string
}

// Candidate is a potential note target produced by one signal.
type Candidate struct {
	Message        Message
	ScanType       string
	Score          float64
	MatchedContent string
	MatchedSource  string
	RawMatch       json.RawMessage
}

// Signal generates candidates from a message. Signals never invoke the
// relevance filter; that happens once, centrally, after candidate
// generation.
type Signal interface {
	Name() string
	Detect(ctx context.Context, communityID string, channel *domain.MonitoredChannel, msg Message) ([]Candidate, error)
}

// SimilaritySignal flags messages that resemble indexed fact-check content.
type SimilaritySignal struct {
	searcher       *index.Searcher
	scoreThreshold float32
	limit          int
}

// NewSimilaritySignal creates the similarity signal.
func NewSimilaritySignal(searcher *index.Searcher, scoreThreshold float32, limit int) *SimilaritySignal {
	return &SimilaritySignal{searcher: searcher, scoreThreshold: scoreThreshold, limit: limit}
}

// Name implements Signal.
func (s *SimilaritySignal) Name() string { return ScanTypeSimilarity }

// Detect runs the hybrid search with the channel's similarity threshold and
// dataset tags, producing one candidate per match.
func (s *SimilaritySignal) Detect(ctx context.Context, communityID string, channel *domain.MonitoredChannel, msg Message) ([]Candidate, error) {
	matches, err := s.searcher.Search(ctx, communityID, msg.Content, channel.DatasetTags,
		channel.SimilarityThreshold, s.scoreThreshold, s.limit)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	candidates := make([]Candidate, 0, len(matches))

	for _, m := range matches {
		raw, err := json.Marshal(map[string]any{
			"item_id":  m.ItemID,
			"chunk_id": m.ChunkID,
			"title":    m.Title,
			"rating":   m.Rating,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal similarity match: %w", err)
		}

		candidates = append(candidates, Candidate{
			Message:        msg,
			ScanType:       ScanTypeSimilarity,
			Score:          m.Score,
			MatchedContent: m.Content,
			MatchedSource:  m.SourceURL,
			RawMatch:       raw,
		})
	}

	return candidates, nil
}

// ModerationSignal flags messages the moderation API marks in any category.
type ModerationSignal struct {
	client llm.Client
}

// NewModerationSignal creates the moderation signal.
func NewModerationSignal(client llm.Client) *ModerationSignal {
	return &ModerationSignal{client: client}
}

// Name implements Signal.
func (s *ModerationSignal) Name() string { return ScanTypeModeration }

// Detect produces one candidate when the provider flags the message,
// carrying the max category score and category list.
func (s *ModerationSignal) Detect(ctx context.Context, _ string, _ *domain.MonitoredChannel, msg Message) ([]Candidate, error) {
	result, err := s.client.Moderate(ctx, msg.Content)
	if err != nil {
		return nil, fmt.Errorf("moderate message: %w", err)
	}

	if !result.Flagged {
		return nil, nil
	}

	raw, err := json.Marshal(map[string]any{
		"categories": result.Categories,
		"max_score":  result.MaxScore,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal moderation result: %w", err)
	}

	return []Candidate{{
		Message:        msg,
		ScanType:       ScanTypeModeration,
		Score:          float64(result.MaxScore),
		MatchedContent: strings.Join(result.Categories, ", "),
		MatchedSource:  "moderation",
		RawMatch:       raw,
	}}, nil
}
