// Package llm provides the LLM-backed relevance filter and the moderation
// classifier used by the scan pipeline.
package llm

import (
	"context"
)

// RelevanceResult is the parsed verdict of the unified relevance filter.
type RelevanceResult struct {
	IsRelevant bool   `json:"is_relevant"`
	Reasoning  string `json:"reasoning"`
}

// ModerationResult summarizes a moderation API response.
type ModerationResult struct {
	Flagged    bool
	MaxScore   float32
	Categories []string
}

// Client defines the LLM operations the scan pipeline depends on.
type Client interface {
	// CheckRelevance asks whether message contains a verifiable claim
	// related to matchedContent. It must return a definite verdict or an
	// error; callers drop the candidate on error.
	CheckRelevance(ctx context.Context, message, matchedContent string) (RelevanceResult, error)

	// Moderate classifies message against the provider's moderation
	// categories.
	Moderate(ctx context.Context, message string) (ModerationResult, error)
}
