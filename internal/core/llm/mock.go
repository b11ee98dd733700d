package llm

import (
	"context"
	"strings"
)

// MockClient is a deterministic Client for tests and keyless development.
type MockClient struct {
	// RelevantSubstrings marks a message relevant when it contains any of
	// these fragments. Empty means every non-trivial message is relevant.
	RelevantSubstrings []string

	// FlagSubstrings marks a message as moderation-flagged.
	FlagSubstrings []string
}

// CheckRelevance applies the configured substring rules.
func (m *MockClient) CheckRelevance(_ context.Context, message, _ string) (RelevanceResult, error) {
	if len(m.RelevantSubstrings) == 0 {
		return RelevanceResult{IsRelevant: len(strings.Fields(message)) > 2, Reasoning: "mock"}, nil
	}

	for _, s := range m.RelevantSubstrings {
		if strings.Contains(strings.ToLower(message), strings.ToLower(s)) {
			return RelevanceResult{IsRelevant: true, Reasoning: "mock match"}, nil
		}
	}

	return RelevanceResult{IsRelevant: false, Reasoning: "mock no match"}, nil
}

// Moderate applies the configured substring rules.
func (m *MockClient) Moderate(_ context.Context, message string) (ModerationResult, error) {
	for _, s := range m.FlagSubstrings {
		if strings.Contains(strings.ToLower(message), strings.ToLower(s)) {
			return ModerationResult{Flagged: true, MaxScore: 0.99, Categories: []string{"harassment"}}, nil
		}
	}

	return ModerationResult{}, nil
}
