package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	apperrors "github.com/opennotes/opennotes/internal/core/errors"
	"github.com/opennotes/opennotes/internal/platform/observability"
)

const (
	llmRateLimiterBurst = 3

	errFmtChatCompletion = "openai chat completion: %w"
	errFmtRateLimiter    = "rate limiter: %w"
)

// OpenAIClient implements Client against the OpenAI API.
type OpenAIClient struct {
	client            *openai.Client
	model             string
	rateLimiter       *rate.Limiter
	requestTimeout    time.Duration
	moderationTimeout time.Duration
	logger            *zerolog.Logger
}

// OpenAIConfig holds configuration for the OpenAI LLM client.
type OpenAIConfig struct {
	APIKey            string
	Model             string
	RateLimit         int
	RequestTimeout    time.Duration
	ModerationTimeout time.Duration
}

// NewOpenAIClient creates a new OpenAI LLM client.
func NewOpenAIClient(cfg OpenAIConfig, logger *zerolog.Logger) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}

	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	if cfg.ModerationTimeout <= 0 {
		cfg.ModerationTimeout = 10 * time.Second
	}

	return &OpenAIClient{
		client:            openai.NewClient(cfg.APIKey),
		model:             cfg.Model,
		rateLimiter:       rate.NewLimiter(rate.Limit(cfg.RateLimit), llmRateLimiterBurst),
		requestTimeout:    cfg.RequestTimeout,
		moderationTimeout: cfg.ModerationTimeout,
		logger:            logger,
	}
}

// CheckRelevance runs the unified relevance filter prompt.
func (c *OpenAIClient) CheckRelevance(ctx context.Context, message, matchedContent string) (RelevanceResult, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return RelevanceResult{}, fmt.Errorf(errFmtRateLimiter, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: relevancePrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Message:\n%s\n\nMatched fact-check content:\n%s", message, matchedContent),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})

	observability.RelevanceCheckDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		return RelevanceResult{}, fmt.Errorf(errFmtChatCompletion, err)
	}

	if len(resp.Choices) == 0 {
		return RelevanceResult{}, fmt.Errorf("relevance check: %w", apperrors.ErrEmptyResponse)
	}

	content := resp.Choices[0].Message.Content
	c.logger.Debug().Str("content", content).Msg("relevance filter response")

	var result RelevanceResult
	if err := json.Unmarshal([]byte(extractJSON(content)), &result); err != nil {
		return RelevanceResult{}, fmt.Errorf("parse relevance response: %w", err)
	}

	return result, nil
}

// Moderate classifies message via the OpenAI moderation endpoint.
func (c *OpenAIClient) Moderate(ctx context.Context, message string) (ModerationResult, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return ModerationResult{}, fmt.Errorf(errFmtRateLimiter, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.moderationTimeout)
	defer cancel()

	resp, err := c.client.Moderations(ctx, openai.ModerationRequest{
		Input: message,
		Model: openai.ModerationOmniLatest,
	})
	if err != nil {
		observability.ModerationRequests.WithLabelValues("error").Inc()

		return ModerationResult{}, fmt.Errorf("openai moderation: %w", err)
	}

	observability.ModerationRequests.WithLabelValues("success").Inc()

	if len(resp.Results) == 0 {
		return ModerationResult{}, fmt.Errorf("moderation: %w", apperrors.ErrEmptyResponse)
	}

	return summarizeModeration(resp.Results[0]), nil
}

func summarizeModeration(r openai.Result) ModerationResult {
	out := ModerationResult{Flagged: r.Flagged}

	// Fixed order keeps the category list deterministic.
	categories := []struct {
		name    string
		score   float32
		flagged bool
	}{
		{"hate", float32(r.CategoryScores.Hate), r.Categories.Hate},
		{"hate/threatening", float32(r.CategoryScores.HateThreatening), r.Categories.HateThreatening},
		{"harassment", float32(r.CategoryScores.Harassment), r.Categories.Harassment},
		{"harassment/threatening", float32(r.CategoryScores.HarassmentThreatening), r.Categories.HarassmentThreatening},
		{"self-harm", float32(r.CategoryScores.SelfHarm), r.Categories.SelfHarm},
		{"sexual", float32(r.CategoryScores.Sexual), r.Categories.Sexual},
		{"sexual/minors", float32(r.CategoryScores.SexualMinors), r.Categories.SexualMinors},
		{"violence", float32(r.CategoryScores.Violence), r.Categories.Violence},
		{"violence/graphic", float32(r.CategoryScores.ViolenceGraphic), r.Categories.ViolenceGraphic},
	}

	for _, c := range categories {
		if c.score > out.MaxScore {
			out.MaxScore = c.score
		}

		if c.flagged {
			out.Categories = append(out.Categories, c.name)
		}
	}

	return out
}

// extractJSON pulls the first JSON object out of a model response that may
// carry stray prose around it.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")

	if start != -1 && end != -1 && end > start {
		return text[start : end+1]
	}

	return text
}
