// Package scan implements the per-message candidate pipeline: pluggable
// detection signals followed by a single unified relevance filter.
package scan

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opennotes/opennotes/internal/core/domain"
	"github.com/opennotes/opennotes/internal/core/llm"
	"github.com/opennotes/opennotes/internal/platform/observability"
	"github.com/opennotes/opennotes/internal/platform/telemetry"
	"github.com/opennotes/opennotes/internal/storage"
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	AppendFlaggedMessage(ctx context.Context, msg storage.FlaggedMessage) error
	ArchiveMessage(ctx context.Context, msg domain.ArchivedMessage) error
	MarkScanRunning(ctx context.Context, id string) error
	FinishScan(ctx context.Context, id, status string, messages, candidates, flagged int) error
}

// Config controls pipeline behavior.
type Config struct {
	// MinContentLength skips trivially short messages before any signal
	// runs.
	MinContentLength int

	// FlaggedTTL bounds how long flagged messages stay retrievable.
	FlaggedTTL time.Duration

	// Debug enriches logging. It never changes filtering decisions.
	Debug bool
}

// Flagged is one message that survived the relevance filter.
type Flagged struct {
	Candidate Candidate
	Reasoning string
}

// Result summarizes one pipeline run.
type Result struct {
	Messages   int
	Candidates int
	Flagged    []Flagged
	Filtered   int
}

// Pipeline runs detection signals and the relevance filter over messages.
type Pipeline struct {
	signals []Signal
	llm     llm.Client
	store   Store
	cfg     Config
	tracer  trace.Tracer
	logger  *zerolog.Logger
}

// New creates a scan pipeline. An empty signal set is valid and produces no
// candidates.
func New(signals []Signal, llmClient llm.Client, store Store, cfg Config, logger *zerolog.Logger) *Pipeline {
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = 10
	}

	if cfg.FlaggedTTL <= 0 {
		cfg.FlaggedTTL = 7 * 24 * time.Hour
	}

	return &Pipeline{
		signals: signals,
		llm:     llmClient,
		store:   store,
		cfg:     cfg,
		tracer:  telemetry.Tracer("scan"),
		logger:  logger,
	}
}

// Run scans messages for a bulk scan row, persisting flagged messages under
// the scan id and finalizing the scan's counters.
func (p *Pipeline) Run(ctx context.Context, scan *storage.BulkScan, channel *domain.MonitoredChannel, messages []Message) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "scan.run")
	defer span.End()

	span.SetAttributes(
		attribute.String("scan_id", scan.ID),
		attribute.String("community_id", scan.CommunityID),
		attribute.Int("message_count", len(messages)),
	)

	if err := p.store.MarkScanRunning(ctx, scan.ID); err != nil {
		return nil, fmt.Errorf("mark scan running: %w", err)
	}

	debug := p.cfg.Debug || scan.Debug
	result := &Result{Messages: len(messages)}
	expiresAt := time.Now().Add(p.cfg.FlaggedTTL)

	for _, msg := range messages {
		p.archive(ctx, scan, channel, msg)

		flagged, candidates, filtered := p.processMessage(ctx, scan.CommunityID, channel, msg, debug)

		result.Candidates += candidates
		result.Filtered += filtered

		for _, f := range flagged {
			if err := p.persistFlagged(ctx, scan.ID, f, expiresAt); err != nil {
				p.logger.Error().Err(err).Str("scan_id", scan.ID).Msg("persist flagged message")
				continue
			}

			result.Flagged = append(result.Flagged, f)
		}
	}

	span.SetAttributes(
		attribute.Int("candidate_count", result.Candidates),
		attribute.Int("flagged_count", len(result.Flagged)),
	)

	if err := p.store.FinishScan(ctx, scan.ID, storage.ScanStatusCompleted,
		result.Messages, result.Candidates, len(result.Flagged)); err != nil {
		return nil, fmt.Errorf("finish scan: %w", err)
	}

	return result, nil
}

// CheckMessage runs signals and the relevance filter for a single message
// without persistence, for the live per-message path.
func (p *Pipeline) CheckMessage(ctx context.Context, communityID string, channel *domain.MonitoredChannel, msg Message) ([]Flagged, error) {
	ctx, span := p.tracer.Start(ctx, "scan.check_message")
	defer span.End()

	flagged, candidates, _ := p.processMessage(ctx, communityID, channel, msg, p.cfg.Debug)

	span.SetAttributes(
		attribute.Int("candidate_count", candidates),
		attribute.Int("flagged_count", len(flagged)),
	)

	return flagged, nil
}

// processMessage generates candidates from every signal, then applies the
// relevance filter to each. A failed relevance check drops the candidate
// only; the message and the batch continue.
func (p *Pipeline) processMessage(ctx context.Context, communityID string, channel *domain.MonitoredChannel, msg Message, debug bool) (flagged []Flagged, candidates, filtered int) {
	observability.MessagesScanned.WithLabelValues(communityID).Inc()

	if utf8.RuneCountInString(msg.Content) < p.cfg.MinContentLength {
		return nil, 0, 0
	}

	for _, signal := range p.signals {
		detected, err := signal.Detect(ctx, communityID, channel, msg)
		if err != nil {
			p.logger.Warn().Err(err).
				Str("signal", signal.Name()).
				Str("message_id", msg.ID).
				Msg("signal failed")

			continue
		}

		candidates += len(detected)
		observability.ScanCandidates.WithLabelValues(signal.Name()).Add(float64(len(detected)))

		for _, candidate := range detected {
			verdict, err := p.llm.CheckRelevance(ctx, candidate.Message.Content, candidate.MatchedContent)
			if err != nil {
				filtered++
				observability.ScanFiltered.WithLabelValues("error").Inc()

				p.logger.Warn().Err(err).
					Str("message_id", msg.ID).
					Str("scan_type", candidate.ScanType).
					Msg("relevance check failed, dropping candidate")

				continue
			}

			if debug {
				p.logger.Debug().
					Str("message_id", msg.ID).
					Str("scan_type", candidate.ScanType).
					Float64("score", candidate.Score).
					Bool("is_relevant", verdict.IsRelevant).
					Str("reasoning", verdict.Reasoning).
					Msg("relevance decision")
			}

			if !verdict.IsRelevant {
				filtered++
				observability.ScanFiltered.WithLabelValues("not_relevant").Inc()

				continue
			}

			observability.ScanFlagged.Inc()

			flagged = append(flagged, Flagged{Candidate: candidate, Reasoning: verdict.Reasoning})
		}
	}

	return flagged, candidates, filtered
}

func (p *Pipeline) persistFlagged(ctx context.Context, scanID string, f Flagged, expiresAt time.Time) error {
	return p.store.AppendFlaggedMessage(ctx, storage.FlaggedMessage{
		ScanID:             scanID,
		MessageID:          f.Candidate.Message.ID,
		Content:            f.Candidate.Message.Content,
		ScanType:           f.Candidate.ScanType,
		Score:              float32(f.Candidate.Score),
		MatchedContent:     f.Candidate.MatchedContent,
		MatchedSource:      f.Candidate.MatchedSource,
		RelevanceReasoning: f.Reasoning,
		RawMatch:           f.Candidate.RawMatch,
		ExpiresAt:          expiresAt,
	})
}

func (p *Pipeline) archive(ctx context.Context, scan *storage.BulkScan, channel *domain.MonitoredChannel, msg Message) {
	channelID := scan.ChannelID
	if channelID == "" && channel != nil {
		channelID = channel.ChannelID
	}

	err := p.store.ArchiveMessage(ctx, domain.ArchivedMessage{
		CommunityID: scan.CommunityID,
		ChannelID:   channelID,
		MessageID:   msg.ID,
		Author:      msg.Author,
		Content:     msg.Content,
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("archive message")
	}
}
