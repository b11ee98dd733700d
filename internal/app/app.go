// Package app provides the application bootstrap and runtime orchestration.
//
// The App type wires together all dependencies and exposes methods to run
// the operational modes:
//
//   - Server mode: the JSON:API surface (ratings, channels, previously-seen,
//     bulk scans, rechunk jobs)
//   - Worker mode: the score-outbox recompute loop and the flagged-message
//     TTL sweeper
//   - All mode: both in one process, for small deployments
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opennotes/opennotes/internal/core/chunker"
	"github.com/opennotes/opennotes/internal/core/domain"
	"github.com/opennotes/opennotes/internal/core/embeddings"
	"github.com/opennotes/opennotes/internal/core/llm"
	"github.com/opennotes/opennotes/internal/index"
	"github.com/opennotes/opennotes/internal/platform/config"
	"github.com/opennotes/opennotes/internal/platform/observability"
	"github.com/opennotes/opennotes/internal/platform/worker"
	"github.com/opennotes/opennotes/internal/scan"
	"github.com/opennotes/opennotes/internal/scoring"
	"github.com/opennotes/opennotes/internal/seen"
	"github.com/opennotes/opennotes/internal/server"
	db "github.com/opennotes/opennotes/internal/storage"
	"github.com/opennotes/opennotes/internal/workflow"
	"github.com/opennotes/opennotes/internal/workflow/jobs"
)

const (
	llmAPIKeyMock   = "mock"
	outboxBatchSize = 20
)

// App holds the application dependencies and provides methods to run
// different modes.
type App struct {
	cfg      *config.Config
	database *db.DB
	logger   *zerolog.Logger
}

// New creates a new App instance with the given dependencies.
func New(cfg *config.Config, database *db.DB, logger *zerolog.Logger) *App {
	return &App{
		cfg:      cfg,
		database: database,
		logger:   logger,
	}
}

// StartHealthServer starts the health check and metrics server.
func (a *App) StartHealthServer(ctx context.Context) error {
	return observability.NewServer(a.database.Pool, a.cfg.HealthPort, a.logger).Start(ctx)
}

// RunServer runs the HTTP server mode.
func (a *App) RunServer(ctx context.Context) error {
	a.logger.Info().Msg("starting server mode")

	embedder := a.newEmbeddingService()
	llmClient := a.newLLMClient()
	chunk := a.newChunker()

	searcher := index.NewSearcher(a.database, embedder, a.logger)

	seenCache := seen.New(a.database, embedder, seen.Config{
		AutoPublishThreshold: a.cfg.SeenAutoPublishThreshold,
		AutoRequestThreshold: a.cfg.SeenAutoRequestThreshold,
		TopK:                 a.cfg.SeenTopK,
	}, a.logger)

	signals := []scan.Signal{
		scan.NewSimilaritySignal(searcher, a.cfg.ScanScoreThreshold, a.cfg.ScanSimilarityLimit),
		scan.NewModerationSignal(llmClient),
	}

	pipeline := scan.New(signals, llmClient, a.database, scan.Config{
		MinContentLength: a.cfg.ScanMinContentLength,
		FlaggedTTL:       a.cfg.ScanFlaggedTTL,
		Debug:            a.cfg.ScanDebugMode,
	}, a.logger)

	engine := workflow.NewEngine(workflow.NewLedger(a.database, a.logger), workflow.Config{
		QueueConcurrency:  a.cfg.WorkflowQueueConcurrency,
		GateCapacity:      a.cfg.WorkflowGateCapacity,
		CircuitThreshold:  a.cfg.WorkflowCircuitThreshold,
		ProgressBatchSize: a.cfg.WorkflowProgressBatchSize,
	}, a.logger)

	engine.Start(ctx)
	defer engine.Shutdown()

	auth, err := server.NewAuthenticator(a.database, server.AuthConfig{
		SigningSecret: a.cfg.GatewaySigningSecret,
		EmailDomains:  a.cfg.ServiceAccountEmailDomains,
		NamePatterns:  a.cfg.ServiceAccountNamePatterns,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("authenticator init: %w", err)
	}

	builder := &jobBuilder{
		store:  a.database,
		chunk:  chunk,
		embed:  embedder,
		logger: a.logger,
	}

	srv := server.New(a.database, auth, seenCache, pipeline, engine, builder, server.Config{
		Port:                       a.cfg.HTTPPort,
		DefaultSimilarityThreshold: a.cfg.ScanScoreThreshold,
	}, a.logger)

	return srv.Run(ctx)
}

// RunWorker runs the background worker mode: the score-outbox loop plus the
// periodic flagged-message sweeper and backlog gauge.
func (a *App) RunWorker(ctx context.Context) error {
	a.logger.Info().Msg("starting worker mode")

	factory := scoring.NewFactory(a.database, scoring.FactoryConfig{
		TierBoundary: a.cfg.ScorerTierBoundary,
		MinRatings:   a.cfg.MinRatingsNeeded,
		PriorMean:    a.cfg.BayesianPriorMean,
		PriorWeight:  a.cfg.BayesianPriorWeight,
	})

	recomputer := scoring.NewRecomputer(a.database, factory, a.logger)

	return worker.Loop(ctx, worker.Config{
		Name:         "score-outbox",
		PollInterval: a.cfg.WorkerPollInterval,
		Process:      a.processScoreOutbox(recomputer),
		PeriodicTasks: []worker.PeriodicTask{
			{
				Name:     "flagged-sweep",
				Interval: a.cfg.FlaggedSweepInterval,
				Run:      a.sweepExpiredFlagged,
			},
			{
				Name:     "outbox-backlog-gauge",
				Interval: a.cfg.WorkerPollInterval * 4,
				Run:      a.updateOutboxBacklog,
			},
		},
		Logger: a.logger,
	})
}

// RunAll runs server and worker in one process.
func (a *App) RunAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.RunServer(ctx) })
	g.Go(func() error { return a.RunWorker(ctx) })

	return g.Wait()
}

// processScoreOutbox claims a batch of pending recomputes and runs them.
// A failed recompute stays unclaimed-done and is retried on a later poll;
// the rating row itself is already committed.
func (a *App) processScoreOutbox(recomputer *scoring.Recomputer) worker.ProcessFunc {
	return func(ctx context.Context) error {
		entries, err := a.database.ClaimScoreRecomputes(ctx, outboxBatchSize)
		if err != nil {
			return fmt.Errorf("claim score recomputes: %w", err)
		}

		for _, entry := range entries {
			if _, err := recomputer.Recompute(ctx, entry.NoteID); err != nil {
				observability.OutboxProcessed.WithLabelValues("error").Inc()

				a.logger.Warn().Err(err).
					Str("note_id", entry.NoteID).
					Int("attempts", entry.Attempts).
					Msg("score recompute failed, database already updated")

				continue
			}

			if err := a.database.MarkScoreRecomputeDone(ctx, entry.ID); err != nil {
				a.logger.Warn().Err(err).
					Int64("outbox_id", entry.ID).
					Msg("outbox entry not marked done")
			}
		}

		return nil
	}
}

func (a *App) sweepExpiredFlagged(ctx context.Context) {
	deleted, err := a.database.SweepExpiredFlagged(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("flagged sweep failed")
		return
	}

	if deleted > 0 {
		a.logger.Info().Int("deleted", deleted).Msg("expired flagged messages swept")
	}
}

func (a *App) updateOutboxBacklog(ctx context.Context) {
	pending, err := a.database.CountPendingScoreRecomputes(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("outbox backlog count failed")
		return
	}

	observability.OutboxPending.Set(float64(pending))
}

// RunImportCSV imports a fact-check dataset from a local CSV file through
// the workflow engine and waits for it to finish.
func (a *App) RunImportCSV(ctx context.Context, path, dataset string) error {
	file, err := openImportFile(path)
	if err != nil {
		return err
	}

	defer func() {
		_ = file.Close()
	}()

	wf := &jobs.ImportCSV{
		Store:    a.database,
		Chunker:  a.newChunker(),
		Embedder: a.newEmbeddingService(),
		Reader:   file,
		Dataset:  dataset,
		Logger:   a.logger,
	}

	return a.runWorkflowToCompletion(ctx, wf, map[string]any{"path": path, "dataset": dataset})
}

// RunImportFeed imports fact-check articles from an RSS/Atom feed.
func (a *App) RunImportFeed(ctx context.Context, feedURL, dataset string) error {
	wf := &jobs.ImportFeed{
		Store:    a.database,
		Chunker:  a.newChunker(),
		Embedder: a.newEmbeddingService(),
		Scraper:  jobs.NewScraper(a.cfg.ImportScrapeTimeout),
		FeedURL:  feedURL,
		Dataset:  dataset,
		Logger:   a.logger,
	}

	return a.runWorkflowToCompletion(ctx, wf, map[string]any{"feed_url": feedURL, "dataset": dataset})
}

// runWorkflowToCompletion dispatches one workflow on a private engine and
// polls its job row until it reaches a terminal status.
func (a *App) runWorkflowToCompletion(ctx context.Context, wf workflow.Workflow, metadata map[string]any) error {
	engine := workflow.NewEngine(workflow.NewLedger(a.database, a.logger), workflow.Config{
		QueueConcurrency:  1,
		GateCapacity:      a.cfg.WorkflowGateCapacity,
		CircuitThreshold:  a.cfg.WorkflowCircuitThreshold,
		ProgressBatchSize: a.cfg.WorkflowProgressBatchSize,
	}, a.logger)

	engine.Start(ctx)
	defer engine.Shutdown()

	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal job metadata: %w", err)
	}

	workflowID, err := engine.Dispatch(ctx, wf, raw)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", wf.Type(), err)
	}

	for {
		if err := worker.Wait(ctx, time.Second); err != nil {
			return err
		}

		job, err := a.database.GetJobByWorkflowID(ctx, workflowID)
		if err != nil {
			return fmt.Errorf("poll job: %w", err)
		}

		if !job.Terminal() {
			continue
		}

		a.logger.Info().
			Str("job_type", job.JobType).
			Str("status", job.Status).
			Int("completed", job.CompletedTasks).
			Int("failed", job.FailedTasks).
			Msg("import finished")

		if job.Status != domain.JobStatusCompleted {
			return fmt.Errorf("import %s finished with status %s (%d failed)", wf.Type(), job.Status, job.FailedTasks)
		}

		return nil
	}
}

func openImportFile(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}

	return file, nil
}

func (a *App) newEmbeddingService() *embeddings.Service {
	registry := embeddings.NewRegistry(a.cfg.EmbeddingDimensions, a.logger)

	breaker := embeddings.CircuitBreakerConfig{
		Threshold:  a.cfg.ProviderBreakerThreshold,
		ResetAfter: a.cfg.ProviderBreakerResetAfter,
	}

	if a.cfg.OpenAIAPIKey == "" || a.cfg.OpenAIAPIKey == llmAPIKeyMock {
		a.logger.Warn().Msg("no embedding API key configured, using mock provider")
		registry.Register(embeddings.NewMockProvider(), breaker)
	} else {
		registry.Register(embeddings.NewOpenAIProvider(embeddings.OpenAIConfig{
			APIKey:     a.cfg.OpenAIAPIKey,
			Model:      a.cfg.EmbeddingModel,
			Dimensions: a.cfg.EmbeddingDimensions,
			RateLimit:  a.cfg.EmbeddingRateLimit,
		}), breaker)
	}

	return embeddings.NewService(registry, a.logger)
}

func (a *App) newLLMClient() llm.Client {
	if a.cfg.OpenAIAPIKey == "" || a.cfg.OpenAIAPIKey == llmAPIKeyMock {
		a.logger.Warn().Msg("no LLM API key configured, using mock client")
		return &llm.MockClient{}
	}

	return llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:            a.cfg.OpenAIAPIKey,
		Model:             a.cfg.LLMModel,
		RateLimit:         a.cfg.LLMRateLimit,
		RequestTimeout:    a.cfg.LLMTimeout,
		ModerationTimeout: a.cfg.ModerationTimeout,
	}, a.logger)
}

func (a *App) newChunker() *chunker.Chunker {
	cfg := chunker.Config{
		MaxTokens:        a.cfg.ChunkerMaxTokens,
		OverlapSentences: a.cfg.ChunkerOverlapUnits,
	}

	if a.cfg.ChunkerModelPath != "" {
		cfg.Loader = chunker.FileLoader(a.cfg.ChunkerModelPath)
	}

	return chunker.New(cfg)
}

// jobBuilder constructs the rechunk workflows the chunk endpoints dispatch.
type jobBuilder struct {
	store  *db.DB
	chunk  *chunker.Chunker
	embed  *embeddings.Service
	logger *zerolog.Logger
}

func (b *jobBuilder) RechunkFactCheck(dataset string) workflow.Workflow {
	return &jobs.RechunkFactCheck{
		Store:    b.store,
		Chunker:  b.chunk,
		Embedder: b.embed,
		Dataset:  dataset,
		Logger:   b.logger,
	}
}

func (b *jobBuilder) RechunkPreviouslySeen(communityID string) workflow.Workflow {
	return &jobs.RechunkPreviouslySeen{
		Store:       b.store,
		Embedder:    b.embed,
		CommunityID: communityID,
		Logger:      b.logger,
	}
}
