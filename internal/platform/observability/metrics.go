package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notes_messages_scanned_total",
		Help: "The total number of messages run through the scan pipeline",
	}, []string{"community"})

	ScanCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notes_scan_candidates_total",
		Help: "Total scan candidates produced by signal type",
	}, []string{"scan_type"})

	ScanFlagged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notes_scan_flagged_total",
		Help: "Total candidates that passed the relevance filter",
	})

	ScanFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notes_scan_filtered_total",
		Help: "Total candidates dropped by the relevance filter, by reason",
	}, []string{"reason"})

	RelevanceCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "notes_relevance_check_duration_seconds",
		Help:    "Duration of relevance filter LLM calls",
		Buckets: prometheus.DefBuckets,
	})

	ModerationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notes_moderation_requests_total",
		Help: "Total moderation API requests",
	}, []string{"status"})

	EmbeddingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notes_embedding_requests_total",
		Help: "Total number of embedding requests",
	}, []string{"provider", "model", "status"})

	EmbeddingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notes_embedding_latency_seconds",
		Help:    "Latency of embedding requests by provider",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"provider", "model"})

	EmbeddingCircuitBreakerOpens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notes_embedding_cb_opens_total",
		Help: "Total number of times the embedding circuit breaker opened",
	}, []string{"provider"})

	SimilaritySearches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notes_similarity_searches_total",
		Help: "Total hybrid similarity searches",
	}, []string{"status"})

	SeenChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notes_previously_seen_checks_total",
		Help: "Total previously-seen cache checks by outcome",
	}, []string{"outcome"})

	RatingsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notes_ratings_upserted_total",
		Help: "Total rating create/update operations",
	}, []string{"helpfulness"})

	NoteScoreRecomputes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notes_score_recomputes_total",
		Help: "Total note score recomputations by scorer tier",
	}, []string{"tier"})

	ScorerCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notes_scorer_cache_total",
		Help: "Scorer batch cache hits and misses",
	}, []string{"result"})

	WorkflowSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notes_workflow_steps_total",
		Help: "Total workflow steps executed by job type and result",
	}, []string{"job_type", "result"})

	WorkflowCircuitOpens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notes_workflow_circuit_opens_total",
		Help: "Total number of workflow circuit breaker opens",
	}, []string{"job_type"})

	WorkflowDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notes_workflow_duration_seconds",
		Help:    "End-to-end duration of workflow runs",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	}, []string{"job_type"})

	OutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notes_score_outbox_pending",
		Help: "Number of unprocessed score-outbox rows",
	})

	OutboxProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notes_score_outbox_processed_total",
		Help: "Total score-outbox rows processed by result",
	}, []string{"result"})

	FlaggedSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notes_flagged_swept_total",
		Help: "Total expired flagged-message rows deleted by the sweeper",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notes_http_requests_total",
		Help: "Total HTTP requests by route and status",
	}, []string{"route", "status"})
)
