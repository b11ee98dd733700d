// Package config loads application configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration. Values come from the environment;
// a local .env file is loaded when present.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	PostgresDSN string `env:"POSTGRES_DSN,required"`
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8080"`
	HealthPort  int    `env:"HEALTH_PORT" envDefault:"8081"`

	// Tracing
	OTELEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELInsecure bool   `env:"OTEL_EXPORTER_INSECURE" envDefault:"true"`

	// Database pool
	DBMaxConnections    int32         `env:"DB_MAX_CONNECTIONS" envDefault:"10"`
	DBMinConnections    int32         `env:"DB_MIN_CONNECTIONS" envDefault:"2"`
	DBMaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`
	DBMaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBHealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`

	// Gateway auth
	GatewaySigningSecret        string   `env:"GATEWAY_SIGNING_SECRET,required"`
	ServiceAccountEmailDomains  []string `env:"SERVICE_ACCOUNT_EMAIL_DOMAINS" envSeparator:"," envDefault:"svc.opennotes.dev"`
	ServiceAccountNamePatterns  []string `env:"SERVICE_ACCOUNT_NAME_PATTERNS" envSeparator:"," envDefault:"^svc[-_]"`

	// Embeddings
	OpenAIAPIKey        string        `env:"OPENAI_API_KEY"`
	EmbeddingModel      string        `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingDimensions int           `env:"EMBEDDING_DIMENSIONS" envDefault:"1536"`
	EmbeddingRateLimit  int           `env:"EMBEDDING_RATE_LIMIT" envDefault:"5"`
	EmbeddingTimeout    time.Duration `env:"EMBEDDING_TIMEOUT" envDefault:"15s"`

	// LLM relevance filter and moderation
	LLMModel          string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMRateLimit      int           `env:"LLM_RATE_LIMIT" envDefault:"3"`
	LLMTimeout        time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`
	ModerationTimeout time.Duration `env:"MODERATION_TIMEOUT" envDefault:"10s"`

	// Circuit breakers for providers
	ProviderBreakerThreshold  int           `env:"PROVIDER_BREAKER_THRESHOLD" envDefault:"5"`
	ProviderBreakerResetAfter time.Duration `env:"PROVIDER_BREAKER_RESET_AFTER" envDefault:"1m"`

	// Scan pipeline
	ScanMinContentLength int           `env:"SCAN_MIN_CONTENT_LENGTH" envDefault:"10"`
	ScanSimilarityLimit  int           `env:"SCAN_SIMILARITY_LIMIT" envDefault:"5"`
	ScanScoreThreshold   float32       `env:"SCAN_SCORE_THRESHOLD" envDefault:"0.5"`
	ScanFlaggedTTL       time.Duration `env:"SCAN_FLAGGED_TTL" envDefault:"168h"`
	ScanDebugMode        bool          `env:"SCAN_DEBUG_MODE" envDefault:"false"`

	// Previously-seen defaults
	SeenAutoPublishThreshold float32 `env:"SEEN_AUTOPUBLISH_THRESHOLD" envDefault:"0.9"`
	SeenAutoRequestThreshold float32 `env:"SEEN_AUTOREQUEST_THRESHOLD" envDefault:"0.75"`
	SeenTopK                 int     `env:"SEEN_TOP_K" envDefault:"5"`

	// Scoring
	MinRatingsNeeded    int     `env:"MIN_RATINGS_NEEDED" envDefault:"5"`
	ScorerTierBoundary  int     `env:"SCORER_TIER_BOUNDARY" envDefault:"200"`
	BayesianPriorMean   float64 `env:"BAYESIAN_PRIOR_MEAN" envDefault:"0.5"`
	BayesianPriorWeight float64 `env:"BAYESIAN_PRIOR_WEIGHT" envDefault:"10"`

	// Chunker
	ChunkerModelPath    string `env:"CHUNKER_MODEL_PATH" envDefault:""`
	ChunkerMaxTokens    int    `env:"CHUNKER_MAX_TOKENS" envDefault:"256"`
	ChunkerOverlapUnits int    `env:"CHUNKER_OVERLAP_UNITS" envDefault:"0"`

	// Workflows
	WorkflowQueueConcurrency  int           `env:"WORKFLOW_QUEUE_CONCURRENCY" envDefault:"4"`
	WorkflowGateCapacity      int64         `env:"WORKFLOW_GATE_CAPACITY" envDefault:"8"`
	WorkflowCircuitThreshold  int           `env:"WORKFLOW_CIRCUIT_THRESHOLD" envDefault:"5"`
	WorkflowProgressBatchSize int           `env:"WORKFLOW_PROGRESS_BATCH_SIZE" envDefault:"10"`
	WorkerPollInterval        time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"5s"`
	FlaggedSweepInterval      time.Duration `env:"FLAGGED_SWEEP_INTERVAL" envDefault:"1h"`

	// Import workflow
	ImportScrapeTimeout time.Duration `env:"IMPORT_SCRAPE_TIMEOUT" envDefault:"30s"`
	ImportFeedTimeout   time.Duration `env:"IMPORT_FEED_TIMEOUT" envDefault:"60s"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
