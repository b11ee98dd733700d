package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/opennotes/opennotes/internal/app"
	"github.com/opennotes/opennotes/internal/platform/config"
	"github.com/opennotes/opennotes/internal/platform/telemetry"
	db "github.com/opennotes/opennotes/internal/storage"
)

const (
	serviceName    = "notesvc"
	serviceVersion = "1.0.0"
)

func main() {
	mode := flag.String("mode", "", "Service mode (server, worker, all, import-csv, import-feed)")
	importPath := flag.String("import-path", "", "CSV file path (for import-csv mode)")
	importFeed := flag.String("import-feed-url", "", "Feed URL (for import-feed mode)")
	dataset := flag.String("dataset", "", "Dataset name for imports")

	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTELEndpoint, serviceName, serviceVersion, cfg.OTELInsecure)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracing")
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	poolOpts := db.PoolOptions{
		MaxConns:          cfg.DBMaxConnections,
		MinConns:          cfg.DBMinConnections,
		MaxConnIdleTime:   cfg.DBMaxConnIdleTime,
		MaxConnLifetime:   cfg.DBMaxConnLifetime,
		HealthCheckPeriod: cfg.DBHealthCheckPeriod,
	}

	database, err := db.NewWithOptions(ctx, cfg.PostgresDSN, poolOpts, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	application := app.New(cfg, database, &logger)

	// Start health server in background
	go func() {
		if err := application.StartHealthServer(ctx); err != nil {
			logger.Error().Err(err).Msg("health check server error")
		}
	}()

	if err := runMode(ctx, application, *mode, *importPath, *importFeed, *dataset); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("application stopped")
			return
		}

		logger.Fatal().Err(err).Msg("application error")
	}
}

func newLogger(appEnv string) zerolog.Logger {
	if appEnv == "local" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func runMode(ctx context.Context, application *app.App, mode, importPath, importFeed, dataset string) error {
	switch mode {
	case "server":
		return application.RunServer(ctx)
	case "worker":
		return application.RunWorker(ctx)
	case "all":
		return application.RunAll(ctx)
	case "import-csv":
		return application.RunImportCSV(ctx, importPath, dataset)
	case "import-feed":
		return application.RunImportFeed(ctx, importFeed, dataset)
	default:
		log.Fatalf("Usage: %s --mode=[server|worker|all|import-csv|import-feed]", os.Args[0])

		return nil
	}
}
