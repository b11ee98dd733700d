// Package server exposes the note-evaluation pipeline over a JSON:API
// HTTP surface: ratings, monitored channels, the previously-seen cache,
// bulk scans and the rechunk batch jobs.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/opennotes/opennotes/internal/core/domain"
	"github.com/opennotes/opennotes/internal/platform/observability"
	"github.com/opennotes/opennotes/internal/scan"
	"github.com/opennotes/opennotes/internal/seen"
	"github.com/opennotes/opennotes/internal/storage"
	"github.com/opennotes/opennotes/internal/workflow"
)

// Repository is the persistence surface the HTTP handlers consume.
// *storage.DB satisfies it.
type Repository interface {
	ProfileStore

	GetCommunity(ctx context.Context, id string) (*domain.CommunityServer, error)
	GetCommunityByPlatformID(ctx context.Context, platformServerID string) (*domain.CommunityServer, error)

	CreateNote(ctx context.Context, note domain.Note) (*domain.Note, error)
	GetNote(ctx context.Context, id string) (*domain.Note, error)
	ListNotes(ctx context.Context, communityID string, filter storage.NoteFilter, limit, offset int) ([]domain.Note, int, error)
	SetForcePublished(ctx context.Context, noteID string, forced bool) error
	DeleteNote(ctx context.Context, noteID string) error
	UpsertRating(ctx context.Context, rating domain.Rating) (*domain.Rating, error)
	GetRating(ctx context.Context, ratingID string) (*domain.Rating, error)
	DeleteRating(ctx context.Context, ratingID string) (string, error)
	ListRatingsForNote(ctx context.Context, noteID string) ([]domain.Rating, error)
	GetRatingStats(ctx context.Context, noteID string) (*storage.RatingStats, error)
	EnqueueScoreRecompute(ctx context.Context, noteID, communityID string) error
	ClearNotes(ctx context.Context, communityID string) (int, error)

	UpsertChannel(ctx context.Context, ch domain.MonitoredChannel) (*domain.MonitoredChannel, error)
	GetChannel(ctx context.Context, communityID, channelID string) (*domain.MonitoredChannel, error)
	GetChannelByID(ctx context.Context, id string) (*domain.MonitoredChannel, error)
	ListChannels(ctx context.Context, communityID string) ([]domain.MonitoredChannel, error)
	DeleteChannelByID(ctx context.Context, id string) error

	CreateScan(ctx context.Context, communityID, channelID, initiatedBy string, debug bool) (*storage.BulkScan, error)
	GetScan(ctx context.Context, id string) (*storage.BulkScan, error)
	FinishScan(ctx context.Context, id, status string, messages, candidates, flagged int) error
	ListFlaggedMessages(ctx context.Context, scanID string) ([]storage.FlaggedMessage, error)

	CreateRequest(ctx context.Context, req domain.Request) (*domain.Request, error)
	GetRequestByRequestID(ctx context.Context, requestID string) (*domain.Request, error)
	ListRequests(ctx context.Context, communityID, status string, limit, offset int) ([]domain.Request, int, error)
	UpdateRequestStatus(ctx context.Context, requestID, status string) error
	ClearRequests(ctx context.Context, communityID string) (int, error)
	ClearRequestsBefore(ctx context.Context, communityID string, before time.Time) (int, error)

	GetJobByWorkflowID(ctx context.Context, workflowID string) (*domain.BatchJob, error)
	ListJobs(ctx context.Context, jobType string, limit int) ([]domain.BatchJob, error)

	GetProfile(ctx context.Context, id string) (*domain.UserProfile, error)

	WriteAudit(ctx context.Context, entry domain.AuditEntry) error
	ListAudit(ctx context.Context, communityID string, limit int) ([]domain.AuditEntry, error)
}

// SeenCache is the previously-seen surface behind the endpoints.
type SeenCache interface {
	Check(ctx context.Context, communityID, channelID, messageText string) (*seen.CheckResult, error)
	Record(ctx context.Context, communityID, originalMessageID, noteID, messageText string, metadata json.RawMessage) (string, error)
}

// ScanRunner runs a bulk scan end to end.
type ScanRunner interface {
	Run(ctx context.Context, bulkScan *storage.BulkScan, channel *domain.MonitoredChannel, messages []scan.Message) (*scan.Result, error)
}

// Dispatcher queues and cancels batch workflows.
type Dispatcher interface {
	Dispatch(ctx context.Context, wf workflow.Workflow, metadata json.RawMessage) (string, error)
	Cancel(ctx context.Context, workflowID string, force bool) error
}

// JobBuilder constructs the rechunk workflows the chunk endpoints dispatch.
type JobBuilder interface {
	RechunkFactCheck(dataset string) workflow.Workflow
	RechunkPreviouslySeen(communityID string) workflow.Workflow
}

// Config holds the server's runtime knobs.
type Config struct {
	Port int

	// DefaultSimilarityThreshold seeds new monitored channels that omit one.
	DefaultSimilarityThreshold float32
}

// Server is the JSON:API boundary of the pipeline.
type Server struct {
	repo     Repository
	auth     *Authenticator
	seen     SeenCache
	scanner  ScanRunner
	engine   Dispatcher
	jobs     JobBuilder
	cfg      Config
	validate *validator.Validate
	logger   *zerolog.Logger
}

// New assembles the server.
func New(repo Repository, auth *Authenticator, seenCache SeenCache, scanner ScanRunner, engine Dispatcher, jobs JobBuilder, cfg Config, logger *zerolog.Logger) *Server {
	if cfg.DefaultSimilarityThreshold <= 0 {
		cfg.DefaultSimilarityThreshold = 0.5
	}

	return &Server{
		repo:     repo,
		auth:     auth,
		seen:     seenCache,
		scanner:  scanner,
		engine:   engine,
		jobs:     jobs,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestMetrics)

	r.Route("/ratings", func(r chi.Router) {
		r.Post("/", s.createRating)
		r.Delete("/{id}", s.deleteRating)
	})

	r.Route("/notes", func(r chi.Router) {
		r.Post("/", s.createNote)
		r.Get("/", s.listNotes)
		r.Patch("/{id}", s.updateNote)
		r.Delete("/{id}", s.deleteNote)
		r.Get("/{id}/ratings", s.listNoteRatings)
		r.Get("/{id}/ratings/stats", s.noteRatingStats)
	})

	r.Route("/monitored-channels", func(r chi.Router) {
		r.Post("/", s.createChannel)
		r.Get("/", s.listChannels)
		r.Patch("/{id}", s.updateChannel)
		r.Delete("/{id}", s.deleteChannel)
	})

	r.Route("/previously-seen-messages", func(r chi.Router) {
		r.Post("/", s.recordPreviouslySeen)
		r.Post("/check", s.checkPreviouslySeen)
	})

	r.Route("/bulk-scans", func(r chi.Router) {
		r.Post("/", s.createBulkScan)
		r.Get("/{id}", s.getBulkScan)
		r.Post("/{id}/note-requests", s.createNoteRequests)
	})

	r.Route("/note-requests", func(r chi.Router) {
		r.Get("/", s.listNoteRequests)
		r.Patch("/{requestID}", s.updateNoteRequest)
	})

	r.Route("/community-servers/{id}", func(r chi.Router) {
		r.Get("/audit", s.listAudit)
		r.Delete("/clear-requests", s.clearRequests)
		r.Delete("/clear-notes", s.clearNotes)
	})

	r.Route("/chunks", func(r chi.Router) {
		r.Post("/fact-check/rechunk", s.rechunkFactCheck)
		r.Post("/previously-seen/rechunk", s.rechunkPreviouslySeen)
		r.Get("/tasks", s.listTasks)
		r.Delete("/tasks/{id}", s.cancelTask)
	})

	return r
}

// Run serves the router until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info().Int("port", s.cfg.Port).Msg("http server listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	return nil
}

func (s *Server) requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}

		observability.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
	})
}

// identify resolves the caller or writes a 401.
func (s *Server) identify(w http.ResponseWriter, r *http.Request) *Identity {
	id, err := s.auth.Identify(r)
	if err != nil {
		writeError(w, s.logger, err)
		return nil
	}

	return id
}

// audit records a mutating admin action; failures only log.
func (s *Server) audit(ctx context.Context, id *Identity, communityID, action string, details map[string]any) {
	raw, _ := json.Marshal(details)

	err := s.repo.WriteAudit(ctx, domain.AuditEntry{
		ActorProfileID: id.Profile.ID,
		CommunityID:    communityID,
		Action:         action,
		Details:        raw,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("audit write failed")
	}
}
