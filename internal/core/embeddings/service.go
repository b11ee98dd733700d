package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/opennotes/opennotes/internal/core/errors"
	"github.com/opennotes/opennotes/internal/platform/telemetry"
)

const (
	maxGenerateAttempts = 3
	retryBaseDelay      = 200 * time.Millisecond
	cacheMaxEntries     = 4096
	cacheTTL            = time.Hour
)

// Service wraps the provider registry with retry, a short-lived content
// cache and trace spans. This is the entry point domain code uses.
type Service struct {
	registry *Registry
	tracer   trace.Tracer
	logger   *zerolog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	result  Result
	addedAt time.Time
}

// NewService creates an embedding service over the given registry.
func NewService(registry *Registry, logger *zerolog.Logger) *Service {
	return &Service{
		registry: registry,
		tracer:   telemetry.Tracer("embeddings"),
		logger:   logger,
		cache:    make(map[string]cacheEntry),
	}
}

// Generate produces an embedding for text on behalf of a community.
// Transient downstream failures are retried with exponential backoff up to
// three attempts; unrecoverable failures surface as ErrProviderUnavailable.
func (s *Service) Generate(ctx context.Context, communityID, text string) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "embeddings.generate")
	defer span.End()

	span.SetAttributes(
		attribute.String("community_id", communityID),
		attribute.Int("text_length", len(text)),
	)

	if cached, ok := s.cacheGet(text); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return cached, nil
	}

	span.SetAttributes(attribute.Bool("cache_hit", false))

	var lastErr error

	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)

			select {
			case <-ctx.Done():
				return Result{}, fmt.Errorf("embedding canceled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		result, err := s.registry.GetEmbedding(ctx, text)
		if err == nil {
			s.cachePut(text, result)
			return result, nil
		}

		lastErr = err

		if !isTransient(err) {
			break
		}

		s.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Str("community_id", communityID).
			Msg("embedding attempt failed")
	}

	span.RecordError(lastErr)

	return Result{}, fmt.Errorf("%w: %w", apperrors.ErrProviderUnavailable, lastErr)
}

func (s *Service) cacheGet(text string) (Result, bool) {
	key := cacheKey(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[key]
	if !ok || time.Since(entry.addedAt) > cacheTTL {
		delete(s.cache, key)
		return Result{}, false
	}

	return entry.result, true
}

func (s *Service) cachePut(text string, result Result) {
	key := cacheKey(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cache) >= cacheMaxEntries {
		// Drop expired entries first; if nothing expired, clear wholesale.
		for k, v := range s.cache {
			if time.Since(v.addedAt) > cacheTTL {
				delete(s.cache, k)
			}
		}

		if len(s.cache) >= cacheMaxEntries {
			s.cache = make(map[string]cacheEntry)
		}
	}

	s.cache[key] = cacheEntry{result: result, addedAt: time.Now()}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// isTransient reports whether the error looks like a timeout or connection
// problem worth retrying.
func isTransient(err error) bool {
	if apperrors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if apperrors.As(err, &netErr) {
		return true
	}

	return false
}
