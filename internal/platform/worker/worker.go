// Package worker runs poll-style background loops. The outbox drainer and
// the flagged-list sweeper are both built on Loop.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ProcessFunc does one unit of work per poll. Implementations return
// quickly when the backlog is empty.
type ProcessFunc func(ctx context.Context) error

// PeriodicTask runs on its own cadence between polls.
type PeriodicTask struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Config describes one worker loop.
type Config struct {
	Name          string
	PollInterval  time.Duration
	Process       ProcessFunc
	PeriodicTasks []PeriodicTask

	// OnError decides whether the loop survives a Process failure.
	// When nil, failures are logged and the loop continues.
	OnError func(err error) bool

	Logger *zerolog.Logger
}

// Loop polls Process at PollInterval and fires due periodic tasks before
// each poll. It exits with a wrapped ctx.Err() on cancellation, or with
// the Process error when OnError reports it fatal.
func Loop(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	logger.Info().Str("worker", cfg.Name).Dur("poll_interval", cfg.PollInterval).Msg("worker started")
	defer logger.Info().Str("worker", cfg.Name).Msg("worker stopped")

	due := make([]time.Time, len(cfg.PeriodicTasks))

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("worker %s: %w", cfg.Name, ctx.Err())
		default:
		}

		now := time.Now()

		for i, task := range cfg.PeriodicTasks {
			if task.Run == nil || task.Interval <= 0 || now.Before(due[i]) {
				continue
			}

			logger.Debug().Str("worker", cfg.Name).Str("task", task.Name).Msg("periodic task")
			task.Run(ctx)
			due[i] = now.Add(task.Interval)
		}

		if cfg.Process != nil {
			if err := cfg.Process(ctx); err != nil {
				if cfg.OnError != nil {
					if !cfg.OnError(err) {
						return err
					}
				} else {
					logger.Error().Err(err).Str("worker", cfg.Name).Msg("process failed")
				}
			}
		}

		if err := Wait(ctx, cfg.PollInterval); err != nil {
			return err
		}
	}
}

// Wait sleeps for d unless the context ends first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("wait interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
