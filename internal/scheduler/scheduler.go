// Package scheduler wires up the cron job that periodically triggers a
// collection run.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/jobradar/jobradar/internal/collect"
)

// Scheduler wraps robfig/cron and triggers lock-guarded collection runs.
type Scheduler struct {
	cron       *cron.Cron
	runner     *collect.Runner
	spec       string // cron spec, e.g. "0 9 * * *"
	searchURL  string
	runOnStart bool
	logger     *slog.Logger
}

// New creates a Scheduler firing on the given cron spec against searchURL.
func New(runner *collect.Runner, spec, searchURL string, runOnStart bool, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		runner:     runner,
		spec:       spec,
		searchURL:  searchURL,
		runOnStart: runOnStart,
		logger:     logger,
	}
}

// Start registers the job and starts the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.trigger(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", slog.String("spec", s.spec))

	if s.runOnStart {
		s.trigger(ctx)
	}
	return nil
}

// Stop shuts the scheduler down. Running cron entries finish on their own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("scheduler stopped")
}

// trigger starts one scheduled run. Scheduled runs carry no user context:
// discovered offers are recorded globally and become adoptable later.
func (s *Scheduler) trigger(ctx context.Context) {
	if s.searchURL == "" {
		s.logger.Warn("skipping scheduled collection: no search url configured")
		return
	}

	started, err := s.runner.TryStart(ctx, s.searchURL, "", "")
	if err != nil {
		s.logger.Error("scheduled collection trigger failed", slog.String("error", err.Error()))
		return
	}
	if !started {
		s.logger.Info("skipping scheduled collection: run already active")
	}
}
