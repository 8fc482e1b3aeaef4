/**
 * @description
 * Cron scheduler setup for the recurring integration reprocessing sweep.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the reprocessing sweep on a cron schedule.
type Scheduler struct {
	cron       *cron.Cron
	service    *Service
	logger     *slog.Logger
	schedule   string
	batchLimit int
}

// NewScheduler creates a scheduler that runs the sweep according to the given
// cron expression. An empty schedule disables the job.
func NewScheduler(service *Service, logger *slog.Logger, schedule string, batchLimit int) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:       c,
		service:    service,
		logger:     logger,
		schedule:   schedule,
		batchLimit: batchLimit,
	}
}

// Start registers the sweep job and starts the cron scheduler.
func (s *Scheduler) Start() {
	if s.schedule == "" {
		s.logger.Info("sweep schedule empty, recurring reprocessing disabled")
		return
	}

	if _, err := s.cron.AddFunc(s.schedule, s.runSweep); err != nil {
		s.logger.Error("failed to schedule integration reprocessing sweep", "error", err)
	} else {
		s.logger.Info("scheduled integration reprocessing sweep", "schedule", s.schedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler and returns a context that is done
// once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	summary, err := s.service.ReprocessIncompleteIntegrations(ctx, SweepParams{Limit: s.batchLimit})
	if err != nil {
		s.logger.Error("integration reprocessing sweep failed", "error", err)
		return
	}
	s.logger.Info("integration reprocessing sweep completed",
		"scanned", summary.Scanned,
		"recovered", summary.Recovered,
		"failed", summary.Failed,
	)
}
