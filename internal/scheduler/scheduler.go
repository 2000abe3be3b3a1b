package scheduler

import (
	"context"
	"log/slog"
	"time"

	"page_scraper/internal/domain"
)

// Runner performs one scrape pass.
type Runner interface {
	Run(ctx context.Context) (*domain.ScrapeReport, error)
}

type Scheduler struct {
	runner     Runner
	interval   time.Duration
	runTimeout time.Duration
	logger     *slog.Logger
}

func NewScheduler(runner Runner, interval, runTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:     runner,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger.With("component", "scheduler"),
	}
}

// Start runs a pass immediately and then once per interval until ctx is done.
// Passes never overlap.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "run_timeout", s.runTimeout)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	runCtx := ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	report, err := s.runner.Run(runCtx)
	if err != nil {
		s.logger.Error("scrape failed", "error", err)
	}
	if report != nil {
		totals := report.Totals()
		s.logger.Info("scrape pass finished",
			"run_id", report.RunID,
			"pages", totals.Pages,
			"failed_pages", totals.FailedPages,
			"comments_saved", totals.CommentsSaved,
		)
	}
}
