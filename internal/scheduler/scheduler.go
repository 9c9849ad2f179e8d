package scheduler

import (
	"context"
	"log/slog"
	"time"

	"catalog_sync/internal/domain"
)

// Runner pulls every configured platform once.
type Runner interface {
	RunAll(ctx context.Context) ([]*domain.PullReport, error)
}

type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
}

// Start runs a round immediately and then once per interval until ctx ends.
// Rounds never overlap: a round that outlasts the interval delays the next.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runRound(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runRound(ctx)
		}
	}
}

func (s *Scheduler) runRound(ctx context.Context) {
	reports, err := s.runner.RunAll(ctx)
	for _, report := range reports {
		s.logger.Info("pull finished",
			"platform", report.Platform,
			"outcome", report.Outcome(),
			"loaded", report.RecordsLoaded,
		)
	}
	if err != nil {
		s.logger.Error("pull round failed", "error", err)
	}
}
