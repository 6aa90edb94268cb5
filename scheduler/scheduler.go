package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Reindexer is the maintenance job run on every tick.
type Reindexer interface {
	ReindexIfNeeded(ctx context.Context) error
}

type Scheduler struct {
	checkInterval time.Duration
	job           Reindexer
	logger        *slog.Logger
}

func New(checkInterval time.Duration, job Reindexer, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		checkInterval: checkInterval,
		job:           job,
		logger:        logger,
	}
}

// Start runs the job once immediately and then every checkInterval until ctx
// is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting index maintenance scheduler",
		slog.Duration("interval", s.checkInterval))

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("Index maintenance scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()
	if err := s.job.ReindexIfNeeded(ctx); err != nil {
		s.logger.Error("Index maintenance failed",
			slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("Index maintenance completed",
		slog.Duration("elapsed", time.Since(start)))
}
