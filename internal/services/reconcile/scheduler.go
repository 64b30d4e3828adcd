package reconcile

import (
	"context"
	"time"

	"github.com/afladry360/telemetry/internal/logging"
)

// Runner is satisfied by *Engine.
type Runner interface {
	ReconcileAll(ctx context.Context) (Report, error)
}

// Scheduler triggers reconciliation on a fixed interval.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	log      logging.Logger
}

func NewScheduler(runner Runner, interval time.Duration, log logging.Logger) *Scheduler {
	return &Scheduler{runner: runner, interval: interval, log: log}
}

// Start blocks until ctx is done, running one reconcile per tick.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Infof("[Reconcile] scheduled every %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.runner.ReconcileAll(ctx); err != nil {
				s.log.Errorf("[Reconcile] scheduled run failed: %v", err)
			}
		}
	}
}
