// Package scheduler drives the recurring ingestion-then-scoring run. It owns
// cadence only; the work itself lives in the ingest and scoring packages.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler runs a job on a fixed interval, skipping ticks that arrive while
// a run is still in flight.
type Scheduler struct {
	interval time.Duration
	job      Job
	clock    clockwork.Clock
	logger   *slog.Logger
	inFlight atomic.Bool
}

// New creates a Scheduler. interval must be positive.
func New(interval time.Duration, job Job, clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		interval: interval,
		job:      job,
		clock:    clock,
		logger:   logger,
	}
}

// Run fires the job once immediately, then on every interval tick until the
// context is cancelled. Runs execute off the tick loop so a slow run delays
// nothing; the tick that would overlap it is dropped, not queued. Returns
// once the context is cancelled and any in-flight run has finished.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "interval", s.interval)

	var wg sync.WaitGroup
	launch := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.fire(ctx)
		}()
	}

	launch()

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			wg.Wait()
			return
		case <-ticker.Chan():
			launch()
		}
	}
}

// fire runs the job unless one is already in flight.
func (s *Scheduler) fire(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Warn("previous run still in flight, skipping tick")
		return
	}
	defer s.inFlight.Store(false)

	if err := s.job(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("scheduled run failed", "error", err)
	}
}
