package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/config"
)

// Scheduler periodically triggers batch feature computation.
type Scheduler struct {
	batch      *BatchService
	interval   time.Duration
	timeout    time.Duration
	runOnStart bool
	logger     *slog.Logger
	stop       chan struct{}
	running    atomic.Bool
}

// NewScheduler creates the periodic batch trigger.
func NewScheduler(batch *BatchService, cfg config.BatchConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		batch:      batch,
		interval:   cfg.Interval,
		timeout:    cfg.Timeout,
		runOnStart: cfg.RunOnStart,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Running reports whether the scheduler loop is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Start runs the schedule loop until the context is canceled or Stop is
// called. Manually triggered runs and scheduled runs share the batch
// service's single-flight guard, so they never overlap.
func (s *Scheduler) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	if s.runOnStart {
		s.safeRun(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeRun(ctx)
		}
	}
}

// Stop signals the scheduler to stop.
func (s *Scheduler) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Scheduler) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in batch scheduler", "panic", fmt.Sprint(r))
		}
	}()

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if _, err := s.batch.Run(runCtx); errors.Is(err, ErrBatchInFlight) {
		s.logger.Debug("scheduled batch run skipped, another run is in flight")
	}
}
