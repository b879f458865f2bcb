package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/scoutreport/internal/config"
	"github.com/kiranshivaraju/scoutreport/internal/queue"
	"github.com/kiranshivaraju/scoutreport/internal/store"
)

// Sweeper re-dispatches jobs that fell through the cracks: queued jobs
// whose dispatch was lost and processing jobs whose run died without
// recording an outcome.
type Sweeper struct {
	store      store.Store
	dispatcher queue.Dispatcher
	interval   time.Duration
	grace      time.Duration
	batch      int
	logger     *slog.Logger
	now        func() time.Time
}

func NewSweeper(st store.Store, d queue.Dispatcher, cfg config.PipelineConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		store:      st,
		dispatcher: d,
		interval:   cfg.SweepInterval,
		grace:      cfg.QueuedGrace,
		batch:      cfg.SweepBatch,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if s.interval <= 0 {
		s.interval = defaultSweepInterval
	}
	if s.grace <= 0 {
		s.grace = defaultQueuedGrace
	}
	if s.batch <= 0 {
		s.batch = defaultSweepBatch
	}
	return s
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("recovery sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce dispatches one batch of stale jobs and returns how many were
// handed off.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.store.ListStaleReports(ctx, store.StaleFilter{
		QueuedBefore:       now.Add(-s.grace),
		LeaseExpiredBefore: now,
		Limit:              s.batch,
	})
	if err != nil {
		return 0, fmt.Errorf("list stale reports: %w", err)
	}

	dispatched := 0
	for _, job := range stale {
		if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
			s.logger.Warn("re-dispatch failed", "job_id", job.ID, "status", job.Status, "error", err)
			continue
		}
		dispatched++
	}
	if dispatched > 0 {
		s.logger.Info("re-dispatched stale report jobs", "count", dispatched)
	}
	return dispatched, nil
}
