package config

import (
	"log"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/robfig/cron/v3"
)

// Checkpointer is whatever the scheduler should call on each tick:
// BRIN.Checkpoint, KeyToPageIndex.Checkpoint, or a closure fanning out to
// several of either.
type Checkpointer func() error

// Scheduler drives periodic checkpoints on a cron schedule and coalesces
// manually triggered requests that arrive faster than a checkpoint can
// complete, so a burst of Trigger calls produces one checkpoint instead of
// a queue of redundant ones.
type Scheduler struct {
	cfg        CheckpointConfig
	checkpoint Checkpointer
	logger     *log.Logger
	cron       *cron.Cron
	debounced  func(func())
	mu         sync.Mutex
	lastErr    error
}

// NewScheduler builds a Scheduler around checkpoint, using logger for
// diagnostics (never the global logger, so callers can capture output).
func NewScheduler(cfg CheckpointConfig, checkpoint Checkpointer, logger *log.Logger) *Scheduler {
	window := time.Duration(cfg.CoalesceWindowMillis) * time.Millisecond
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	return &Scheduler{
		cfg:        cfg,
		checkpoint: checkpoint,
		logger:     logger,
		cron:       cron.New(cron.WithSeconds()),
		debounced:  debounce.New(window),
	}
}

// Start registers the cron schedule and starts the cron loop. It is a
// no-op if the configuration disables checkpoint scheduling.
func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if _, err := s.cron.AddFunc(s.cfg.Schedule, s.runCheckpoint); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Printf("checkpoint scheduler started: schedule=%q", s.cfg.Schedule)
	return nil
}

// Stop halts the cron loop, waiting for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	if !s.cfg.Enabled {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Printf("checkpoint scheduler stopped")
}

// Trigger requests a checkpoint outside the cron schedule (e.g. because a
// caller is about to close the store). Concurrent triggers within the
// coalesce window collapse into a single checkpoint run.
func (s *Scheduler) Trigger() {
	s.debounced(s.runCheckpoint)
}

// LastError returns the error from the most recent checkpoint attempt, if
// any.
func (s *Scheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Scheduler) runCheckpoint() {
	err := s.checkpoint()
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	if err != nil {
		s.logger.Printf("checkpoint failed: %v", err)
	}
}
