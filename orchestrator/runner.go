// ABOUTME: This file implements the periodic scheduler that drives collection cycles
// ABOUTME: A run of all-failed cycles stretches the cadence with exponential backoff until one succeeds
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ScheduleConfig configures the collection cadence.
type ScheduleConfig struct {
	Interval       time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffOn      []error // cycle errors that stretch the cadence instead of just logging
	RunImmediately bool    // run one cycle before the first tick
}

// Scheduler runs collection cycles on a fixed interval. Cycle errors listed
// in BackoffOn double the wait between runs up to MaxBackoff; the first
// successful cycle restores the normal cadence.
type Scheduler struct {
	cfg    ScheduleConfig
	run    func(ctx context.Context) error
	logger *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler around the given cycle function.
func NewScheduler(cfg ScheduleConfig, run func(ctx context.Context) error, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cfg: cfg, run: run, logger: logger}
}

// Start launches the collection loop in its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(loopCtx)
	}()
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	if s.cfg.RunImmediately {
		if err := s.invoke(ctx); err != nil {
			s.logger.ErrorContext(ctx, "initial collection cycle failed", "error", err)
		}
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var backoff time.Duration
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "collection loop stopped")
			return
		case <-ticker.C:
			err := s.invoke(ctx)
			switch {
			case err == nil:
				if backoff > 0 {
					s.logger.InfoContext(ctx, "cycles recovered, resuming normal cadence")
					backoff = 0
					ticker.Reset(s.cfg.Interval)
				}
			case s.shouldBackoff(err):
				backoff = s.nextBackoff(backoff)
				s.logger.WarnContext(ctx, "stretching collection cadence",
					"backoff", backoff, "error", err)
				ticker.Reset(backoff)
			default:
				s.logger.ErrorContext(ctx, "collection cycle failed", "error", err)
			}
		}
	}
}

// invoke runs one cycle. A panicking cycle is converted to an error so the
// loop keeps scheduling.
func (s *Scheduler) invoke(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.ErrorContext(ctx, "collection cycle panicked", "panic", rec)
			err = fmt.Errorf("collection cycle panicked: %v", rec)
		}
	}()
	return s.run(ctx)
}

func (s *Scheduler) shouldBackoff(err error) bool {
	for _, target := range s.cfg.BackoffOn {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// nextBackoff doubles the current backoff, bounded by MaxBackoff. Zero config
// values fall back to 30s initial and 5m max.
func (s *Scheduler) nextBackoff(current time.Duration) time.Duration {
	initial := s.cfg.InitialBackoff
	if initial == 0 {
		initial = 30 * time.Second
	}
	ceiling := s.cfg.MaxBackoff
	if ceiling == 0 {
		ceiling = 5 * time.Minute
	}

	if current == 0 {
		return initial
	}
	if next := current * 2; next < ceiling {
		return next
	}
	return ceiling
}
