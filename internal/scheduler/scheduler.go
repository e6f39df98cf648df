// Package scheduler drives the periodic calculation cycle. One scheduler
// instance owns the overlap and rate guards; the cron trigger and the manual
// trigger go through the same gate.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"crypto-signal-backend/internal/coordinator"
	"crypto-signal-backend/internal/logger"
	"crypto-signal-backend/internal/model"
)

var (
	// ErrCycleInProgress rejects a trigger while a cycle is still running.
	ErrCycleInProgress = errors.New("scheduler: calculation cycle already in progress")

	// ErrTooSoon rejects a trigger before the minimum inter-cycle gap has
	// elapsed since the previous cycle finished.
	ErrTooSoon = errors.New("scheduler: minimum interval since last cycle not elapsed")
)

// CycleRunner runs one symbol's multi-timeframe cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, symbol string) (*model.CycleResult, error)
}

// Sink receives each completed cycle result. Implementations are the redis
// writer, the sqlite history writer and the notifier.
type Sink interface {
	Publish(ctx context.Context, result *model.CycleResult) error
}

// Config tunes the scheduler. Zero values take the defaults.
type Config struct {
	Interval time.Duration // cycle period (default 4m)
	MinGap   time.Duration // floor between cycles, manual triggers included (default 30s)
	Symbols  []string
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 4 * time.Minute
	}
	if c.MinGap <= 0 {
		c.MinGap = 30 * time.Second
	}
}

// Scheduler is explicitly constructed with its collaborators; it keeps no
// package-level state.
type Scheduler struct {
	cfg    Config
	runner CycleRunner
	sinks  []Sink
	cron   *cron.Cron

	mu            sync.Mutex
	isCalculating bool
	lastCycle     time.Time

	now func() time.Time

	// OnReject, when set, observes guard rejections ("in_progress" or
	// "too_soon"). Used for metrics.
	OnReject func(reason string)
}

// New creates a scheduler. Sinks may be nil or empty; results are then only
// logged.
func New(runner CycleRunner, sinks []Sink, cfg Config) *Scheduler {
	cfg.defaults()
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		sinks:  sinks,
		cron:   cron.New(),
		now:    time.Now,
	}
}

// Start registers the cron entry and begins scheduling. The ctx bounds every
// scheduled cycle.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	_, err := s.cron.AddFunc(spec, func() {
		if err := s.Trigger(ctx); err != nil {
			log.Printf("[scheduler] scheduled cycle skipped: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: register cron entry: %w", err)
	}
	s.cron.Start()
	log.Printf("[scheduler] started, interval %s, %d symbols", s.cfg.Interval, len(s.cfg.Symbols))
	return nil
}

// Stop halts scheduling and waits for a running cron invocation to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Trigger runs one full cycle across all configured symbols, subject to the
// same guards as the cron path. Manual triggers from the API call this.
func (s *Scheduler) Trigger(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	for _, symbol := range s.cfg.Symbols {
		s.runSymbol(ctx, symbol)
	}
	return nil
}

// runSymbol executes one symbol's cycle under a fresh trace ID, so the
// coordinator, the sinks and the stores all log the same correlation key.
func (s *Scheduler) runSymbol(ctx context.Context, symbol string) {
	cycleCtx, cancel := context.WithTimeout(ctx, coordinator.CycleTimeout)
	defer cancel()
	cycleCtx = logger.WithTraceID(cycleCtx, logger.GenerateTraceID(symbol, s.now()))

	result, err := s.runner.RunCycle(cycleCtx, symbol)
	if err != nil {
		// One bad symbol must not starve the rest.
		slog.Error("cycle failed", append(logger.LogWithTrace(cycleCtx),
			slog.String("symbol", symbol), slog.Any("error", err))...)
		return
	}
	s.emit(cycleCtx, result)
}

// begin takes the cycle slot or explains why it cannot.
func (s *Scheduler) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isCalculating {
		s.reject("in_progress")
		return ErrCycleInProgress
	}
	if !s.lastCycle.IsZero() {
		if elapsed := s.now().Sub(s.lastCycle); elapsed < s.cfg.MinGap {
			s.reject("too_soon")
			return fmt.Errorf("%w: %s of %s elapsed", ErrTooSoon, elapsed.Round(time.Millisecond), s.cfg.MinGap)
		}
	}
	s.isCalculating = true
	return nil
}

func (s *Scheduler) end() {
	s.mu.Lock()
	s.isCalculating = false
	s.lastCycle = s.now()
	s.mu.Unlock()
}

func (s *Scheduler) reject(reason string) {
	if s.OnReject != nil {
		s.OnReject(reason)
	}
}

// emit fans the result out to every sink. Sink failures are logged and do
// not affect the other sinks.
func (s *Scheduler) emit(ctx context.Context, result *model.CycleResult) {
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, result); err != nil {
			slog.Error("sink failed", append(logger.LogWithTrace(ctx),
				slog.String("sink", fmt.Sprintf("%T", sink)),
				slog.String("symbol", result.Symbol), slog.Any("error", err))...)
		}
	}
	slog.Info("cycle done", append(logger.LogWithTrace(ctx),
		slog.String("symbol", result.Symbol),
		slog.Int("signals", len(result.Signals)),
		slog.Int("errors", len(result.Errors)),
		slog.Float64("agreement", result.Agreement))...)
}
