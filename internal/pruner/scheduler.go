package pruner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule runs the pruner every six hours.
const DefaultSchedule = "@every 6h"

// cronParser accepts standard five-field expressions and descriptors such as
// "@daily" or "@every 6h".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether expr is a schedule the Scheduler accepts.
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", expr, err)
	}
	return nil
}

// Run describes the most recent scheduled pass.
type Run struct {
	StartedAt time.Time
	Report    *Report
	Err       error
}

// Scheduler runs prune passes on a cron schedule.
//
// Start and Stop are safe to call concurrently and repeatedly. A pass that is
// still running when the next one is due causes that one to be skipped.
type Scheduler struct {
	pruner   *Pruner
	schedule string
	logger   *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
	last    *Run
}

// NewScheduler creates a scheduler. An empty schedule uses DefaultSchedule.
func NewScheduler(p *Pruner, schedule string, logger *zap.Logger) (*Scheduler, error) {
	if p == nil {
		return nil, errors.New("pruner is required")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{pruner: p, schedule: schedule, logger: logger}, nil
}

// Start begins scheduled passes. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.schedule, func() { s.RunOnce(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule prune job: %w", err)
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.running = true
	s.logger.Info("prune scheduler started", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts scheduling and waits for a running pass to finish. Calling Stop on
// a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	s.logger.Info("prune scheduler stopped")
}

// Running reports whether the scheduler is started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunOnce executes a single pass immediately and records it as the last run.
func (s *Scheduler) RunOnce(ctx context.Context) (*Report, error) {
	started := time.Now()
	report, err := s.pruner.Prune(ctx, Options{})
	if err != nil {
		s.logger.Error("scheduled prune failed", zap.Error(err))
	}

	s.mu.Lock()
	s.last = &Run{StartedAt: started, Report: report, Err: err}
	s.mu.Unlock()
	return report, err
}

// LastRun returns the most recent pass, or nil if none has run.
func (s *Scheduler) LastRun() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
