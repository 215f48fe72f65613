// Package pruner deletes patterns that have stopped working.
//
// A pattern is pruned when its fitness is below the cutoff (0.05) and it has
// failed at least MinFailures (3) times. Patterns meeting only one condition are
// left untouched. The pruner also sweeps stale strategy statistics from stores
// that need an explicit sweep.
package pruner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/patternd/internal/events"
	"github.com/fyrsmithlabs/patternd/internal/fitness"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/strategy"
)

// Config configures a Pruner.
type Config struct {
	// BatchSize is the page size used when listing patterns.
	BatchSize int

	// FitnessCutoff is the fitness below which a pattern may be pruned.
	FitnessCutoff float64

	// MinFailures is the failure count a pattern needs before it may be pruned.
	MinFailures int

	// DeletesPerSecond paces deletions. Zero or less means unlimited.
	DeletesPerSecond float64

	// StatTTL is the age after which strategy stats are swept. Zero disables the sweep.
	StatTTL time.Duration
}

// DefaultConfig returns the default pruning policy.
func DefaultConfig() Config {
	return Config{
		BatchSize:        100,
		FitnessCutoff:    0.05,
		MinFailures:      3,
		DeletesPerSecond: 50,
		StatTTL:          90 * 24 * time.Hour,
	}
}

// Removed describes a pruned (or, in a dry run, prunable) pattern.
type Removed struct {
	ID           string  `json:"id"`
	Fingerprint  string  `json:"fingerprint"`
	Target       string  `json:"target"`
	Fitness      float64 `json:"fitness"`
	FailureCount int     `json:"failure_count"`
}

// Report summarizes one pruning pass.
type Report struct {
	DryRun     bool          `json:"dry_run"`
	Scanned    int           `json:"scanned"`
	Pruned     int           `json:"pruned"`
	Remaining  int           `json:"remaining"`
	Failed     int           `json:"failed"`
	StatsSwept int           `json:"stats_swept"`
	Removed    []Removed     `json:"removed,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Options control a single pass.
type Options struct {
	// DryRun reports what would be pruned without deleting anything.
	DryRun bool
}

// Option configures a Pruner.
type Option func(*Pruner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pruner) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithPublisher publishes a pattern.pruned event per deletion.
func WithPublisher(pub events.Publisher) Option {
	return func(p *Pruner) {
		if pub != nil {
			p.publisher = pub
		}
	}
}

// WithStatSweeper sweeps stale strategy stats after each pass.
func WithStatSweeper(s strategy.Sweeper) Option {
	return func(p *Pruner) {
		p.sweeper = s
	}
}

// WithClock replaces the clock used for fitness. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pruner) {
		p.now = now
	}
}

// Pruner removes unreliable patterns from a store.
type Pruner struct {
	store     pattern.Store
	config    Config
	limiter   *rate.Limiter
	publisher events.Publisher
	sweeper   strategy.Sweeper
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a pruner over store.
func New(store pattern.Store, cfg Config, opts ...Option) (*Pruner, error) {
	if store == nil {
		return nil, errors.New("pattern store is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}

	limit := rate.Inf
	if cfg.DeletesPerSecond > 0 {
		limit = rate.Limit(cfg.DeletesPerSecond)
	}
	burst := int(math.Max(1, math.Ceil(cfg.DeletesPerSecond)))

	p := &Pruner{
		store:     store,
		config:    cfg,
		limiter:   rate.NewLimiter(limit, burst),
		publisher: events.Nop{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ShouldPrune reports whether a pattern with the given fitness meets both
// pruning conditions.
func (p *Pruner) ShouldPrune(pat *pattern.Pattern, fit float64) bool {
	return fit < p.config.FitnessCutoff && pat.FailureCount >= p.config.MinFailures
}

// Prune scans every pattern and deletes those that meet both pruning conditions.
// A failed delete is logged and counted; the pass continues. A failed list or a
// cancelled context ends the pass with an error and the partial report.
func (p *Pruner) Prune(ctx context.Context, opts Options) (*Report, error) {
	start := time.Now()
	report := &Report{DryRun: opts.DryRun}
	defer func() {
		report.Remaining = report.Scanned - report.Pruned
		report.Duration = time.Since(start)
		runDuration.Observe(report.Duration.Seconds())
	}()

	now := p.now()
	offset := 0
	for {
		batch, err := p.store.List(ctx, p.config.BatchSize, offset)
		if err != nil {
			return report, fmt.Errorf("list patterns at offset %d: %w", offset, err)
		}

		// Deleted rows shift later rows down, so the offset only advances past
		// rows that are still in the store.
		kept := 0
		for i := range batch {
			pat := &batch[i]
			report.Scanned++

			fit := fitness.Score(pat, now)
			if !p.ShouldPrune(pat, fit) {
				kept++
				continue
			}

			removed := Removed{
				ID:           pat.ID,
				Fingerprint:  pat.Fingerprint,
				Target:       pat.Target,
				Fitness:      fit,
				FailureCount: pat.FailureCount,
			}
			if opts.DryRun {
				kept++
				report.Pruned++
				report.Removed = append(report.Removed, removed)
				continue
			}

			if err := p.limiter.Wait(ctx); err != nil {
				return report, err
			}
			if err := p.store.Delete(ctx, pat.ID); err != nil {
				if errors.Is(err, pattern.ErrNotFound) {
					report.Scanned--
					continue
				}
				kept++
				report.Failed++
				p.logger.Warn("failed to delete pattern",
					zap.String("pattern_id", pat.ID),
					zap.Error(err))
				continue
			}

			report.Pruned++
			report.Removed = append(report.Removed, removed)
			patternsPruned.Inc()
			p.logger.Info("pattern pruned",
				zap.String("pattern_id", pat.ID),
				zap.String("fingerprint", pat.Fingerprint),
				zap.Float64("fitness", fit),
				zap.Int("failure_count", pat.FailureCount))

			if err := p.publisher.Publish(ctx, events.PatternPruned{
				PatternID:    pat.ID,
				Fingerprint:  pat.Fingerprint,
				Target:       pat.Target,
				Fitness:      fit,
				FailureCount: pat.FailureCount,
				At:           now,
			}); err != nil {
				p.logger.Warn("failed to publish pruned event",
					zap.String("pattern_id", pat.ID),
					zap.Error(err))
			}
		}

		if len(batch) < p.config.BatchSize {
			break
		}
		offset += kept
	}

	if !opts.DryRun && p.sweeper != nil && p.config.StatTTL > 0 {
		swept, err := p.sweeper.SweepStale(ctx, p.config.StatTTL)
		if err != nil {
			p.logger.Warn("failed to sweep stale strategy stats", zap.Error(err))
		}
		report.StatsSwept = swept
	}

	p.logger.Info("prune pass complete",
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("scanned", report.Scanned),
		zap.Int("pruned", report.Pruned),
		zap.Int("failed", report.Failed),
		zap.Int("stats_swept", report.StatsSwept))
	return report, nil
}
