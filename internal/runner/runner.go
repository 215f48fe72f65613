// Package runner executes extraction tasks end to end.
//
// A task is first matched against cached patterns. A cache hit is attempted
// with the chosen pattern and its outcome feeds the pattern's counters and the
// confidence threshold. On a miss or a failed cache attempt the executor tries
// a fresh extraction, and if that fails the recovery orchestrator takes over.
// Successful fresh and recovered extractions are stored as new patterns.
//
// Collaborator failures never fail a task; they are logged and degraded to the
// most conservative outcome for that step.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/decision"
	"github.com/fyrsmithlabs/patternd/internal/events"
	"github.com/fyrsmithlabs/patternd/internal/fingerprint"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/recovery"
	"github.com/fyrsmithlabs/patternd/internal/secrets"
	"github.com/fyrsmithlabs/patternd/internal/strategy"
)

const instrumentationName = "github.com/fyrsmithlabs/patternd/internal/runner"

// DefaultTopK is the number of candidates requested from the search.
const DefaultTopK = 5

var (
	// ErrInvalidTask is returned by Run for a task without a URL or target.
	ErrInvalidTask = errors.New("invalid task")

	// ErrExecutorPanic wraps a panic raised by the executor.
	ErrExecutorPanic = errors.New("executor panicked")
)

// Task is one extraction request.
type Task struct {
	URL    string
	Target string

	// Session is the automation layer's page session, passed through to the
	// executor and recovery techniques.
	Session any
}

func (t Task) validate() error {
	if strings.TrimSpace(t.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidTask)
	}
	if strings.TrimSpace(t.Target) == "" {
		return fmt.Errorf("%w: target is required", ErrInvalidTask)
	}
	return nil
}

// Executor performs extraction attempts on a page. Timeouts are its concern.
type Executor interface {
	// Cached attempts extraction with a stored pattern.
	Cached(ctx context.Context, site recovery.SiteContext, target string, p pattern.Pattern) (recovery.Outcome, error)

	// Fresh attempts extraction from the target description alone.
	Fresh(ctx context.Context, site recovery.SiteContext, target string) (recovery.Outcome, error)
}

// Threshold reads and adjusts the confidence threshold.
// confidence.Controller implements it.
type Threshold interface {
	Get(ctx context.Context) float64
	Adjust(ctx context.Context, wasSuccessful bool) float64
}

// Recoverer runs recovery after a failed fresh attempt.
// recovery.Orchestrator implements it.
type Recoverer interface {
	Recover(ctx context.Context, site recovery.SiteContext, target string, failure recovery.FailureContext) *recovery.Result
}

// Scrubber removes credentials from instructions before they are stored.
// secrets.Scrubber implements it.
type Scrubber interface {
	Scrub(text string) secrets.Result
}

// Deps are the runner's collaborators. Publisher, Scrubber and Logger are optional.
type Deps struct {
	Store     pattern.Store
	Searcher  pattern.Searcher
	Threshold Threshold
	Engine    *decision.Engine
	Executor  Executor
	Recoverer Recoverer
	Publisher events.Publisher
	Scrubber  Scrubber
	Logger    *zap.Logger
}

// Config configures a Runner.
type Config struct {
	// TopK is the number of search candidates considered per task.
	TopK int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{TopK: DefaultTopK}
}

// Result is what a task produced.
type Result struct {
	// Succeeded is false only when the cache, fresh and recovery attempts all failed.
	Succeeded bool `json:"succeeded"`

	// Value is the extracted value.
	Value any `json:"value,omitempty"`

	// PatternID is the pattern that was reused or learned, if any.
	PatternID string `json:"pattern_id,omitempty"`

	// Fingerprint is the site fingerprint the task was matched on.
	Fingerprint string `json:"fingerprint"`

	// CacheHit is true when the decision chose a cached pattern.
	CacheHit bool `json:"cache_hit"`

	// CacheAttempted is true when the cached pattern was executed.
	CacheAttempted bool `json:"cache_attempted"`

	// Recovered is true when a recovery technique produced the value.
	Recovered bool `json:"recovered"`

	// Technique is the succeeding recovery technique; valid when Recovered.
	Technique strategy.Technique `json:"technique"`

	Decision decision.Decision `json:"decision"`

	// Recovery is the recovery run, if one happened.
	Recovery *recovery.Result `json:"recovery,omitempty"`
}

// Runner executes tasks. It is safe for concurrent use; each Run is an
// independent flow sharing only the stores and the threshold.
type Runner struct {
	store     pattern.Store
	searcher  pattern.Searcher
	threshold Threshold
	engine    *decision.Engine
	executor  Executor
	recoverer Recoverer
	publisher events.Publisher
	scrubber  Scrubber
	config    Config
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// New creates a runner.
func New(deps Deps, cfg Config) (*Runner, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pattern store is required")
	case deps.Searcher == nil:
		return nil, errors.New("pattern searcher is required")
	case deps.Threshold == nil:
		return nil, errors.New("threshold is required")
	case deps.Executor == nil:
		return nil, errors.New("executor is required")
	case deps.Recoverer == nil:
		return nil, errors.New("recoverer is required")
	}
	if deps.Engine == nil {
		deps.Engine = decision.NewEngine(decision.DefaultConfig())
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}

	return &Runner{
		store:     deps.Store,
		searcher:  deps.Searcher,
		threshold: deps.Threshold,
		engine:    deps.Engine,
		executor:  deps.Executor,
		recoverer: deps.Recoverer,
		publisher: deps.Publisher,
		scrubber:  deps.Scrubber,
		config:    cfg,
		logger:    deps.Logger,
		tracer:    otel.Tracer(instrumentationName),
		now:       time.Now,
	}, nil
}

// WithClock replaces the runner's clock used for event timestamps. Intended for tests.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Run executes task. The returned error is non-nil only for an invalid task or
// a context that ended the run; a task that failed every attempt returns a
// Result with Succeeded false and a nil error.
func (r *Runner) Run(ctx context.Context, task Task) (res *Result, err error) {
	if err := task.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "runner.run",
		trace.WithAttributes(attribute.String("target", task.Target)),
	)
	defer span.End()

	start := time.Now()
	res = &Result{}
	outcome := outcomeFailed
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.String("outcome", outcome),
			attribute.Bool("cache_hit", res.CacheHit),
		)
		tasksTotal.WithLabelValues(outcome).Inc()
		taskDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	fp, fpErr := fingerprint.FromURL(task.URL)
	if fpErr != nil {
		r.logger.Warn("fingerprint derivation failed, using raw url",
			zap.String("url", task.URL),
			zap.Error(fpErr))
		fp = task.URL
	}
	res.Fingerprint = fp
	span.SetAttributes(attribute.String("fingerprint", fp))

	site := recovery.SiteContext{URL: task.URL, Fingerprint: fp, Session: task.Session}

	candidates := r.search(ctx, fp, task.Target)
	d := r.engine.Decide(candidates.list, r.threshold.Get(ctx))
	if candidates.failed && !d.Hit {
		d.Reason = decision.ReasonSearchFailed
	}
	decision.Observe(d)
	res.Decision = d
	res.CacheHit = d.Hit
	r.logDecision(fp, task.Target, d)

	if d.Hit {
		if r.tryCached(ctx, site, task.Target, d.Best.Pattern, res) {
			outcome = outcomeCache
			return res, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	out, freshErr := r.safely(func() (recovery.Outcome, error) {
		return r.executor.Fresh(ctx, site, task.Target)
	})
	if freshErr == nil && out.Succeeded {
		res.Succeeded = true
		res.Value = out.Value
		res.PatternID = r.learn(ctx, candidates.list, pattern.NewPattern{
			Fingerprint: fp,
			Target:      task.Target,
			Instruction: instructionOrTarget(out.LearnedInstruction, task.Target),
			Approach:    pattern.ApproachExtract,
		}, "")
		outcome = outcomeFresh
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	failure := recovery.FailureContext{Instruction: task.Target, Reason: failureReason(freshErr)}
	rec := r.recoverer.Recover(ctx, site, task.Target, failure)
	res.Recovery = rec

	if rec.Succeeded() {
		res.Succeeded = true
		res.Recovered = true
		res.Technique = rec.Technique
		res.Value = rec.Value
		if rec.Learned != nil {
			res.PatternID = r.learn(ctx, candidates.list, *rec.Learned, rec.Technique.String())
		}
		outcome = outcomeRecovered
		return res, nil
	}
	if rec.Err != nil {
		return res, rec.Err
	}

	r.logger.Info("task failed, recovery exhausted",
		zap.String("fingerprint", fp),
		zap.String("target", task.Target),
		zap.Int("attempts", len(rec.Attempts)))
	r.publish(ctx, events.RecoveryExhausted{
		URL:         task.URL,
		Fingerprint: fp,
		Target:      task.Target,
		Attempts:    len(rec.Attempts),
		At:          r.now(),
	})
	return res, nil
}

type searchResult struct {
	list   []pattern.Candidate
	failed bool
}

func (r *Runner) search(ctx context.Context, fp, target string) searchResult {
	list, err := r.searcher.Query(ctx, pattern.QueryText(fp, target), r.config.TopK)
	if err != nil {
		collaboratorFailures.WithLabelValues("search").Inc()
		r.logger.Warn("pattern search failed, treating as no candidates",
			zap.String("fingerprint", fp),
			zap.Error(err))
		return searchResult{failed: true}
	}
	return searchResult{list: list}
}

// tryCached executes the chosen pattern and feeds its outcome back. It reports
// whether the task is done.
func (r *Runner) tryCached(ctx context.Context, site recovery.SiteContext, target string, p pattern.Pattern, res *Result) bool {
	res.CacheAttempted = true
	out, err := r.safely(func() (recovery.Outcome, error) {
		return r.executor.Cached(ctx, site, target, p)
	})
	succeeded := err == nil && out.Succeeded

	// The attempt completed; its outcome is recorded even if ctx has ended.
	recordCtx := context.WithoutCancel(ctx)
	record := r.store.IncrementFailure
	if succeeded {
		record = r.store.IncrementSuccess
	}
	if recErr := record(recordCtx, p.ID); recErr != nil {
		collaboratorFailures.WithLabelValues("store").Inc()
		r.logger.Warn("failed to record pattern outcome",
			zap.String("pattern_id", p.ID),
			zap.Bool("succeeded", succeeded),
			zap.Error(recErr))
	}
	threshold := r.threshold.Adjust(recordCtx, succeeded)

	r.logger.Debug("cached pattern attempted",
		zap.String("pattern_id", p.ID),
		zap.String("fingerprint", site.Fingerprint),
		zap.Bool("succeeded", succeeded),
		zap.Float64("threshold", threshold),
		zap.Error(err))

	if !succeeded {
		return false
	}
	res.Succeeded = true
	res.Value = out.Value
	res.PatternID = p.ID
	return true
}

// learn scrubs np's instruction, stores np unless a candidate already holds
// the same recipe, and returns the pattern id. Store failures are logged and yield an empty id.
func (r *Runner) learn(ctx context.Context, candidates []pattern.Candidate, np pattern.NewPattern, technique string) string {
	if r.scrubber != nil {
		if scrubbed := r.scrubber.Scrub(np.Instruction); scrubbed.Redacted() {
			np.Instruction = scrubbed.Text
			r.logger.Info("redacted credentials from learned instruction",
				zap.String("fingerprint", np.Fingerprint),
				zap.Strings("rules", scrubbed.RuleIDs()))
		}
	}

	for _, c := range candidates {
		p := c.Pattern
		if p.Fingerprint == np.Fingerprint && p.Target == np.Target &&
			p.Instruction == np.Instruction && p.Approach == np.Approach {
			return p.ID
		}
	}

	id, err := r.store.Create(context.WithoutCancel(ctx), np)
	if err != nil {
		collaboratorFailures.WithLabelValues("store").Inc()
		r.logger.Warn("failed to store learned pattern",
			zap.String("fingerprint", np.Fingerprint),
			zap.String("target", np.Target),
			zap.Error(err))
		return ""
	}

	r.logger.Info("pattern learned",
		zap.String("pattern_id", id),
		zap.String("fingerprint", np.Fingerprint),
		zap.String("approach", string(np.Approach)),
		zap.String("technique", technique))
	r.publish(ctx, events.PatternLearned{
		PatternID:   id,
		Fingerprint: np.Fingerprint,
		Target:      np.Target,
		Approach:    string(np.Approach),
		Technique:   technique,
		At:          r.now(),
	})
	return id
}

func (r *Runner) publish(ctx context.Context, e events.Event) {
	if err := r.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		collaboratorFailures.WithLabelValues("publish").Inc()
		r.logger.Warn("failed to publish event",
			zap.String("subject", e.Subject()),
			zap.Error(err))
	}
}

// safely calls fn, converting a panic into an error.
func (r *Runner) safely(fn func() (recovery.Outcome, error)) (out recovery.Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			collaboratorFailures.WithLabelValues("executor").Inc()
			r.logger.Error("executor panicked", zap.Any("panic", p))
			out = recovery.Outcome{}
			err = fmt.Errorf("%w: %v", ErrExecutorPanic, p)
		}
	}()
	return fn()
}

func (r *Runner) logDecision(fp, target string, d decision.Decision) {
	fields := []zap.Field{
		zap.String("fingerprint", fp),
		zap.String("target", target),
		zap.Bool("hit", d.Hit),
		zap.Float64("threshold", d.Threshold),
		zap.Int("considered", d.Considered),
		zap.Int("discarded", d.Discarded),
	}
	if d.Best != nil {
		fields = append(fields,
			zap.String("pattern_id", d.Best.Pattern.ID),
			zap.Float64("composite", d.Best.Composite))
	}
	if d.Reason != decision.ReasonNone {
		fields = append(fields, zap.String("reason", string(d.Reason)))
	}
	r.logger.Debug("cache decision", fields...)
}

func instructionOrTarget(instruction, target string) string {
	if strings.TrimSpace(instruction) != "" {
		return instruction
	}
	return target
}

func failureReason(err error) string {
	if err != nil {
		return err.Error()
	}
	return "fresh extraction was unsuccessful"
}
