package recovery

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

	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/strategy"
)

const instrumentationName = "github.com/fyrsmithlabs/patternd/internal/recovery"

// Selector orders techniques and records their outcomes.
// strategy.Selector implements it.
type Selector interface {
	OrderedStrategies(ctx context.Context, fingerprint string) []strategy.Technique
	RecordOutcome(ctx context.Context, fingerprint string, t strategy.Technique, succeeded bool, elapsed time.Duration) error
}

// Orchestrator creates and executes recovery runs. It is safe for concurrent use;
// each call to Recover gets its own run.
type Orchestrator struct {
	handlers [strategy.NumTechniques]Handler
	selector Selector
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// New creates an orchestrator. It returns ErrMissingHandler if any technique
// lacks a handler.
func New(handlers Handlers, selector Selector, logger *zap.Logger) (*Orchestrator, error) {
	table, err := handlers.table()
	if err != nil {
		return nil, err
	}
	if selector == nil {
		return nil, errors.New("strategy selector is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		handlers: table,
		selector: selector,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		now:      time.Now,
	}, nil
}

// Recover runs the techniques for site in learned order until one succeeds.
func (o *Orchestrator) Recover(ctx context.Context, site SiteContext, target string, failure FailureContext) *Result {
	r := &run{
		o:       o,
		site:    site,
		target:  target,
		failure: failure,
		result:  &Result{State: StateNotStarted},
	}
	return r.execute(ctx)
}

// run is the state of a single recovery.
type run struct {
	o       *Orchestrator
	site    SiteContext
	target  string
	failure FailureContext
	result  *Result
}

func (r *run) execute(ctx context.Context) *Result {
	ctx, span := r.o.tracer.Start(ctx, "recovery.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("fingerprint", r.site.Fingerprint),
		attribute.String("target", r.target),
	)

	order := r.o.selector.OrderedStrategies(ctx, r.site.Fingerprint)
	if len(order) > strategy.NumTechniques {
		order = order[:strategy.NumTechniques]
	}

	for i, t := range order {
		if !t.Valid() {
			continue
		}
		if err := ctx.Err(); err != nil {
			r.result.Err = err
			break
		}
		r.transition(StateTryingStrategy, zap.Int("index", i), zap.Stringer("technique", t))

		if r.attempt(ctx, t) {
			r.transition(StateSucceeded, zap.Stringer("technique", t))
			runsTotal.WithLabelValues("succeeded").Inc()
			span.SetAttributes(attribute.String("technique", t.String()))
			return r.result
		}
	}

	r.transition(StateExhausted, zap.Int("attempts", len(r.result.Attempts)))
	runsTotal.WithLabelValues("exhausted").Inc()
	span.SetStatus(codes.Error, "recovery exhausted")
	return r.result
}

// attempt executes t and records its outcome. It reports whether t succeeded.
func (r *run) attempt(ctx context.Context, t strategy.Technique) bool {
	ctx, span := r.o.tracer.Start(ctx, "recovery.attempt")
	defer span.End()
	span.SetAttributes(attribute.String("technique", t.String()))

	failure := r.failure
	failure.Previous = append([]Attempt(nil), r.result.Attempts...)

	start := r.o.now()
	out, err := r.invoke(ctx, t, failure)
	elapsed := r.o.now().Sub(start)

	if err == nil && !out.Succeeded {
		err = ErrUnsuccessful
	}
	succeeded := err == nil

	a := Attempt{Technique: t, Succeeded: succeeded, Duration: elapsed}
	if err != nil {
		a.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	r.result.Attempts = append(r.result.Attempts, a)

	// Record even if ctx was cancelled during the attempt.
	recordCtx := context.WithoutCancel(ctx)
	if rerr := r.o.selector.RecordOutcome(recordCtx, r.site.Fingerprint, t, succeeded, elapsed); rerr != nil {
		r.o.logger.Warn("failed to record strategy outcome",
			zap.String("fingerprint", r.site.Fingerprint),
			zap.Stringer("technique", t),
			zap.Error(rerr))
	}

	result := "failure"
	if succeeded {
		result = "success"
	}
	attemptsTotal.WithLabelValues(t.String(), result).Inc()

	if !succeeded {
		r.o.logger.Debug("recovery technique failed",
			zap.String("fingerprint", r.site.Fingerprint),
			zap.Stringer("technique", t),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return false
	}

	instruction := strings.TrimSpace(out.LearnedInstruction)
	if instruction == "" {
		instruction = r.target
	}
	r.result.Technique = t
	r.result.Value = out.Value
	r.result.Learned = &pattern.NewPattern{
		Fingerprint: r.site.Fingerprint,
		Target:      r.target,
		Instruction: instruction,
		Approach:    ApproachFor(t),
	}
	return true
}

// invoke calls the handler for t, converting a panic into an error.
func (r *run) invoke(ctx context.Context, t strategy.Technique, failure FailureContext) (out Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.o.logger.Error("recovery technique panicked",
				zap.String("fingerprint", r.site.Fingerprint),
				zap.Stringer("technique", t),
				zap.Any("panic", p))
			out, err = Outcome{}, fmt.Errorf("%w: %v", ErrTechniquePanic, p)
		}
	}()
	return r.o.handlers[t].Execute(ctx, r.site, r.target, failure)
}

func (r *run) transition(to State, fields ...zap.Field) {
	from := r.result.State
	r.result.State = to
	r.o.logger.Debug("recovery state transition",
		append([]zap.Field{
			zap.String("fingerprint", r.site.Fingerprint),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		}, fields...)...)
}
