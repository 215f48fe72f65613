package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/strategy"
)

var (
	// ErrMissingHandler is returned by New when a technique has no handler.
	ErrMissingHandler = errors.New("recovery technique has no handler")

	// ErrTechniquePanic wraps a panic raised by a technique handler.
	ErrTechniquePanic = errors.New("recovery technique panicked")

	// ErrUnsuccessful is recorded for a technique that returned without error
	// but did not succeed.
	ErrUnsuccessful = errors.New("recovery technique was unsuccessful")
)

// SiteContext identifies the page a task is working on.
type SiteContext struct {
	URL         string
	Fingerprint string

	// Session is the automation layer's handle on the shared page session.
	// It is passed through untouched.
	Session any
}

// FailureContext describes why the fresh attempt failed.
type FailureContext struct {
	// Instruction is the instruction that was tried.
	Instruction string

	// Reason is the failure message, if any.
	Reason string

	// Previous lists techniques already attempted in this run.
	Previous []Attempt
}

// Outcome is what a technique handler returns.
type Outcome struct {
	Succeeded bool
	Value     any

	// LearnedInstruction is the instruction that worked, if the technique can
	// express one. The target description is used when it is empty.
	LearnedInstruction string
}

// Handler executes one recovery technique. Timeouts are the handler's concern.
type Handler interface {
	Execute(ctx context.Context, site SiteContext, target string, failure FailureContext) (Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, site SiteContext, target string, failure FailureContext) (Outcome, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, site SiteContext, target string, failure FailureContext) (Outcome, error) {
	return f(ctx, site, target, failure)
}

// Handlers supplies one handler per technique.
type Handlers struct {
	Agent          Handler
	ActThenExtract Handler
	RefinedExtract Handler
	PageAnalysis   Handler
}

func (h Handlers) table() ([strategy.NumTechniques]Handler, error) {
	t := [strategy.NumTechniques]Handler{
		strategy.TechniqueAgent:          h.Agent,
		strategy.TechniqueActThenExtract: h.ActThenExtract,
		strategy.TechniqueRefinedExtract: h.RefinedExtract,
		strategy.TechniquePageAnalysis:   h.PageAnalysis,
	}
	for i, handler := range t {
		if handler == nil {
			return t, fmt.Errorf("%w: %s", ErrMissingHandler, strategy.Technique(i))
		}
	}
	return t, nil
}

// ApproachFor maps a technique to the approach its learned pattern uses.
func ApproachFor(t strategy.Technique) pattern.Approach {
	switch t {
	case strategy.TechniqueAgent:
		return pattern.ApproachAgent
	case strategy.TechniqueActThenExtract:
		return pattern.ApproachActThenExtract
	default:
		return pattern.ApproachExtract
	}
}

// State is a recovery run state.
type State int

// Run states.
const (
	StateNotStarted State = iota
	StateTryingStrategy
	StateSucceeded
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateTryingStrategy:
		return "trying_strategy"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Attempt records one technique attempt.
type Attempt struct {
	Technique strategy.Technique `json:"technique"`
	Succeeded bool               `json:"succeeded"`
	Duration  time.Duration      `json:"duration"`
	Error     string             `json:"error,omitempty"`
}

// Result is the outcome of a recovery run.
type Result struct {
	State    State     `json:"state"`
	Attempts []Attempt `json:"attempts"`

	// Technique is the technique that succeeded; valid when State is StateSucceeded.
	Technique strategy.Technique `json:"technique"`

	// Value is the extracted value of the succeeding technique.
	Value any `json:"value,omitempty"`

	// Learned is the pattern to store; nil unless the run succeeded.
	Learned *pattern.NewPattern `json:"learned,omitempty"`

	// Err is set when the context ended the run early.
	Err error `json:"-"`
}

// Succeeded reports whether the run found a working technique.
func (r *Result) Succeeded() bool {
	return r.State == StateSucceeded
}
