package http

import (
	"time"

	"github.com/fyrsmithlabs/patternd/internal/decision"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/strategy"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status    string     `json:"status"`
	Version   string     `json:"version,omitempty"`
	Patterns  int        `json:"patterns"`
	Indexed   int        `json:"indexed"`
	Threshold float64    `json:"threshold"`
	Decisions Decisions  `json:"decisions"`
	LastPrune *PruneRun  `json:"last_prune,omitempty"`
	Scheduler *Scheduler `json:"scheduler,omitempty"`
}

// Decisions counts the cache decisions served since the process started.
type Decisions struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Scheduler describes the prune scheduler state.
type Scheduler struct {
	Running bool `json:"running"`
}

// PruneRun describes the most recent scheduled prune pass.
type PruneRun struct {
	StartedAt time.Time `json:"started_at"`
	Pruned    int       `json:"pruned"`
	Remaining int       `json:"remaining"`
	Error     string    `json:"error,omitempty"`
}

// FingerprintResponse is the response body for GET /api/v1/fingerprint.
type FingerprintResponse struct {
	URL         string `json:"url"`
	Fingerprint string `json:"fingerprint"`
}

// DecideRequest is the request body for POST /api/v1/decide.
type DecideRequest struct {
	URL    string `json:"url"`
	Target string `json:"target"`
}

// DecideResponse is the response body for POST /api/v1/decide.
type DecideResponse struct {
	Fingerprint string            `json:"fingerprint"`
	Decision    decision.Decision `json:"decision"`
}

// PatternView is a pattern with its current fitness.
type PatternView struct {
	pattern.Pattern
	Fitness float64 `json:"fitness"`
}

// PatternListResponse is the response body for GET /api/v1/patterns.
type PatternListResponse struct {
	Patterns []PatternView `json:"patterns"`
	Total    int           `json:"total"`
	Limit    int           `json:"limit"`
	Offset   int           `json:"offset"`
}

// CreatePatternRequest is the request body for POST /api/v1/patterns.
// Approach defaults to extract. Technique names the recovery technique that
// produced the instruction, if any.
type CreatePatternRequest struct {
	URL         string `json:"url"`
	Target      string `json:"target"`
	Instruction string `json:"instruction"`
	Approach    string `json:"approach,omitempty"`
	Technique   string `json:"technique,omitempty"`
}

// CreatePatternResponse is the stored pattern plus the rules that redacted
// parts of its instruction.
type CreatePatternResponse struct {
	PatternView
	Redacted []string `json:"redacted,omitempty"`
}

// OutcomeRequest reports the result of an attempt that reused a pattern, or
// the outcome of a threshold-gated decision. Success is required.
type OutcomeRequest struct {
	Success *bool `json:"success"`
}

// Outcome returns a pointer to succeeded, for building requests.
func Outcome(succeeded bool) *bool {
	return &succeeded
}

// ThresholdResponse is the response body for the threshold endpoints.
type ThresholdResponse struct {
	Threshold float64 `json:"threshold"`
}

// StrategiesResponse is the response body for GET /api/v1/strategies.
type StrategiesResponse struct {
	Fingerprint string            `json:"fingerprint"`
	Ranking     []strategy.Ranked `json:"ranking"`
}

// StrategyOutcomeRequest is the request body for POST /api/v1/strategies/outcome.
type StrategyOutcomeRequest struct {
	URL        string  `json:"url"`
	Technique  string  `json:"technique"`
	Success    *bool   `json:"success"`
	DurationMs float64 `json:"duration_ms"`
}

// PruneRequest is the request body for POST /api/v1/prune.
type PruneRequest struct {
	DryRun bool `json:"dry_run"`
}
