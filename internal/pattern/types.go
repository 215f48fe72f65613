package pattern

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors for pattern operations.
var (
	ErrNotFound         = errors.New("pattern not found")
	ErrEmptyFingerprint = errors.New("pattern fingerprint cannot be empty")
	ErrEmptyTarget      = errors.New("pattern target cannot be empty")
	ErrEmptyInstruction = errors.New("pattern instruction cannot be empty")
	ErrInvalidApproach  = errors.New("approach must be 'extract', 'act-extract' or 'agent'")
)

// Approach is the way a pattern's instruction is applied to a page.
type Approach string

const (
	// ApproachExtract runs the instruction as a direct extraction.
	ApproachExtract Approach = "extract"

	// ApproachActThenExtract performs page actions first, then extracts.
	ApproachActThenExtract Approach = "act-extract"

	// ApproachAgent hands the instruction to an autonomous agent.
	ApproachAgent Approach = "agent"
)

// Valid reports whether a is a known approach.
func (a Approach) Valid() bool {
	switch a {
	case ApproachExtract, ApproachActThenExtract, ApproachAgent:
		return true
	}
	return false
}

// Pattern is a stored extraction recipe.
//
// SuccessCount and FailureCount never decrease; exactly one of them is
// incremented for every completed attempt that used the pattern.
type Pattern struct {
	// ID is the opaque pattern identifier.
	ID string `json:"id"`

	// Fingerprint is the normalized site path template (see package fingerprint).
	Fingerprint string `json:"fingerprint"`

	// Target describes what the pattern extracts.
	Target string `json:"target"`

	// Instruction is the working instruction or selector.
	Instruction string `json:"instruction"`

	// Approach is how Instruction is applied.
	Approach Approach `json:"approach"`

	SuccessCount int `json:"success_count"`
	FailureCount int `json:"failure_count"`

	CreatedAt       time.Time  `json:"created_at"`
	LastSucceededAt *time.Time `json:"last_succeeded_at,omitempty"`
	LastFailedAt    *time.Time `json:"last_failed_at,omitempty"`
}

// Total returns the number of completed attempts recorded for the pattern.
func (p *Pattern) Total() int {
	return p.SuccessCount + p.FailureCount
}

// LastActivity returns the most relevant activity timestamp: the last success,
// else the last failure, else creation.
func (p *Pattern) LastActivity() time.Time {
	if p.LastSucceededAt != nil {
		return *p.LastSucceededAt
	}
	if p.LastFailedAt != nil {
		return *p.LastFailedAt
	}
	return p.CreatedAt
}

// NewPattern carries the fields needed to create a pattern.
type NewPattern struct {
	Fingerprint string
	Target      string
	Instruction string
	Approach    Approach
}

// Validate checks the required fields.
func (n NewPattern) Validate() error {
	if strings.TrimSpace(n.Fingerprint) == "" {
		return ErrEmptyFingerprint
	}
	if strings.TrimSpace(n.Target) == "" {
		return ErrEmptyTarget
	}
	if strings.TrimSpace(n.Instruction) == "" {
		return ErrEmptyInstruction
	}
	if !n.Approach.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidApproach, n.Approach)
	}
	return nil
}

// QueryText returns the text used to index and search a fingerprint/target pair.
func QueryText(fingerprint, target string) string {
	return fingerprint + " " + target
}

// Candidate is a search result: a pattern with its similarity to the query.
type Candidate struct {
	Pattern    Pattern `json:"pattern"`
	Similarity float64 `json:"similarity"`
}

// Store persists patterns.
//
// Implementations must apply IncrementSuccess and IncrementFailure atomically so
// concurrent tasks never lose an outcome. Methods return ErrNotFound for unknown ids.
type Store interface {
	// Create stores a new pattern with zero counts and returns its id.
	Create(ctx context.Context, p NewPattern) (string, error)

	// Get returns the pattern with the given id.
	Get(ctx context.Context, id string) (*Pattern, error)

	// IncrementSuccess adds one success and stamps LastSucceededAt.
	IncrementSuccess(ctx context.Context, id string) error

	// IncrementFailure adds one failure and stamps LastFailedAt.
	IncrementFailure(ctx context.Context, id string) error

	// Delete removes the pattern.
	Delete(ctx context.Context, id string) error

	// List returns up to limit patterns ordered by creation, skipping offset.
	List(ctx context.Context, limit, offset int) ([]Pattern, error)

	// Count returns the number of stored patterns.
	Count(ctx context.Context) (int, error)
}

// Searcher finds patterns similar to a query text.
type Searcher interface {
	// Query returns up to k candidates ordered by descending similarity.
	Query(ctx context.Context, text string, k int) ([]Candidate, error)
}
