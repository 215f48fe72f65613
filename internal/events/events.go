// Package events publishes pattern lifecycle events.
//
// Events are JSON documents published on NATS subjects under a configurable
// prefix:
//
//	{prefix}.pattern.learned
//	{prefix}.pattern.pruned
//	{prefix}.recovery.exhausted
//
// Publishing is best effort. Callers log a failed publish and carry on.
package events

import (
	"context"
	"sync"
	"time"
)

// Subjects, relative to the publisher's prefix.
const (
	SubjectPatternLearned    = "pattern.learned"
	SubjectPatternPruned     = "pattern.pruned"
	SubjectRecoveryExhausted = "recovery.exhausted"
)

// Event is a publishable event.
type Event interface {
	Subject() string
}

// PatternLearned is published when a task stores a new pattern. Technique is
// empty when the pattern came from a fresh attempt rather than recovery.
type PatternLearned struct {
	PatternID   string    `json:"pattern_id"`
	Fingerprint string    `json:"fingerprint"`
	Target      string    `json:"target"`
	Approach    string    `json:"approach"`
	Technique   string    `json:"technique,omitempty"`
	At          time.Time `json:"at"`
}

// Subject implements Event.
func (PatternLearned) Subject() string { return SubjectPatternLearned }

// PatternPruned is published for each pattern the pruner deletes.
type PatternPruned struct {
	PatternID    string    `json:"pattern_id"`
	Fingerprint  string    `json:"fingerprint"`
	Target       string    `json:"target"`
	Fitness      float64   `json:"fitness"`
	FailureCount int       `json:"failure_count"`
	At           time.Time `json:"at"`
}

// Subject implements Event.
func (PatternPruned) Subject() string { return SubjectPatternPruned }

// RecoveryExhausted is published when every recovery technique failed.
type RecoveryExhausted struct {
	URL         string    `json:"url"`
	Fingerprint string    `json:"fingerprint"`
	Target      string    `json:"target"`
	Attempts    int       `json:"attempts"`
	At          time.Time `json:"at"`
}

// Subject implements Event.
func (RecoveryExhausted) Subject() string { return SubjectRecoveryExhausted }

// Publisher publishes events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory. Useful in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// BySubject returns recorded events with the given subject.
func (r *Recorder) BySubject(subject string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Subject() == subject {
			out = append(out, e)
		}
	}
	return out
}
