// Package recovery tries fallback techniques, one at a time, after a fresh
// extraction attempt fails.
//
// A Run is a short-lived state machine created for a single failed task:
//
//	NotStarted -> TryingStrategy(i) -> Succeeded | Exhausted
//
// Techniques are attempted sequentially in the order returned by the strategy
// selector because they share the task's page session. Each attempted technique
// records exactly one outcome; the run stops at the first success and emits a
// learned pattern for storage. A technique that returns an error or panics
// counts as that technique's failure and the run moves on.
//
// Technique handlers are supplied through Handlers, one field per technique, and
// New rejects a set with a missing handler.
package recovery
