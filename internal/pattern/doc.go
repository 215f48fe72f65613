// Package pattern defines extraction patterns and the contracts of the stores
// that persist and search them.
//
// A Pattern is a reusable extraction recipe learned for a site fingerprint and a
// target description: the instruction or selector that worked, and the approach
// variant used to apply it. Patterns track how often they succeeded and failed;
// the fitness package turns those counts into a reliability score.
//
// # Contracts
//
// Store persists patterns and applies outcome counters atomically. Searcher
// returns candidate patterns ranked by similarity to a query text (the
// fingerprint followed by the target description). Both are implemented outside
// this package:
//
//   - sqlitestore: SQLite-backed Store
//   - patternsearch: chromem-go backed Searcher
//   - InMemoryStore (this package): for tests and ephemeral runs
package pattern
