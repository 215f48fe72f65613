// Package secrets removes credentials from learned extraction instructions.
//
// Instructions recorded from act-then-extract and agent runs can carry what
// the automation typed into the page: login passwords, API keys, bearer
// tokens, session cookies. A Scrubber replaces every such value with a
// [REDACTED:rule-id] marker before the instruction is persisted.
//
// Detection runs in two layers. A small set of rules covering credentials
// that commonly appear in browser automation always runs. When enabled, the
// gitleaks default ruleset runs on top of it.
package secrets
