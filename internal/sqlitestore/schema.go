package sqlitestore

// Schema creates the pattern table. Timestamps are unix milliseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS patterns (
    id                 TEXT PRIMARY KEY,
    fingerprint        TEXT NOT NULL,
    target             TEXT NOT NULL,
    instruction        TEXT NOT NULL,
    approach           TEXT NOT NULL,
    success_count      INTEGER NOT NULL DEFAULT 0,
    failure_count      INTEGER NOT NULL DEFAULT 0,
    created_at         INTEGER NOT NULL,
    last_succeeded_at  INTEGER,
    last_failed_at     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_patterns_created ON patterns(created_at, id);
CREATE INDEX IF NOT EXISTS idx_patterns_fingerprint ON patterns(fingerprint);
`
