// Package sqlitestore is a SQLite-backed pattern.Store.
//
// Outcome counters are incremented with single UPDATE statements
// (success_count = success_count + 1), so concurrent tasks never lose a count.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

const busyTimeoutMs = 10_000

const selectColumns = `id, fingerprint, target, instruction, approach,
	success_count, failure_count, created_at, last_succeeded_at, last_failed_at`

// Store implements pattern.Store on SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

var _ pattern.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral database.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		// Pragmas in the DSN apply to every pooled connection.
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
			path, busyTimeoutMs)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Each connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := New(db, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return s, nil
}

// New wraps an open database. The schema is not applied; call Migrate.
func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger, now: time.Now}
}

// WithClock replaces the store's clock. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new pattern with zero counts.
func (s *Store) Create(ctx context.Context, p pattern.NewPattern) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO patterns (id, fingerprint, target, instruction, approach, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, p.Fingerprint, p.Target, p.Instruction, string(p.Approach), s.now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("insert pattern: %w", err)
	}

	s.logger.Debug("pattern created",
		zap.String("pattern_id", id),
		zap.String("fingerprint", p.Fingerprint))
	return id, nil
}

// Get returns the pattern with the given id.
func (s *Store) Get(ctx context.Context, id string) (*pattern.Pattern, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pattern.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pattern %s: %w", id, err)
	}
	return p, nil
}

// IncrementSuccess adds one success and stamps last_succeeded_at.
func (s *Store) IncrementSuccess(ctx context.Context, id string) error {
	return s.execOne(ctx, "increment success",
		`UPDATE patterns SET success_count = success_count + 1, last_succeeded_at = ? WHERE id = ?`,
		s.now().UnixMilli(), id)
}

// IncrementFailure adds one failure and stamps last_failed_at.
func (s *Store) IncrementFailure(ctx context.Context, id string) error {
	return s.execOne(ctx, "increment failure",
		`UPDATE patterns SET failure_count = failure_count + 1, last_failed_at = ? WHERE id = ?`,
		s.now().UnixMilli(), id)
}

// Delete removes a pattern.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.execOne(ctx, "delete pattern", `DELETE FROM patterns WHERE id = ?`, id)
}

// List returns patterns ordered by creation time, then id.
// A limit of zero or less returns every pattern from offset on.
func (s *Store) List(ctx context.Context, limit, offset int) ([]pattern.Pattern, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM patterns ORDER BY created_at, id LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	out := []pattern.Pattern{}
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	return out, nil
}

// Count returns the number of stored patterns.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patterns`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count patterns: %w", err)
	}
	return n, nil
}

// execOne runs a statement that must affect exactly one row.
func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return pattern.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPattern(sc scanner) (*pattern.Pattern, error) {
	var (
		p                     pattern.Pattern
		approach              string
		createdAt             int64
		lastSuccess, lastFail sql.NullInt64
	)
	err := sc.Scan(&p.ID, &p.Fingerprint, &p.Target, &p.Instruction, &approach,
		&p.SuccessCount, &p.FailureCount, &createdAt, &lastSuccess, &lastFail)
	if err != nil {
		return nil, err
	}

	p.Approach = pattern.Approach(approach)
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	p.LastSucceededAt = fromNullMillis(lastSuccess)
	p.LastFailedAt = fromNullMillis(lastFail)
	return &p, nil
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
