package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/michaelbrown/crucible/internal/storage"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements storage.Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, r *storage.RunRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, instance_id, patch_is_none, patch_exists, patch_applied, resolved, report, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.InstanceID, boolInt(r.PatchIsNone), boolInt(r.PatchExists),
		boolInt(r.PatchApplied), boolInt(r.Resolved), r.Report,
		r.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*storage.RunRecord, error) {
	// Try exact match first, then prefix match
	row := s.db.QueryRowContext(ctx, `
		SELECT id, instance_id, patch_is_none, patch_exists, patch_applied, resolved, report, created_at
		FROM runs WHERE id = ?`, id)
	r, err := scanRunRow(row)
	if err == nil {
		return r, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instance_id, patch_is_none, patch_exists, patch_applied, resolved, report, created_at
		FROM runs WHERE id LIKE ? || '%'`, id)
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	defer rows.Close()

	var matches []*storage.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, r)
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("run not found: %s", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous run prefix %q matches %d runs", id, len(matches))
	}
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts storage.RunListOptions) ([]storage.RunRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, instance_id, patch_is_none, patch_exists, patch_applied, resolved, report, created_at FROM runs`
	var args []any

	if opts.Resolved != nil {
		query += ` WHERE resolved = ?`
		args = append(args, boolInt(*opts.Resolved))
	}

	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []storage.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Scanner interface to work with both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanRunFromScanner(s scanner) (*storage.RunRecord, error) {
	var r storage.RunRecord
	var isNone, exists, applied, resolved int
	var createdAt string
	err := s.Scan(&r.ID, &r.InstanceID, &isNone, &exists, &applied, &resolved,
		&r.Report, &createdAt)
	if err != nil {
		return nil, err
	}
	r.PatchIsNone = isNone != 0
	r.PatchExists = exists != 0
	r.PatchApplied = applied != 0
	r.Resolved = resolved != 0
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &r, nil
}

func scanRun(rows *sql.Rows) (*storage.RunRecord, error) {
	return scanRunFromScanner(rows)
}

func scanRunRow(row *sql.Row) (*storage.RunRecord, error) {
	return scanRunFromScanner(row)
}
