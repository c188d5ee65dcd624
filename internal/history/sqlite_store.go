// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/stemrelay/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteStore persists records in a single SQLite table.
type SqliteStore struct {
	DB   *sql.DB
	path string
}

// NewSqliteStore opens (and migrates) the database at dbPath.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db, path: dbPath}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate(ctx context.Context) error {
	current, err := sqlite.UserVersion(ctx, s.DB)
	if err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		slug TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		source_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		failed_stage TEXT NOT NULL DEFAULT '',
		failed_command TEXT NOT NULL DEFAULT '',
		exit_code INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at_ms DESC);
	`
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Put(ctx context.Context, r Record) error {
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO jobs (slug, title, source_name, status, failed_stage, failed_command, exit_code, reason, created_at_ms, updated_at_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(slug) DO UPDATE SET
		title = excluded.title,
		source_name = excluded.source_name,
		status = excluded.status,
		failed_stage = excluded.failed_stage,
		failed_command = excluded.failed_command,
		exit_code = excluded.exit_code,
		reason = excluded.reason,
		updated_at_ms = excluded.updated_at_ms`,
		r.Slug, r.Title, r.SourceName, string(r.Status), r.FailedStage, r.FailedCommand, r.ExitCode, r.Reason,
		r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("history store: put %s: %w", r.Slug, err)
	}
	return nil
}

const selectColumns = `slug, title, source_name, status, failed_stage, failed_command, exit_code, reason, created_at_ms, updated_at_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		r                  Record
		status             string
		createdMS, updated int64
	)
	if err := row.Scan(&r.Slug, &r.Title, &r.SourceName, &status, &r.FailedStage, &r.FailedCommand,
		&r.ExitCode, &r.Reason, &createdMS, &updated); err != nil {
		return Record{}, err
	}
	r.Status = Status(status)
	r.CreatedAt = time.UnixMilli(createdMS)
	r.UpdatedAt = time.UnixMilli(updated)
	return r, nil
}

func (s *SqliteStore) Get(ctx context.Context, slug string) (Record, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM jobs WHERE slug = ?`, slug)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("history store: get %s: %w", slug, err)
	}
	return r, nil
}

func (s *SqliteStore) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM jobs ORDER BY created_at_ms DESC, slug ASC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("history store: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("history store: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ping checks that the database answers queries.
func (s *SqliteStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// Verify runs a quick integrity check and reports the first problem found.
func (s *SqliteStore) Verify() error {
	issues, err := sqlite.VerifyIntegrity(s.path, "quick")
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		return fmt.Errorf("history store: integrity check: %s", issues[0])
	}
	return nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
