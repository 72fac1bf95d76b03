// Package ledger records processed datasets and per-event runs in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/flir-etl-service/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const timeLayout = time.RFC3339Nano

// Store is a SQLite-backed processed-dataset ledger.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the ledger database at path and applies pending
// migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// SQLite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure ledger: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// m is not closed: closing it would close the shared *sql.DB.
	m.Log = &migrateLogger{logger: s.logger}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// AlreadyProcessed reports whether the dataset has a recorded completion.
func (s *Store) AlreadyProcessed(ctx context.Context, datasetID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_datasets WHERE dataset_id = ?`, datasetID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query ledger: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records the completion of a dataset, replacing any earlier
// entry for the same dataset.
func (s *Store) MarkProcessed(ctx context.Context, c domain.Completion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_datasets (dataset_id, dataset_name, files_created, bytes_written, processed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(dataset_id) DO UPDATE SET
			dataset_name = excluded.dataset_name,
			files_created = excluded.files_created,
			bytes_written = excluded.bytes_written,
			processed_at = excluded.processed_at`,
		c.DatasetID, c.DatasetName, len(c.FilesCreated), c.BytesWritten,
		c.ProcessedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// RecordRun appends a run record and returns its generated ID.
func (s *Store) RecordRun(ctx context.Context, r domain.RunRecord) (string, error) {
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, dataset_id, dataset_name, outcome, detail, files_created, bytes_written, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.DatasetID, r.DatasetName, r.Outcome, r.Detail, r.FilesCreated, r.BytesWritten,
		r.StartedAt.UTC().Format(timeLayout), r.EndedAt.UTC().Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}
	return r.RunID, nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, dataset_id, dataset_name, outcome, detail, files_created, bytes_written, started_at, ended_at
		FROM runs ORDER BY ended_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []domain.RunRecord
	for rows.Next() {
		var (
			r              domain.RunRecord
			started, ended string
		)
		if err := rows.Scan(&r.RunID, &r.DatasetID, &r.DatasetName, &r.Outcome, &r.Detail,
			&r.FilesCreated, &r.BytesWritten, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if r.EndedAt, err = time.Parse(timeLayout, ended); err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ledger unavailable: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrateLogger routes golang-migrate output through slog.
type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf("migrate: "+format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
