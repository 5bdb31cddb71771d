// Package ledger keeps the local run history in a sqlite database. Unlike
// the JSON state documents, the ledger is append-only and queryable, which
// is what the status command needs for per-mapping history and aggregate
// counters. The bridge is the sole writer, so the pool is pinned to one
// connection.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Run is one finished sync run.
type Run struct {
	RunID      string
	Mapping    string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Records    int64
	Files      int64
	Bytes      int64
	Error      string
}

// Totals aggregates the whole history.
type Totals struct {
	Runs      int64
	Succeeded int64
	Failed    int64
	Records   int64
	Bytes     int64
}

// Ledger is the run history store. Safe for concurrent use; sqlite
// serialises through the single pooled connection.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating and migrating as needed) the ledger at path.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()

		return nil, fmt.Errorf("ledger: setting migration dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()

		return nil, fmt.Errorf("ledger: migrating %s: %w", path, err)
	}

	return &Ledger{db: db, logger: logger}, nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record appends one run. Errors are returned but callers treat the ledger
// as advisory and never fail a run over it.
func (l *Ledger) Record(ctx context.Context, run Run) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, mapping, started_at, finished_at, status, records, files, bytes, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		run.Mapping,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.FinishedAt.UTC().Format(time.RFC3339),
		run.Status,
		run.Records,
		run.Files,
		run.Bytes,
		run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
		nullable(run.Error),
	)
	if err != nil {
		return fmt.Errorf("ledger: recording run %s: %w", run.RunID, err)
	}

	return nil
}

// Recent returns the most recent runs, newest first. An empty mapping name
// spans all mappings.
func (l *Ledger) Recent(ctx context.Context, mapping string, limit int) ([]Run, error) {
	if limit < 1 {
		limit = 20
	}

	query := `SELECT run_id, mapping, started_at, finished_at, status, records, files, bytes, COALESCE(error, '')
		  FROM runs`
	args := []any{}

	if mapping != "" {
		query += " WHERE mapping = ?"
		args = append(args, mapping)
	}

	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run

	for rows.Next() {
		var (
			run                   Run
			startedAt, finishedAt string
		)

		if err := rows.Scan(&run.RunID, &run.Mapping, &startedAt, &finishedAt, &run.Status,
			&run.Records, &run.Files, &run.Bytes, &run.Error); err != nil {
			return nil, fmt.Errorf("ledger: scanning run: %w", err)
		}

		run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)   //nolint:errcheck // written by Record in RFC3339
		run.FinishedAt, _ = time.Parse(time.RFC3339, finishedAt) //nolint:errcheck // written by Record in RFC3339

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating runs: %w", err)
	}

	return runs, nil
}

// Aggregate computes totals over the whole history.
func (l *Ledger) Aggregate(ctx context.Context) (Totals, error) {
	var t Totals

	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(records), 0),
		        COALESCE(SUM(bytes), 0)
		 FROM runs`,
	).Scan(&t.Runs, &t.Succeeded, &t.Failed, &t.Records, &t.Bytes)
	if err != nil {
		return Totals{}, fmt.Errorf("ledger: aggregating runs: %w", err)
	}

	return t, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}

	return s
}
