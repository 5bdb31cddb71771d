package source

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jmoiron/sqlx"

	// Database drivers registered for the source types we support.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"github.com/datasnap/bridge-go/internal/mapping"
)

// deleteChunkSize bounds the IN (...) list of one delete statement.
const deleteChunkSize = 1000

// SQLAdapter serves the four SQL-backed source types through database/sql
// with sqlx on top for map scanning and IN-clause expansion.
type SQLAdapter struct {
	sourceType string
	driver     string
	dsn        string

	db *sqlx.DB
}

// NewSQLAdapter builds an adapter for the given source type and resolved
// connection parameters. No connection is made until Connect.
func NewSQLAdapter(sourceType string, conn *ConnConfig) (*SQLAdapter, error) {
	driver, dsn, err := buildDSN(sourceType, conn)
	if err != nil {
		return nil, err
	}

	return &SQLAdapter{sourceType: sourceType, driver: driver, dsn: dsn}, nil
}

func buildDSN(sourceType string, conn *ConnConfig) (driver, dsn string, err error) {
	switch sourceType {
	case mapping.SourceMySQL:
		port := conn.Port
		if port == 0 {
			port = 3306
		}

		return "mysql", fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			conn.Username, conn.Password, conn.Host, port, conn.Database), nil
	case mapping.SourcePostgreSQL:
		port := conn.Port
		if port == 0 {
			port = 5432
		}

		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(conn.Username, conn.Password),
			Host:   fmt.Sprintf("%s:%d", conn.Host, port),
			Path:   "/" + conn.Database,
		}

		return "pgx", u.String(), nil
	case mapping.SourceSQLServer:
		port := conn.Port
		if port == 0 {
			port = 1433
		}

		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(conn.Username, conn.Password),
			Host:     fmt.Sprintf("%s:%d", conn.Host, port),
			RawQuery: url.Values{"database": {conn.Database}}.Encode(),
		}

		return "sqlserver", u.String(), nil
	case mapping.SourceSQLite:
		if conn.Path == "" {
			return "", "", fmt.Errorf("%w: sqlite source requires a path", ErrConnFailed)
		}

		return "sqlite", conn.Path, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownType, sourceType)
	}
}

// Connect opens the pool and verifies it with a ping.
func (a *SQLAdapter) Connect(ctx context.Context) error {
	if a.db != nil {
		return nil
	}

	db, err := sqlx.Open(a.driver, a.dsn)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", ErrConnFailed, a.sourceType, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()

		return fmt.Errorf("%w: pinging %s: %v", ErrConnFailed, a.sourceType, err)
	}

	a.db = db

	return nil
}

// TestConnection verifies connectivity without retaining the pool if it was
// not already open.
func (a *SQLAdapter) TestConnection(ctx context.Context) error {
	if a.db != nil {
		return a.db.PingContext(ctx)
	}

	if err := a.Connect(ctx); err != nil {
		return err
	}

	return a.Disconnect()
}

// Extract runs the query and returns a batch iterator. The iterator owns
// the underlying cursor; rows are scanned into maps and value-converted as
// each batch is pulled.
func (a *SQLAdapter) Extract(ctx context.Context, query string, batchSize int) (*Batches, error) {
	if a.db == nil {
		return nil, ErrNotConnected
	}

	if batchSize < 1 {
		batchSize = mapping.DefaultBatchSize
	}

	rows, err := a.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractFailed, err)
	}

	return &Batches{
		ctx: ctx,
		next: func(ctx context.Context) ([]Row, error) {
			batch := make([]Row, 0, batchSize)

			for len(batch) < batchSize && rows.Next() {
				row := Row{}
				if err := rows.MapScan(row); err != nil {
					return nil, fmt.Errorf("%w: scanning row: %v", ErrExtractFailed, err)
				}

				batch = append(batch, convertRow(row))
			}

			if err := rows.Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrExtractFailed, err)
			}

			return batch, nil
		},
		close: rows.Close,
	}, nil
}

// DeleteByPK deletes rows whose pk column matches the given values, in
// chunks so no single statement carries an oversized IN list. Each chunk is
// its own implicit transaction; a failure reports the rows deleted so far.
func (a *SQLAdapter) DeleteByPK(ctx context.Context, table, pkColumn string, values []any) (int64, error) {
	if a.db == nil {
		return 0, ErrNotConnected
	}

	if len(values) == 0 {
		return 0, nil
	}

	var deleted int64

	for start := 0; start < len(values); start += deleteChunkSize {
		end := min(start+deleteChunkSize, len(values))

		query, args, err := sqlx.In(
			fmt.Sprintf("DELETE FROM %s WHERE %s IN (?)",
				quoteIdent(a.sourceType, table),
				quoteIdent(a.sourceType, pkColumn),
			),
			values[start:end],
		)
		if err != nil {
			return deleted, fmt.Errorf("source: building delete for %s: %w", table, err)
		}

		res, err := a.db.ExecContext(ctx, a.db.Rebind(query), args...)
		if err != nil {
			return deleted, fmt.Errorf("source: deleting from %s: %w", table, err)
		}

		if n, err := res.RowsAffected(); err == nil {
			deleted += n
		} else {
			deleted += int64(end - start)
		}
	}

	return deleted, nil
}

// Disconnect closes the pool. Safe to call when not connected.
func (a *SQLAdapter) Disconnect() error {
	if a.db == nil {
		return nil
	}

	err := a.db.Close()
	a.db = nil

	if err != nil {
		return fmt.Errorf("source: closing %s: %w", a.sourceType, err)
	}

	return nil
}
