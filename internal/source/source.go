// Package source provides the uniform batched pull interface over
// heterogeneous data sources: mysql, postgresql, sqlserver, sqlite, and
// Laravel log files. A factory dispatches on the mapping's source type;
// operations a source cannot support (deleting log lines by primary key)
// return ErrUnsupported rather than panicking.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/datasnap/bridge-go/internal/mapping"
)

// Row is one extracted record with values already converted to
// JSON-serialisable forms (see convert.go).
type Row = map[string]any

// Sentinel errors surfaced by adapters.
var (
	ErrUnsupported    = errors.New("source: operation not supported")
	ErrNotConnected   = errors.New("source: not connected")
	ErrConnFailed     = errors.New("source: connection failed")
	ErrExtractFailed  = errors.New("source: extraction failed")
	ErrUnknownType    = errors.New("source: unknown source type")
	ErrMissingConnRef = errors.New("source: connection_ref not resolvable")
)

// Adapter is the capability set every source implements. Extract returns a
// finite, non-restartable sequence of row batches; the caller must drain or
// Close it before issuing further operations on the same adapter.
type Adapter interface {
	Connect(ctx context.Context) error
	TestConnection(ctx context.Context) error
	Extract(ctx context.Context, query string, batchSize int) (*Batches, error)
	DeleteByPK(ctx context.Context, table, pkColumn string, values []any) (int64, error)
	Disconnect() error
}

// Batches is a lazy iterator over extracted row batches, modeled on
// sql.Rows: Next advances, Batch returns the current batch, Err reports the
// terminal error after Next returns false.
type Batches struct {
	next  func(ctx context.Context) ([]Row, error)
	close func() error

	ctx     context.Context
	current []Row
	err     error
	done    bool
}

// NewBatches builds an iterator from a fetch function and an optional
// closer. The fetch function signals end of sequence by returning an empty
// batch. Adapters implemented outside this package use this to satisfy
// Extract.
func NewBatches(ctx context.Context, next func(ctx context.Context) ([]Row, error), closeFn func() error) *Batches {
	return &Batches{ctx: ctx, next: next, close: closeFn}
}

// Next advances to the next batch. Returns false at end of sequence or on
// error; check Err afterwards.
func (b *Batches) Next() bool {
	if b.done {
		return false
	}

	batch, err := b.next(b.ctx)
	if err != nil {
		b.err = err
		b.done = true

		return false
	}

	if len(batch) == 0 {
		b.done = true

		return false
	}

	b.current = batch

	return true
}

// Batch returns the batch fetched by the last successful Next.
func (b *Batches) Batch() []Row { return b.current }

// Err returns the error that terminated iteration, if any.
func (b *Batches) Err() error { return b.err }

// Close releases the underlying cursor. Safe to call multiple times.
func (b *Batches) Close() error {
	b.done = true

	if b.close != nil {
		closeFn := b.close
		b.close = nil

		return closeFn()
	}

	return nil
}

// ConnConfig carries the resolved connection parameters for a SQL source.
// For sqlite, Path is the database file; network fields are unused.
type ConnConfig struct {
	Type     string `json:"type"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Path     string `json:"path,omitempty"`
}

// ConnResolver resolves a mapping's connection_ref into connection
// parameters. The encrypted datasource store satisfies this in production;
// tests inject fakes.
type ConnResolver interface {
	Resolve(ref string) (*ConnConfig, error)
}

// Factory builds adapters from mapping configs.
type Factory struct {
	resolver ConnResolver
}

// NewFactory creates an adapter factory backed by the given resolver.
func NewFactory(resolver ConnResolver) *Factory {
	return &Factory{resolver: resolver}
}

// SupportedTypes lists the source types the factory can build.
func SupportedTypes() []string {
	return []string{
		mapping.SourceMySQL,
		mapping.SourcePostgreSQL,
		mapping.SourceSQLServer,
		mapping.SourceSQLite,
		mapping.SourceLaravelLog,
	}
}

// New builds an adapter for the mapping's source. SQL sources resolve their
// connection parameters through the resolver; the laravel_log source reads
// the file named in the mapping directly.
func (f *Factory) New(cfg *mapping.Config) (Adapter, error) {
	switch cfg.Source.Type {
	case mapping.SourceMySQL, mapping.SourcePostgreSQL, mapping.SourceSQLServer, mapping.SourceSQLite:
		conn, err := f.resolveConn(cfg)
		if err != nil {
			return nil, err
		}

		return NewSQLAdapter(cfg.Source.Type, conn)
	case mapping.SourceLaravelLog:
		return NewLaravelLogAdapter(cfg.Source.Path, cfg.Source.MaxMemoryMB), nil
	default:
		return nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnknownType, cfg.Source.Type, SupportedTypes())
	}
}

func (f *Factory) resolveConn(cfg *mapping.Config) (*ConnConfig, error) {
	ref := cfg.Source.ConnectionRef
	if ref == "" {
		return nil, fmt.Errorf("%w: mapping %s has no connection_ref", ErrMissingConnRef, cfg.Name())
	}

	if f.resolver == nil {
		return nil, fmt.Errorf("%w: no resolver configured", ErrMissingConnRef)
	}

	conn, err := f.resolver.Resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMissingConnRef, ref, err)
	}

	if conn.Type == "" {
		conn.Type = cfg.Source.Type
	}

	return conn, nil
}
