// Package mapping defines the per-mapping JSON configuration: the binding of
// a source database table to a remote schema, plus the transfer policy that
// governs incremental extraction, batching, and delete-after-upload. The
// on-disk format is a stable contract shared with the setup tooling — field
// names must not change.
package mapping

import (
	"errors"
	"fmt"
)

// Source types accepted in a mapping config.
const (
	SourceMySQL      = "mysql"
	SourcePostgreSQL = "postgresql"
	SourceSQLServer  = "sqlserver"
	SourceSQLite     = "sqlite"
	SourceLaravelLog = "laravel_log"
)

// Incremental modes accepted in a mapping config.
const (
	ModeFull                 = "full"
	ModeIncrementalPK        = "incremental_pk"
	ModeIncrementalTimestamp = "incremental_timestamp"
	ModeCustomSQL            = "custom_sql"
)

// Sentinel errors for config validation failures.
var (
	ErrNotFound          = errors.New("mapping: config not found")
	ErrUnsupportedSource = errors.New("mapping: unsupported source type")
	ErrInvalidConfig     = errors.New("mapping: invalid config")
)

// Config is one mapping: source table -> remote schema with transfer policy.
type Config struct {
	Source   Source   `json:"source"`
	Table    string   `json:"table"`
	Schema   Schema   `json:"schema"`
	Transfer Transfer `json:"transfer"`
	Query    string   `json:"query,omitempty"`
}

// Source identifies the database (or log file) the mapping reads from.
// ConnectionRef points into the datasource store; Path is used by the
// laravel_log source type instead of a table.
type Source struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	ConnectionRef string `json:"connection_ref,omitempty"`
	Path          string `json:"path,omitempty"`
	MaxMemoryMB   int    `json:"max_memory_mb,omitempty"`
}

// Schema identifies the remote destination schema.
type Schema struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	TokenRef string `json:"token_ref,omitempty"`
}

// Transfer is the user-owned transfer policy. InitialWatermark is the only
// field the sync runner mutates: it is rewritten with the max observed
// watermark column value after a successful incremental run.
type Transfer struct {
	IncrementalMode     string       `json:"incremental_mode"`
	PKColumn            string       `json:"pk_column,omitempty"`
	TimestampColumn     string       `json:"timestamp_column,omitempty"`
	InitialWatermark    string       `json:"initial_watermark"`
	BatchSize           int          `json:"batch_size,omitempty"`
	OrderBy             string       `json:"order_by,omitempty"`
	MinRecordsForUpload int          `json:"min_records_for_upload,omitempty"`
	DeleteAfterUpload   bool         `json:"delete_after_upload,omitempty"`
	DeleteSafety        DeleteSafety `json:"delete_safety,omitempty"`
}

// DeleteSafety optionally restricts delete-after-upload to rows matching a
// guard column.
type DeleteSafety struct {
	Enabled     bool   `json:"enabled,omitempty"`
	WhereColumn string `json:"where_column,omitempty"`
}

// DefaultBatchSize is applied when a mapping omits transfer.batch_size.
const DefaultBatchSize = 5000

// Name returns the canonical mapping name <source_name>.<table>. For
// laravel_log sources the table slot holds a logical name for the file.
func (c *Config) Name() string {
	return c.Source.Name + "." + c.Table
}

// EffectiveBatchSize returns the configured batch size or the default.
func (c *Config) EffectiveBatchSize() int {
	if c.Transfer.BatchSize > 0 {
		return c.Transfer.BatchSize
	}

	return DefaultBatchSize
}

// WatermarkColumn returns the column driving incremental extraction, or ""
// for non-incremental modes.
func (c *Config) WatermarkColumn() string {
	switch c.Transfer.IncrementalMode {
	case ModeIncrementalPK:
		return c.Transfer.PKColumn
	case ModeIncrementalTimestamp:
		return c.Transfer.TimestampColumn
	default:
		return ""
	}
}

// Incremental reports whether the mapping advances a watermark on success.
func (c *Config) Incremental() bool {
	return c.Transfer.IncrementalMode == ModeIncrementalPK ||
		c.Transfer.IncrementalMode == ModeIncrementalTimestamp
}

// Validate checks the structural invariants of a mapping config.
// Violations are ConfigError-kind failures: fatal for the run, but other
// mappings proceed.
func (c *Config) Validate() error {
	switch c.Source.Type {
	case SourceMySQL, SourcePostgreSQL, SourceSQLServer, SourceSQLite, SourceLaravelLog:
	case "":
		return fmt.Errorf("%w: source.type is required", ErrInvalidConfig)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedSource, c.Source.Type)
	}

	if c.Source.Name == "" {
		return fmt.Errorf("%w: source.name is required", ErrInvalidConfig)
	}

	if c.Table == "" {
		return fmt.Errorf("%w: table is required", ErrInvalidConfig)
	}

	if c.Schema.Slug == "" {
		return fmt.Errorf("%w: schema.slug is required", ErrInvalidConfig)
	}

	switch c.Transfer.IncrementalMode {
	case ModeFull, "":
	case ModeIncrementalPK:
		if c.Transfer.PKColumn == "" {
			return fmt.Errorf("%w: pk_column is required for incremental_pk", ErrInvalidConfig)
		}
	case ModeIncrementalTimestamp:
		if c.Transfer.TimestampColumn == "" {
			return fmt.Errorf("%w: timestamp_column is required for incremental_timestamp", ErrInvalidConfig)
		}
	case ModeCustomSQL:
		if c.Query == "" {
			return fmt.Errorf("%w: query is required for custom_sql", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown incremental_mode %q", ErrInvalidConfig, c.Transfer.IncrementalMode)
	}

	if c.Transfer.DeleteAfterUpload && c.Transfer.PKColumn == "" {
		return fmt.Errorf("%w: pk_column is required when delete_after_upload is set", ErrInvalidConfig)
	}

	if c.Transfer.BatchSize < 0 {
		return fmt.Errorf("%w: batch_size must be >= 0", ErrInvalidConfig)
	}

	if c.Transfer.MinRecordsForUpload < 0 {
		return fmt.Errorf("%w: min_records_for_upload must be >= 0", ErrInvalidConfig)
	}

	return nil
}
