package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// laravel log entries open with "[2024-01-15 10:30:00] production.ERROR:".
var laravelHeader = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})\] (\w+)\.(\w+):\s?(.*)$`)

// laravelScanBufMB caps the line buffer when the mapping does not set
// source.max_memory_mb.
const laravelScanBufMB = 16

// LaravelLogAdapter reads a Laravel application log file and emits one row
// per log entry: log_date, environment, type, and the message including any
// continuation lines (stack traces). Entries stream through a bounded
// buffer, so arbitrarily large log files never load whole into memory.
type LaravelLogAdapter struct {
	path        string
	maxMemoryMB int

	file *os.File
}

// NewLaravelLogAdapter builds an adapter over the log file at path.
func NewLaravelLogAdapter(path string, maxMemoryMB int) *LaravelLogAdapter {
	if maxMemoryMB < 1 {
		maxMemoryMB = laravelScanBufMB
	}

	return &LaravelLogAdapter{path: path, maxMemoryMB: maxMemoryMB}
}

// Connect opens the log file.
func (a *LaravelLogAdapter) Connect(ctx context.Context) error {
	if a.file != nil {
		return nil
	}

	f, err := os.Open(a.path)
	if err != nil {
		return fmt.Errorf("%w: opening log file: %v", ErrConnFailed, err)
	}

	a.file = f

	return nil
}

// TestConnection verifies the log file exists and is a regular file.
func (a *LaravelLogAdapter) TestConnection(ctx context.Context) error {
	info, err := os.Stat(a.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnFailed, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrConnFailed, a.path)
	}

	return nil
}

// Extract streams log entries in batches. The query argument is ignored:
// log files have no query language, and filtering happens downstream.
func (a *LaravelLogAdapter) Extract(ctx context.Context, query string, batchSize int) (*Batches, error) {
	if a.file == nil {
		return nil, ErrNotConnected
	}

	if batchSize < 1 {
		batchSize = 1000
	}

	scanner := bufio.NewScanner(a.file)
	scanner.Buffer(make([]byte, 64*1024), a.maxMemoryMB*1024*1024)

	var (
		pending  *Row
		messages []string
		eof      bool
	)

	flush := func() Row {
		row := *pending
		row["message"] = strings.TrimRight(strings.Join(messages, "\n"), "\n")
		pending = nil
		messages = nil

		return row
	}

	return &Batches{
		ctx: ctx,
		next: func(ctx context.Context) ([]Row, error) {
			if eof {
				return nil, nil
			}

			batch := make([]Row, 0, batchSize)

			for len(batch) < batchSize {
				if err := ctx.Err(); err != nil {
					return nil, err
				}

				if !scanner.Scan() {
					if err := scanner.Err(); err != nil {
						return nil, fmt.Errorf("%w: reading log file: %v", ErrExtractFailed, err)
					}

					eof = true

					if pending != nil {
						batch = append(batch, flush())
					}

					break
				}

				line := scanner.Text()

				m := laravelHeader.FindStringSubmatch(line)
				if m == nil {
					// Continuation line of the current entry; lines before
					// the first header are discarded.
					if pending != nil {
						messages = append(messages, line)
					}

					continue
				}

				if pending != nil {
					batch = append(batch, flush())
				}

				pending = &Row{
					"log_date":    formatLogDate(m[1]),
					"environment": m[2],
					"type":        strings.ToUpper(m[3]),
				}
				messages = []string{m[4]}
			}

			return batch, nil
		},
		close: func() error { return nil },
	}, nil
}

func formatLogDate(s string) string {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return s
	}

	return t.Format(time.RFC3339)
}

// DeleteByPK is not available for log files.
func (a *LaravelLogAdapter) DeleteByPK(ctx context.Context, table, pkColumn string, values []any) (int64, error) {
	return 0, fmt.Errorf("%w: laravel_log sources cannot delete records", ErrUnsupported)
}

// Disconnect closes the log file.
func (a *LaravelLogAdapter) Disconnect() error {
	if a.file == nil {
		return nil
	}

	err := a.file.Close()
	a.file = nil

	return err
}
