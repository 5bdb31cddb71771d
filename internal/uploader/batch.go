package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/datasnap/bridge-go/internal/jsonl"
)

// Pre-flight size thresholds, measured on the on-disk (possibly
// compressed) file.
const (
	warnFileSize   = 500 << 20 // 500 MiB
	rejectFileSize = 2 << 30   // 2 GiB
)

// DefaultMaxConcurrent bounds parallel uploads within one run.
const DefaultMaxConcurrent = 3

// Summary aggregates a batch upload.
type Summary struct {
	Total        int           `json:"total"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	TotalRecords int64         `json:"total_records"`
	TotalBytes   int64         `json:"total_bytes"`
	Duration     time.Duration `json:"duration"`
}

// BatchUploader runs pre-flight checks and uploads a set of files with
// bounded concurrency, preserving input order in the results.
type BatchUploader struct {
	uploader       *FileUploader
	maxConcurrent  int
	skipValidation bool
	logger         *slog.Logger
}

// NewBatchUploader builds a batch uploader over a file uploader.
func NewBatchUploader(u *FileUploader, maxConcurrent int, skipValidation bool, logger *slog.Logger) *BatchUploader {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrent
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &BatchUploader{
		uploader:       u,
		maxConcurrent:  maxConcurrent,
		skipValidation: skipValidation,
		logger:         logger,
	}
}

// preflight validates one file before it is offered for upload.
func (b *BatchUploader) preflight(file jsonl.FileInfo) error {
	info, err := os.Stat(file.Path)
	if err != nil {
		return fmt.Errorf("pre-flight: %w", err)
	}

	if info.Size() > rejectFileSize {
		return fmt.Errorf("pre-flight: %s is %d bytes, over the %d byte upload limit", file.Name(), info.Size(), int64(rejectFileSize))
	}

	if info.Size() > warnFileSize {
		b.logger.Warn("large upload file",
			slog.String("file", file.Name()),
			slog.Int64("size", info.Size()),
		)
	}

	if b.skipValidation {
		return nil
	}

	records, _, err := jsonl.ValidateFile(file.Path)
	if err != nil {
		return fmt.Errorf("pre-flight: %w", err)
	}

	if records != file.Records {
		return fmt.Errorf("pre-flight: %s holds %d records, writer reported %d", file.Name(), records, file.Records)
	}

	return nil
}

// UploadAll uploads every file, at most maxConcurrent in flight. One file
// failing does not stop the others; per-file outcomes land in the results,
// ordered as the input.
func (b *BatchUploader) UploadAll(ctx context.Context, files []jsonl.FileInfo, slug, mappingName string) ([]Result, Summary) {
	start := time.Now()
	results := make([]Result, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.maxConcurrent)

	for i, file := range files {
		i, file := i, file

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = Result{File: file, Err: err}

				return nil
			}

			if err := b.preflight(file); err != nil {
				results[i] = Result{File: file, Err: err}

				return nil
			}

			results[i] = b.uploader.Upload(gctx, file, slug, mappingName)

			return nil
		})
	}

	g.Wait() //nolint:errcheck // workers never return errors, outcomes are in results

	summary := Summary{Total: len(files), Duration: time.Since(start)}

	for _, res := range results {
		if res.OK() {
			summary.Succeeded++
			summary.TotalRecords += res.File.Records
			summary.TotalBytes += res.File.Bytes
		} else {
			summary.Failed++
			b.logger.Error("file upload failed",
				slog.String("file", res.File.Name()),
				slog.String("mapping", mappingName),
				slog.String("error", res.Err.Error()),
			)
		}
	}

	return results, summary
}

// Cleanup removes uploaded files. Failed files are kept when keepFailed is
// set so operators can retry or inspect them.
func (b *BatchUploader) Cleanup(results []Result, keepFailed bool) {
	for _, res := range results {
		if !res.OK() && keepFailed {
			b.logger.Info("keeping failed upload file", slog.String("file", res.File.Path))

			continue
		}

		if err := os.Remove(res.File.Path); err != nil && !os.IsNotExist(err) {
			b.logger.Warn("removing upload file failed",
				slog.String("file", res.File.Path),
				slog.String("error", err.Error()),
			)
		}
	}
}
