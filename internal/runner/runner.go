// Package runner drives one sync run end to end: extract from the source,
// write JSONL files, upload them, confirm completion, then advance the
// watermark and optionally delete uploaded rows. A run either finishes the
// full pipeline or fails without advancing the watermark, so a retry can
// never lose records; at worst it re-sends rows the server deduplicates.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/datasnap/bridge-go/internal/bridgepath"
	"github.com/datasnap/bridge-go/internal/clock"
	"github.com/datasnap/bridge-go/internal/config"
	"github.com/datasnap/bridge-go/internal/jsonl"
	"github.com/datasnap/bridge-go/internal/ledger"
	"github.com/datasnap/bridge-go/internal/mapping"
	"github.com/datasnap/bridge-go/internal/source"
	"github.com/datasnap/bridge-go/internal/state"
	"github.com/datasnap/bridge-go/internal/telemetry"
	"github.com/datasnap/bridge-go/internal/uploader"
)

// Run outcome statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// ErrAlreadyRunning means a sync for the mapping is in flight in this
// process.
var ErrAlreadyRunning = errors.New("runner: sync already running")

// RunResult is the outcome of one sync run.
type RunResult struct {
	Mapping   string        `json:"mapping"`
	RunID     string        `json:"run_id"`
	Status    string        `json:"status"`
	Records   int64         `json:"records"`
	Files     int           `json:"files"`
	Bytes     int64         `json:"bytes"`
	Uploaded  int           `json:"uploaded"`
	Failed    int           `json:"failed"`
	Watermark string        `json:"watermark,omitempty"`
	Duration  time.Duration `json:"duration"`
	Message   string        `json:"message,omitempty"`
	Err       error         `json:"-"`
}

// OK reports whether the run finished without error.
func (r RunResult) OK() bool { return r.Err == nil }

// AdapterFactory builds source adapters. The source package's Factory
// satisfies this; tests inject fakes.
type AdapterFactory interface {
	New(cfg *mapping.Config) (source.Adapter, error)
}

// Uploads is the batch upload surface the runner drives.
type Uploads interface {
	UploadAll(ctx context.Context, files []jsonl.FileInfo, slug, mappingName string) ([]uploader.Result, uploader.Summary)
	Cleanup(results []uploader.Result, keepFailed bool)
}

// RunRecorder appends runs to the local history.
type RunRecorder interface {
	Record(ctx context.Context, run ledger.Run) error
}

// Options modify a single run.
type Options struct {
	// DryRun extracts and writes files but skips the upload, leaving the
	// files on disk for inspection and the watermark and source untouched.
	DryRun bool

	// BatchSize overrides the extraction batch size for this invocation,
	// taking precedence over both mapping and agent configuration.
	BatchSize int
}

// Deps are the runner's collaborators, all injected.
type Deps struct {
	Config    *config.Config
	Layout    *bridgepath.Layout
	Mappings  *mapping.Store
	States    *state.Store
	Running   *RunningSet
	Adapters  AdapterFactory
	Uploads   Uploads
	Ledger    RunRecorder
	Telemetry *telemetry.Emitter
	Logger    *slog.Logger
}

// Runner executes sync runs for mappings.
type Runner struct {
	deps   Deps
	logger *slog.Logger
}

// New builds a runner.
func New(deps Deps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{deps: deps, logger: logger}
}

// Sync runs the full pipeline for one mapping and always returns a
// populated result; Err carries the failure when Status is error.
func (r *Runner) Sync(ctx context.Context, name string, opts Options) RunResult {
	start := time.Now()
	res := RunResult{Mapping: name, RunID: clock.NewRunID(), Status: StatusError}

	if !r.deps.Running.TryAcquire(name) {
		res.Status = StatusSkipped
		res.Message = "sync already running"
		res.Err = fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
		res.Duration = time.Since(start)

		return res
	}
	defer r.deps.Running.Release(name)

	r.logger.Info("sync starting",
		slog.String("mapping", name),
		slog.String("run_id", res.RunID),
		slog.Bool("dry_run", opts.DryRun),
	)

	cfg, err := r.deps.Mappings.Load(name)
	if err != nil {
		res.Err = err
		r.finish(ctx, nil, &res, start)

		return res
	}

	if err := r.deps.States.StartSync(name); err != nil {
		r.logger.Warn("recording sync start failed",
			slog.String("mapping", name),
			slog.String("error", err.Error()),
		)
	}

	r.deps.Telemetry.RunStart(ctx, res.RunID, name)

	res.Err = r.run(ctx, cfg, opts, &res)
	r.finish(ctx, cfg, &res, start)

	return res
}

// run is the pipeline body. It mutates res as stages complete and returns
// the first fatal error.
func (r *Runner) run(ctx context.Context, cfg *mapping.Config, opts Options, res *RunResult) error {
	adapter, err := r.deps.Adapters.New(cfg)
	if err != nil {
		return err
	}

	if err := adapter.Connect(ctx); err != nil {
		return err
	}

	defer func() {
		if err := adapter.Disconnect(); err != nil {
			r.logger.Warn("disconnecting source failed",
				slog.String("mapping", res.Mapping),
				slog.String("error", err.Error()),
			)
		}
	}()

	watermark := cfg.Transfer.InitialWatermark
	if watermark == "" {
		watermark = "0"
	}

	query, err := source.BuildSQL(cfg, watermark)
	if err != nil {
		return err
	}

	batchSize := r.batchSize(cfg, opts)

	r.logger.Debug("extracting",
		slog.String("mapping", res.Mapping),
		slog.String("query", query),
		slog.Int("batch_size", batchSize),
	)

	batches, err := adapter.Extract(ctx, query, batchSize)
	if err != nil {
		return err
	}
	defer batches.Close()

	// Files rotate on batch boundaries, capped by the global per-file limit.
	maxRecords := int64(batchSize)
	if limit := int64(r.deps.Config.Sync.MaxRecordsPerFile); limit > 0 && limit < maxRecords {
		maxRecords = limit
	}

	bw := jsonl.NewBatchWriter(
		r.deps.Layout.UploadsDir(),
		res.Mapping,
		cfg.Schema.Slug,
		r.deps.Config.Sync.Compress,
		int64(r.deps.Config.Sync.MaxFileSizeMB)<<20,
		maxRecords,
	)

	tracker := newWatermarkTracker(cfg)
	collectPKs := cfg.Transfer.DeleteAfterUpload && !opts.DryRun

	var pkValues []any

	for batches.Next() {
		for _, row := range batches.Batch() {
			if err := bw.Write(row); err != nil {
				bw.Abort()

				return err
			}

			tracker.observe(row)

			if collectPKs {
				if v, ok := row[cfg.Transfer.PKColumn]; ok && v != nil {
					pkValues = append(pkValues, v)
				}
			}

			res.Records++
		}
	}

	if err := batches.Err(); err != nil {
		bw.Abort()

		return err
	}

	files, err := bw.Close()
	if err != nil {
		return err
	}

	res.Files = len(files)
	for _, f := range files {
		res.Bytes += f.Bytes
	}

	res.Watermark = tracker.value()

	if minRecords := cfg.Transfer.MinRecordsForUpload; minRecords > 0 && res.Records < int64(minRecords) {
		removeFiles(files)

		res.Status = StatusSkipped
		res.Message = fmt.Sprintf("upload ignorado: %d registros abaixo do mínimo de %d", res.Records, minRecords)
		res.Watermark = ""
		res.Files = 0

		return nil
	}

	if res.Records == 0 {
		res.Status = StatusSuccess
		res.Message = "no new records"

		return nil
	}

	if opts.DryRun {
		res.Status = StatusSuccess
		res.Message = fmt.Sprintf("dry run: %d records in %d files written for inspection, nothing uploaded", res.Records, len(files))
		res.Watermark = ""

		return nil
	}

	results, summary := r.deps.Uploads.UploadAll(ctx, files, cfg.Schema.Slug, res.Mapping)
	r.deps.Uploads.Cleanup(results, r.deps.Config.Sync.KeepFailed)

	res.Uploaded = summary.Succeeded
	res.Failed = summary.Failed

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d files failed to upload", summary.Failed, summary.Total)
	}

	if cfg.Transfer.DeleteAfterUpload {
		r.deleteUploaded(ctx, adapter, cfg, pkValues)
	}

	if cfg.Incremental() && res.Watermark != "" {
		if err := r.deps.Mappings.UpdateWatermark(res.Mapping, res.Watermark); err != nil {
			r.logger.Warn("advancing watermark failed, next run will re-extract",
				slog.String("mapping", res.Mapping),
				slog.String("watermark", res.Watermark),
				slog.String("error", err.Error()),
			)
		}
	}

	res.Status = StatusSuccess

	return nil
}

// batchSize resolves the extraction batch size: a per-invocation override
// wins, then the mapping's own setting, then the agent-level config.
func (r *Runner) batchSize(cfg *mapping.Config, opts Options) int {
	if opts.BatchSize > 0 {
		return opts.BatchSize
	}

	if cfg.Transfer.BatchSize > 0 {
		return cfg.Transfer.BatchSize
	}

	if r.deps.Config.Sync.BatchSize > 0 {
		return r.deps.Config.Sync.BatchSize
	}

	return mapping.DefaultBatchSize
}

// deleteUploaded removes source rows after a fully successful upload.
// Failures are logged, never fatal: the data is already safely uploaded,
// and the rows will be re-sent and deduplicated next run.
func (r *Runner) deleteUploaded(ctx context.Context, adapter source.Adapter, cfg *mapping.Config, pkValues []any) {
	safety := cfg.Transfer.DeleteSafety
	if safety.Enabled && safety.WhereColumn != "" && safety.WhereColumn != cfg.Transfer.PKColumn {
		r.logger.Warn("delete_safety column does not match pk_column, skipping delete",
			slog.String("mapping", cfg.Name()),
			slog.String("where_column", safety.WhereColumn),
			slog.String("pk_column", cfg.Transfer.PKColumn),
		)

		return
	}

	deleted, err := adapter.DeleteByPK(ctx, cfg.Table, cfg.Transfer.PKColumn, pkValues)
	if err != nil {
		r.logger.Warn("deleting uploaded rows failed",
			slog.String("mapping", cfg.Name()),
			slog.Int64("deleted", deleted),
			slog.String("error", err.Error()),
		)

		return
	}

	r.logger.Info("uploaded rows deleted from source",
		slog.String("mapping", cfg.Name()),
		slog.Int64("deleted", deleted),
	)
}

// finish records the outcome in the state store, history sidecar, run
// ledger, and telemetry, and clears temp files on failure unless
// keep_failed retains them.
func (r *Runner) finish(ctx context.Context, cfg *mapping.Config, res *RunResult, start time.Time) {
	res.Duration = time.Since(start)
	finishedAt := clock.Now()
	startedAt := finishedAt.Add(-res.Duration)

	if res.Err != nil {
		res.Status = StatusError
		res.Message = res.Err.Error()

		// keep_failed leaves the run's files in place for inspection.
		if !r.deps.Config.Sync.KeepFailed {
			r.cleanupTempFiles(res.Mapping)
		}

		r.deps.Telemetry.Error(ctx, res.RunID, res.Mapping, res.Err.Error())

		if err := r.deps.States.FinishSyncError(res.Mapping, res.Err.Error()); err != nil {
			r.logger.Warn("recording sync error failed", slog.String("error", err.Error()))
		}

		r.logger.Error("sync failed",
			slog.String("mapping", res.Mapping),
			slog.String("run_id", res.RunID),
			slog.Duration("duration", res.Duration),
			slog.String("error", res.Err.Error()),
		)
	} else {
		if err := r.deps.States.FinishSyncSuccess(res.Mapping, res.Records); err != nil {
			r.logger.Warn("recording sync success failed", slog.String("error", err.Error()))
		}

		r.logger.Info("sync finished",
			slog.String("mapping", res.Mapping),
			slog.String("run_id", res.RunID),
			slog.String("status", res.Status),
			slog.Int64("records", res.Records),
			slog.Int("files", res.Files),
			slog.Duration("duration", res.Duration),
		)
	}

	if cfg != nil {
		sidecarWatermark := ""
		if res.Status == StatusSuccess {
			sidecarWatermark = res.Watermark
		}

		err := r.deps.Mappings.RecordRun(
			res.Mapping,
			clock.RFC3339(startedAt),
			clock.RFC3339(finishedAt),
			res.Records,
			int64(res.Files),
			res.Bytes,
			res.Status,
			sidecarWatermark,
		)
		if err != nil {
			r.logger.Warn("recording run history failed", slog.String("error", err.Error()))
		}
	}

	if r.deps.Ledger != nil {
		errMsg := ""
		if res.Err != nil {
			errMsg = res.Err.Error()
		}

		err := r.deps.Ledger.Record(ctx, ledger.Run{
			RunID:      res.RunID,
			Mapping:    res.Mapping,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
			Status:     res.Status,
			Records:    res.Records,
			Files:      int64(res.Files),
			Bytes:      res.Bytes,
			Error:      errMsg,
		})
		if err != nil {
			r.logger.Warn("recording run in ledger failed", slog.String("error", err.Error()))
		}
	}

	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}

	r.deps.Telemetry.RunEnd(ctx, res.RunID, res.Mapping, res.Status, res.Records, res.Bytes, res.Files, res.Duration, errMsg)
}

// cleanupTempFiles removes leftover output files for the mapping after a
// failed run.
func (r *Runner) cleanupTempFiles(name string) {
	pattern := filepath.Join(r.deps.Layout.UploadsDir(), name+"_*")

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}

	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("removing temp file failed",
				slog.String("file", path),
				slog.String("error", err.Error()),
			)
		}
	}
}

func removeFiles(files []jsonl.FileInfo) {
	for _, f := range files {
		os.Remove(f.Path)
	}
}
