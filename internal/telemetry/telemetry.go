// Package telemetry emits run lifecycle events to the cloud. Events are
// advisory: a failure to send never affects the sync outcome, it is logged
// at debug level and dropped. Every event carries an idempotency key so the
// server can deduplicate retried sends.
package telemetry

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/datasnap/bridge-go/internal/clock"
)

// Event types emitted by the sync runner.
const (
	EventRunStart  = "run_start"
	EventRunEnd    = "run_end"
	EventError     = "error"
	EventHeartbeat = "heartbeat"
)

// Event statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Default routing labels.
const (
	defaultSource      = "bridge-system"
	defaultDestination = "datasnap-cloud"
)

// sendTimeout bounds one event send so telemetry never holds up a run.
const sendTimeout = 5 * time.Second

// Sender posts one event payload. The API client satisfies this.
type Sender interface {
	SendEvent(ctx context.Context, payload map[string]any) error
}

// Emitter builds and sends events. A nil Emitter is valid and drops
// everything, so callers never need to branch on telemetry being off.
// The run_id is generated once per Emitter and shared by every event it
// sends, identifying the process session.
type Emitter struct {
	sender   Sender
	version  string
	runID    string
	hostname string
	logger   *slog.Logger
}

// NewEmitter builds an emitter stamping events with the bridge version.
func NewEmitter(sender Sender, version string, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &Emitter{
		sender:   sender,
		version:  version,
		runID:    clock.NewRunID(),
		hostname: hostname,
		logger:   logger,
	}
}

// Emit sends one event of the given type with extra fields merged in.
// Never returns an error; failures are logged and dropped.
func (e *Emitter) Emit(ctx context.Context, eventType, status string, fields map[string]any) {
	if e == nil || e.sender == nil {
		return
	}

	if status != StatusError {
		status = StatusSuccess
	}

	payload := map[string]any{
		"event_type":      eventType,
		"status":          status,
		"run_id":          e.runID,
		"idempotency_key": clock.NewIdempotencyKey(),
		"sent_at":         clock.RFC3339(clock.Now()),
		"bridge_version":  e.version,
		"source":          defaultSource,
		"destination":     defaultDestination,
		"host_hostname":   e.hostname,
		"host_os":         runtime.GOOS,
	}

	for k, v := range fields {
		payload[k] = v
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	if err := e.sender.SendEvent(sendCtx, payload); err != nil {
		e.logger.Debug("telemetry event dropped",
			slog.String("event", eventType),
			slog.String("run_id", e.runID),
			slog.String("error", err.Error()),
		)
	}
}

// RunStart reports a sync run starting for a mapping.
func (e *Emitter) RunStart(ctx context.Context, syncID, mappingName string) {
	e.Emit(ctx, EventRunStart, StatusSuccess, map[string]any{
		"sync_id": syncID,
		"mapping": mappingName,
	})
}

// RunEnd reports a finished run with its outcome.
func (e *Emitter) RunEnd(ctx context.Context, syncID, mappingName, status string, records, bytes int64, files int, duration time.Duration, errMsg string) {
	fields := map[string]any{
		"sync_id":         syncID,
		"mapping":         mappingName,
		"items_processed": records,
		"bytes_uploaded":  bytes,
		"files":           files,
		"duration_ms":     duration.Milliseconds(),
	}

	if errMsg != "" {
		fields["error_message"] = errMsg
	}

	e.Emit(ctx, EventRunEnd, status, fields)
}

// Error reports a run failure as a standalone error event, alongside the
// run_end the failed run also emits.
func (e *Emitter) Error(ctx context.Context, syncID, mappingName, errMsg string) {
	e.Emit(ctx, EventError, StatusError, map[string]any{
		"sync_id":       syncID,
		"mapping":       mappingName,
		"error_message": errMsg,
	})
}

// Heartbeat reports liveness, used by the heartbeat command.
func (e *Emitter) Heartbeat(ctx context.Context, latency time.Duration) {
	e.Emit(ctx, EventHeartbeat, StatusSuccess, map[string]any{
		"duration_ms": latency.Milliseconds(),
	})
}
