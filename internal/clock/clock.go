// Package clock provides wall-clock timestamps and unique identifiers for
// runs and telemetry events. Keeping these behind small functions lets tests
// pin time and IDs deterministically.
package clock

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Now returns the current time in UTC. Overridable in tests.
var Now = func() time.Time { return time.Now().UTC() }

// UnixSeconds returns the current Unix timestamp in seconds.
func UnixSeconds() int64 { return Now().Unix() }

// UnixMillis returns the current Unix timestamp in milliseconds.
func UnixMillis() int64 { return Now().UnixMilli() }

// RFC3339 formats a time as an RFC 3339 UTC string.
func RFC3339(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// NewRunID generates the process-stable run identifier, e.g. "run-1a2b3c4d".
// Call once at startup and share the value across all telemetry events.
func NewRunID() string {
	return "run-" + uuid.NewString()[:8]
}

// NewIdempotencyKey generates a unique per-event key, e.g. "evt-<uuid>".
func NewIdempotencyKey() string {
	return "evt-" + uuid.NewString()
}

// FormatDuration renders a duration in a compact human form for log output.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
}
