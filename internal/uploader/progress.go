package uploader

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Progress is a point-in-time snapshot of an upload in flight.
type Progress struct {
	FileName    string
	Bytes       int64
	Total       int64
	Percent     float64
	BytesPerSec float64
	ETA         time.Duration
}

// ProgressFunc receives progress snapshots, at most one per second plus a
// final snapshot at completion.
type ProgressFunc func(Progress)

// TerminalProgress returns a ProgressFunc that renders an in-place progress
// line on stderr, or nil when stderr is not a terminal.
func TerminalProgress() ProgressFunc {
	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return nil
	}

	return func(p Progress) {
		fmt.Fprintf(os.Stderr, "\r%s: %5.1f%% (%s/%s) %s/s ETA %s ",
			p.FileName,
			p.Percent,
			formatBytes(p.Bytes),
			formatBytes(p.Total),
			formatBytes(int64(p.BytesPerSec)),
			formatETA(p.ETA),
		)

		if p.Bytes >= p.Total {
			fmt.Fprintln(os.Stderr)
		}
	}
}

func formatBytes(n int64) string {
	const unit = 1024

	if n < unit {
		return fmt.Sprintf("%dB", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f%cB", float64(n)/float64(div), "KMGT"[exp])
}

func formatETA(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}

	return d.Round(time.Second).String()
}

// progressReader counts bytes as they stream out and reports snapshots at
// most once per second.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	name     string
	fn       ProgressFunc
	started  time.Time
	lastTick time.Time
}

func newProgressReader(r io.Reader, total int64, name string, fn ProgressFunc) *progressReader {
	now := time.Now()

	return &progressReader{r: r, total: total, name: name, fn: fn, started: now, lastTick: now}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)

	now := time.Now()
	final := err == io.EOF || p.read >= p.total

	if final || now.Sub(p.lastTick) >= time.Second {
		p.lastTick = now
		p.fn(p.snapshot(now))
	}

	return n, err
}

func (p *progressReader) snapshot(now time.Time) Progress {
	elapsed := now.Sub(p.started).Seconds()

	var speed float64
	if elapsed > 0 {
		speed = float64(p.read) / elapsed
	}

	var percent float64
	if p.total > 0 {
		percent = float64(p.read) / float64(p.total) * 100
	}

	var eta time.Duration
	if speed > 0 && p.read < p.total {
		eta = time.Duration(float64(p.total-p.read) / speed * float64(time.Second))
	}

	return Progress{
		FileName:    p.name,
		Bytes:       p.read,
		Total:       p.total,
		Percent:     percent,
		BytesPerSec: speed,
		ETA:         eta,
	}
}
