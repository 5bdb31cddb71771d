package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/datasnap/bridge-go/internal/config"
	"github.com/datasnap/bridge-go/internal/mapping"
	"github.com/datasnap/bridge-go/internal/state"
)

// Dispatcher fans sync runs out over the configured mappings. Parallel mode
// bounds concurrency with a weighted semaphore of max_workers; each run
// gets its own timeout regardless of mode. One mapping failing never stops
// the others, and results always come back in input order.
type Dispatcher struct {
	runner   *Runner
	mappings *mapping.Store
	states   *state.Store
	cfg      *config.Config
	logger   *slog.Logger
}

// NewDispatcher builds a dispatcher over a runner.
func NewDispatcher(r *Runner, mappings *mapping.Store, states *state.Store, cfg *config.Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{runner: r, mappings: mappings, states: states, cfg: cfg, logger: logger}
}

func (d *Dispatcher) runTimeout() time.Duration {
	return time.Duration(d.cfg.Sync.TimeoutSeconds) * time.Second
}

// SyncOne runs a single mapping under the per-run timeout.
func (d *Dispatcher) SyncOne(ctx context.Context, name string, opts Options) RunResult {
	runCtx, cancel := context.WithTimeout(ctx, d.runTimeout())
	defer cancel()

	return d.runner.Sync(runCtx, name, opts)
}

// SyncMany runs the named mappings, in parallel when asked. Cancellation of
// ctx stops scheduling new runs; already-started runs finish or time out on
// their own, and unstarted mappings report skipped.
func (d *Dispatcher) SyncMany(ctx context.Context, names []string, parallel bool, opts Options) []RunResult {
	if !parallel {
		return d.syncSequential(ctx, names, opts)
	}

	results := make([]RunResult, len(names))
	sem := semaphore.NewWeighted(int64(d.cfg.Sync.MaxWorkers))

	var wg sync.WaitGroup

	for i, name := range names {
		i, name := i, name

		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = skippedResult(name, err)

			continue
		}

		wg.Add(1)

		go func() {
			defer wg.Done()
			defer sem.Release(1)

			results[i] = d.SyncOne(ctx, name, opts)
		}()
	}

	wg.Wait()

	return results
}

func (d *Dispatcher) syncSequential(ctx context.Context, names []string, opts Options) []RunResult {
	results := make([]RunResult, len(names))

	for i, name := range names {
		if err := ctx.Err(); err != nil {
			results[i] = skippedResult(name, err)

			continue
		}

		results[i] = d.SyncOne(ctx, name, opts)
	}

	return results
}

// SyncAll runs every configured mapping.
func (d *Dispatcher) SyncAll(ctx context.Context, parallel bool, opts Options) ([]RunResult, error) {
	names, err := d.mappings.List()
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		return nil, fmt.Errorf("no mappings configured")
	}

	return d.SyncMany(ctx, names, parallel, opts), nil
}

func skippedResult(name string, err error) RunResult {
	return RunResult{
		Mapping: name,
		Status:  StatusSkipped,
		Message: "not started: " + err.Error(),
		Err:     err,
	}
}

// StatusReport is a point-in-time view over configured mappings and their
// runtime state.
type StatusReport struct {
	Configured []string                      `json:"configured"`
	Summary    state.Summary                 `json:"summary"`
	Mappings   map[string]state.MappingState `json:"mappings"`
}

// Status composes the configured mapping list with the state store.
func (d *Dispatcher) Status() (StatusReport, error) {
	names, err := d.mappings.List()
	if err != nil {
		return StatusReport{}, err
	}

	return StatusReport{
		Configured: names,
		Summary:    d.states.Summarize(),
		Mappings:   d.states.All(),
	}, nil
}
