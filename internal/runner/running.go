package runner

import "sync"

// RunningSet tracks mappings with a sync in flight in this process. The
// insert is conditional under the lock, so two concurrent syncs of the same
// mapping can never both proceed.
type RunningSet struct {
	mu    sync.Mutex
	names map[string]struct{}
}

// NewRunningSet creates an empty set.
func NewRunningSet() *RunningSet {
	return &RunningSet{names: map[string]struct{}{}}
}

// TryAcquire claims the mapping. Returns false when a sync already holds it.
func (r *RunningSet) TryAcquire(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, running := r.names[name]; running {
		return false
	}

	r.names[name] = struct{}{}

	return true
}

// Release frees the mapping.
func (r *RunningSet) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.names, name)
}

// Names returns the mappings currently held.
func (r *RunningSet) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}

	return names
}
