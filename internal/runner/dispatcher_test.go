package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datasnap/bridge-go/internal/bridgepath"
	"github.com/datasnap/bridge-go/internal/config"
	"github.com/datasnap/bridge-go/internal/mapping"
	"github.com/datasnap/bridge-go/internal/state"
)

func newDispatcherHarness(t *testing.T) (*Dispatcher, *harness) {
	t.Helper()

	h := newHarness(t, ordersMapping())

	users := ordersMapping()
	users.Table = "users"
	require.NoError(t, h.mappings.Save(users))

	d := NewDispatcher(h.runner, h.mappings, h.states, config.DefaultConfig(), nil)

	return d, h
}

func TestSyncAllParallel(t *testing.T) {
	d, h := newDispatcherHarness(t)

	results, err := d.SyncAll(context.Background(), true, Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "shop.orders", results[0].Mapping)
	assert.Equal(t, "shop.users", results[1].Mapping)

	for _, res := range results {
		assert.Equal(t, StatusSuccess, res.Status)
	}

	assert.Equal(t, 2, h.uploads.calls)
}

func TestSyncAllSequential(t *testing.T) {
	d, _ := newDispatcherHarness(t)

	results, err := d.SyncAll(context.Background(), false, Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, res := range results {
		assert.Equal(t, StatusSuccess, res.Status)
	}
}

func TestSyncManyFailureIsolation(t *testing.T) {
	d, h := newDispatcherHarness(t)
	h.adapter.extractErr = assert.AnError

	results := d.SyncMany(context.Background(), []string{"shop.orders", "shop.users"}, false, Options{})
	require.Len(t, results, 2)

	// Both runs share the failing adapter; each reports its own error.
	assert.Equal(t, StatusError, results[0].Status)
	assert.Equal(t, StatusError, results[1].Status)
}

func TestSyncManyCancelledContext(t *testing.T) {
	d, _ := newDispatcherHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := d.SyncMany(ctx, []string{"shop.orders", "shop.users"}, false, Options{})
	require.Len(t, results, 2)

	for _, res := range results {
		assert.Equal(t, StatusSkipped, res.Status)
		assert.Error(t, res.Err)
	}
}

func TestSyncAllNoMappings(t *testing.T) {
	layout := bridgepath.ResolveAt(t.TempDir())
	require.NoError(t, layout.EnsureDirs())

	mappings := mapping.NewStore(layout, nil)

	states, err := state.NewStore(layout.SyncStateFile(), nil)
	require.NoError(t, err)

	r := New(Deps{
		Config:   config.DefaultConfig(),
		Layout:   layout,
		Mappings: mappings,
		States:   states,
		Running:  NewRunningSet(),
		Adapters: &fakeFactory{adapter: &fakeAdapter{}},
		Uploads:  &fakeUploads{},
	})
	d := NewDispatcher(r, mappings, states, config.DefaultConfig(), nil)

	_, err = d.SyncAll(context.Background(), false, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no mappings configured")
}

func TestStatusReport(t *testing.T) {
	d, _ := newDispatcherHarness(t)

	_, err := d.SyncAll(context.Background(), false, Options{})
	require.NoError(t, err)

	report, err := d.Status()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"shop.orders", "shop.users"}, report.Configured)
	assert.Equal(t, 2, report.Summary.TotalMappings)
	assert.Equal(t, int64(2), report.Summary.TotalSyncs)
	assert.Zero(t, report.Summary.RunningMappings)

	st, ok := report.Mappings["shop.orders"]
	require.True(t, ok)
	assert.Equal(t, int64(3), st.TotalRecordsProcessed)
}
