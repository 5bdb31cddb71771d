package mapping

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datasnap/bridge-go/internal/bridgepath"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	layout := bridgepath.ResolveAt(t.TempDir())
	require.NoError(t, layout.EnsureDirs())

	return NewStore(layout, nil)
}

func TestSaveLoadRoundtrip(t *testing.T) {
	s := testStore(t)
	cfg := validConfig()

	require.NoError(t, s.Save(cfg))

	loaded, err := s.Load("shop.orders")
	require.NoError(t, err)
	assert.Equal(t, cfg.Source.Name, loaded.Source.Name)
	assert.Equal(t, cfg.Transfer.PKColumn, loaded.Transfer.PKColumn)
}

func TestLoadMissingListsAvailable(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Save(validConfig()))

	_, err := s.Load("shop.missing")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "shop.orders")
}

func TestLoadMissingNoMappings(t *testing.T) {
	s := testStore(t)

	_, err := s.Load("anything")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "no mappings configured")
}

func TestListSorted(t *testing.T) {
	s := testStore(t)

	users := validConfig()
	users.Table = "users"
	require.NoError(t, s.Save(users))
	require.NoError(t, s.Save(validConfig()))

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"shop.orders", "shop.users"}, names)
}

func TestSaveRejectsInvalidConfig(t *testing.T) {
	s := testStore(t)
	cfg := validConfig()
	cfg.Schema.Slug = ""

	require.Error(t, s.Save(cfg))
}

func TestUpdateWatermarkPreservesUnknownFields(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Save(validConfig()))

	// Simulate setup tooling writing fields this version does not model.
	path := s.layout.MappingFile("shop.orders")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	doc["setup_version"] = "2.1"
	transfer := doc["transfer"].(map[string]any)
	transfer["custom_note"] = "keep me"

	raw, err := json.MarshalIndent(doc, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	require.NoError(t, s.UpdateWatermark("shop.orders", "12500"))

	data, err = os.ReadFile(path)
	require.NoError(t, err)

	var after map[string]any
	require.NoError(t, json.Unmarshal(data, &after))
	assert.Equal(t, "2.1", after["setup_version"])

	transferAfter := after["transfer"].(map[string]any)
	assert.Equal(t, "12500", transferAfter["initial_watermark"])
	assert.Equal(t, "keep me", transferAfter["custom_note"])
}

func TestSidecarLifecycle(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Save(validConfig()))

	sidecar, err := s.LoadSidecar("shop.orders")
	require.NoError(t, err)
	assert.Equal(t, "never_run", sidecar.LastRun.Status)
	assert.Equal(t, "0", sidecar.LastSynced.Watermark)

	require.NoError(t, s.RecordRun("shop.orders",
		"2024-06-01T10:00:00Z", "2024-06-01T10:00:05Z",
		150, 2, 4096, "success", "150"))

	sidecar, err = s.LoadSidecar("shop.orders")
	require.NoError(t, err)
	assert.Equal(t, "success", sidecar.LastRun.Status)
	assert.Equal(t, int64(150), sidecar.LastRun.Records)
	assert.Equal(t, int64(1), sidecar.Counters.TotalRuns)
	assert.Equal(t, int64(150), sidecar.Counters.TotalRecords)
	assert.Equal(t, "150", sidecar.LastSynced.Watermark)
	require.NotNil(t, sidecar.LastSynced.At)
}

func TestRecordRunWithoutWatermarkKeepsOld(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Save(validConfig()))

	require.NoError(t, s.RecordRun("shop.orders",
		"2024-06-01T10:00:00Z", "2024-06-01T10:00:05Z",
		0, 0, 0, "error", ""))

	sidecar, err := s.LoadSidecar("shop.orders")
	require.NoError(t, err)
	assert.Equal(t, "0", sidecar.LastSynced.Watermark)
	assert.Equal(t, "error", sidecar.LastRun.Status)
}
