package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `[2024-01-15 10:30:00] production.ERROR: Something broke
#0 /app/Http/Controller.php(42): boom()
#1 {main}
[2024-01-15 10:31:00] production.info: User logged in
[2024-01-15 10:32:05] staging.WARNING: Disk almost full
`

func writeLog(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "laravel.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func extractAll(t *testing.T, a *LaravelLogAdapter, batchSize int) []Row {
	t.Helper()

	require.NoError(t, a.Connect(context.Background()))
	t.Cleanup(func() { a.Disconnect() })

	batches, err := a.Extract(context.Background(), "", batchSize)
	require.NoError(t, err)

	var all []Row
	for batches.Next() {
		all = append(all, batches.Batch()...)
	}

	require.NoError(t, batches.Err())

	return all
}

func TestLaravelParsesEntries(t *testing.T) {
	a := NewLaravelLogAdapter(writeLog(t, sampleLog), 0)

	rows := extractAll(t, a, 100)
	require.Len(t, rows, 3)

	assert.Equal(t, "2024-01-15T10:30:00Z", rows[0]["log_date"])
	assert.Equal(t, "production", rows[0]["environment"])
	assert.Equal(t, "ERROR", rows[0]["type"])
	assert.Equal(t, "Something broke\n#0 /app/Http/Controller.php(42): boom()\n#1 {main}", rows[0]["message"])

	assert.Equal(t, "INFO", rows[1]["type"])
	assert.Equal(t, "User logged in", rows[1]["message"])

	assert.Equal(t, "staging", rows[2]["environment"])
	assert.Equal(t, "WARNING", rows[2]["type"])
}

func TestLaravelBatchBoundaryKeepsEntriesWhole(t *testing.T) {
	a := NewLaravelLogAdapter(writeLog(t, sampleLog), 0)

	require.NoError(t, a.Connect(context.Background()))
	defer a.Disconnect()

	batches, err := a.Extract(context.Background(), "", 2)
	require.NoError(t, err)

	require.True(t, batches.Next())
	first := batches.Batch()
	require.Len(t, first, 2)
	assert.Contains(t, first[0]["message"], "{main}")

	require.True(t, batches.Next())
	assert.Len(t, batches.Batch(), 1)

	assert.False(t, batches.Next())
	assert.NoError(t, batches.Err())
}

func TestLaravelLeadingGarbageDiscarded(t *testing.T) {
	a := NewLaravelLogAdapter(writeLog(t, "orphan line\n"+sampleLog), 0)

	rows := extractAll(t, a, 100)
	assert.Len(t, rows, 3)
}

func TestLaravelEmptyFile(t *testing.T) {
	a := NewLaravelLogAdapter(writeLog(t, ""), 0)

	rows := extractAll(t, a, 100)
	assert.Empty(t, rows)
}

func TestLaravelDeleteUnsupported(t *testing.T) {
	a := NewLaravelLogAdapter("/nonexistent", 0)

	_, err := a.DeleteByPK(context.Background(), "", "", []any{1})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestLaravelTestConnectionMissingFile(t *testing.T) {
	a := NewLaravelLogAdapter(filepath.Join(t.TempDir(), "missing.log"), 0)
	assert.ErrorIs(t, a.TestConnection(context.Background()), ErrConnFailed)
}
