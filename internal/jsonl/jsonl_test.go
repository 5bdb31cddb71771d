package jsonl

import (
	"bufio"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterProducesJSONLines(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, "shop.orders_orders_1700000000", false)
	require.NoError(t, err)

	require.NoError(t, w.Write(map[string]any{"id": 1, "name": "alice"}))
	require.NoError(t, w.Write(map[string]any{"id": 2, "name": nil}))

	info, err := w.Close()
	require.NoError(t, err)

	assert.Equal(t, int64(2), info.Records)
	assert.Equal(t, "shop.orders_orders_1700000000.jsonl", info.Name())
	assert.False(t, info.Compressed)

	data, err := os.ReadFile(info.Path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "alice", first["name"])

	assert.Contains(t, lines[1], `"name":null`)
}

func TestWriterChecksumCoversRawBytes(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, "m_s_1", false)
	require.NoError(t, err)
	require.NoError(t, w.Write(map[string]any{"id": 1}))

	info, err := w.Close()
	require.NoError(t, err)

	data, err := os.ReadFile(info.Path)
	require.NoError(t, err)

	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), info.Checksum)
	assert.Equal(t, int64(len(data)), info.Bytes)
}

func TestWriterGzipChecksumIsPreCompression(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, "m_s_1", true)
	require.NoError(t, err)
	require.NoError(t, w.Write(map[string]any{"id": 1, "payload": strings.Repeat("x", 500)}))

	info, err := w.Close()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(info.Path, ".jsonl.gz"))
	assert.True(t, info.Compressed)

	f, err := os.Open(info.Path)
	require.NoError(t, err)
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	require.NoError(t, err)

	raw, err := io.ReadAll(gzr)
	require.NoError(t, err)

	sum := sha256.Sum256(raw)
	assert.Equal(t, hex.EncodeToString(sum[:]), info.Checksum)
	assert.Equal(t, int64(len(raw)), info.Bytes)
}

func TestBatchWriterRotatesOnRecordLimit(t *testing.T) {
	dir := t.TempDir()
	bw := NewBatchWriter(dir, "shop.orders", "orders", false, 0, 2)

	for i := 0; i < 5; i++ {
		require.NoError(t, bw.Write(map[string]any{"id": i}))
	}

	files, err := bw.Close()
	require.NoError(t, err)
	require.Len(t, files, 3)

	assert.Equal(t, int64(2), files[0].Records)
	assert.Equal(t, int64(2), files[1].Records)
	assert.Equal(t, int64(1), files[2].Records)

	assert.Contains(t, files[0].Name(), "shop.orders_part001_orders_")
	assert.Contains(t, files[1].Name(), "shop.orders_part002_orders_")
	assert.Contains(t, files[2].Name(), "shop.orders_part003_orders_")
}

func TestBatchWriterRotatesOnByteLimit(t *testing.T) {
	dir := t.TempDir()
	bw := NewBatchWriter(dir, "m", "s", false, 64, 0)

	for i := 0; i < 10; i++ {
		require.NoError(t, bw.Write(map[string]any{"id": i, "pad": strings.Repeat("y", 50)}))
	}

	files, err := bw.Close()
	require.NoError(t, err)
	assert.Len(t, files, 10)
}

func TestBatchWriterEmptyRunProducesNoFiles(t *testing.T) {
	dir := t.TempDir()
	bw := NewBatchWriter(dir, "m", "s", false, 0, 0)

	files, err := bw.Close()
	require.NoError(t, err)
	assert.Empty(t, files)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBatchWriterAbortRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	bw := NewBatchWriter(dir, "m", "s", false, 0, 1)

	require.NoError(t, bw.Write(map[string]any{"id": 1}))
	require.NoError(t, bw.Write(map[string]any{"id": 2}))
	bw.Abort()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, "ok", false)
	require.NoError(t, err)
	require.NoError(t, w.Write(map[string]any{"id": 1}))
	require.NoError(t, w.Write(map[string]any{"id": 2}))

	info, err := w.Close()
	require.NoError(t, err)

	records, bytes, err := ValidateFile(info.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), records)
	assert.Equal(t, info.Bytes, bytes)
}

func TestValidateFileGzip(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, "ok", true)
	require.NoError(t, err)
	require.NoError(t, w.Write(map[string]any{"id": 1}))

	info, err := w.Close()
	require.NoError(t, err)

	records, _, err := ValidateFile(info.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(1), records)
}

func TestValidateFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")

	f, err := os.Create(path)
	require.NoError(t, err)

	bw := bufio.NewWriter(f)
	bw.WriteString(`{"id": 1}` + "\n")
	bw.WriteString("not json\n")
	require.NoError(t, bw.Flush())
	require.NoError(t, f.Close())

	records, _, err := ValidateFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 2")
	assert.Equal(t, int64(1), records)
}
