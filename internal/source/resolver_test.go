package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileResolverResolve(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shop_db.json"), []byte(`{
		"type": "mysql",
		"host": "db.internal",
		"port": 3307,
		"database": "shop",
		"username": "bridge",
		"password": "s3cret"
	}`), 0o600))

	conn, err := NewFileResolver(dir).Resolve("shop_db")
	require.NoError(t, err)
	assert.Equal(t, "mysql", conn.Type)
	assert.Equal(t, "db.internal", conn.Host)
	assert.Equal(t, 3307, conn.Port)
	assert.Equal(t, "shop", conn.Database)
	assert.Equal(t, "bridge", conn.Username)
}

func TestFileResolverMissingFile(t *testing.T) {
	_, err := NewFileResolver(t.TempDir()).Resolve("ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost.json")
	assert.Contains(t, err.Error(), "does not exist")
}

func TestFileResolverMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{nope"), 0o600))

	_, err := NewFileResolver(dir).Resolve("bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}
