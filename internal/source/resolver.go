package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileResolver resolves connection_refs against JSON documents in the
// datasources directory: ref "shop_db" reads <dir>/shop_db.json. The setup
// tooling owns these files; the bridge only reads them.
type FileResolver struct {
	dir string
}

// NewFileResolver creates a resolver over the given datasources directory.
func NewFileResolver(dir string) *FileResolver {
	return &FileResolver{dir: dir}
}

// Resolve reads and decodes the datasource document for ref.
func (r *FileResolver) Resolve(ref string) (*ConnConfig, error) {
	path := filepath.Join(r.dir, ref+".json")

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("datasource file %s does not exist", path)
	}

	if err != nil {
		return nil, fmt.Errorf("reading datasource %s: %w", path, err)
	}

	var conn ConnConfig
	if err := json.Unmarshal(data, &conn); err != nil {
		return nil, fmt.Errorf("decoding datasource %s: %w", path, err)
	}

	return &conn, nil
}
