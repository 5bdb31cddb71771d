package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// ErrNoAPIKey means no key could be resolved from the environment or the
// key file.
var ErrNoAPIKey = errors.New("api: no API key configured (set DATASNAP_API_KEY or create config/api_keys.json)")

// KeyStore resolves API keys. The DATASNAP_API_KEY environment variable
// wins; otherwise keys come from the api_keys.json document, keyed by the
// mapping's schema token_ref with "default" as fallback.
type KeyStore struct {
	envKey string
	keys   map[string]string
}

// LoadKeyStore reads the key file at path. A missing file is fine when the
// environment variable is set.
func LoadKeyStore(path, envKey string) (*KeyStore, error) {
	ks := &KeyStore{envKey: envKey, keys: map[string]string{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ks, nil
	}

	if err != nil {
		return nil, fmt.Errorf("api: reading key file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &ks.keys); err != nil {
		return nil, fmt.Errorf("api: decoding key file %s: %w", path, err)
	}

	return ks, nil
}

// Key resolves the API key for a token_ref. An empty ref resolves the
// default key.
func (ks *KeyStore) Key(ref string) (string, error) {
	if ks.envKey != "" {
		return ks.envKey, nil
	}

	if ref != "" {
		if key, ok := ks.keys[ref]; ok && key != "" {
			return key, nil
		}
	}

	if key, ok := ks.keys["default"]; ok && key != "" {
		return key, nil
	}

	return "", ErrNoAPIKey
}
