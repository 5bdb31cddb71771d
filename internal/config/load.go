package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal — silently ignoring a typo in a
// config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}

		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all defaults. Supports the zero-config first run.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment -> CLI flags.
func Resolve(defaultPath string, env EnvOverrides, cli CLIOverrides) (*Config, error) {
	path := defaultPath
	if cli.ConfigPath != "" {
		path = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	if env.BaseURL != "" {
		cfg.Network.BaseURL = env.BaseURL
	}

	if cli.Workers != nil {
		cfg.Sync.MaxWorkers = *cli.Workers
	}

	if cli.BatchSize != nil {
		cfg.Sync.BatchSize = *cli.BatchSize
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// ReadEnvOverrides reads supported environment variables.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		BaseURL: os.Getenv("DATASNAP_API_BASE_URL"),
		APIKey:  os.Getenv("DATASNAP_API_KEY"),
	}
}

// Validate checks the resolved configuration for contradictions and
// malformed values.
func Validate(cfg *Config) error {
	if cfg.Sync.MaxWorkers < 1 {
		return fmt.Errorf("sync.max_workers must be >= 1, got %d", cfg.Sync.MaxWorkers)
	}

	if cfg.Sync.MaxConcurrentUploads < 1 {
		return fmt.Errorf("sync.max_concurrent_uploads must be >= 1, got %d", cfg.Sync.MaxConcurrentUploads)
	}

	if cfg.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be >= 1, got %d", cfg.Sync.BatchSize)
	}

	if cfg.Sync.MaxFileSizeMB < 1 {
		return fmt.Errorf("sync.max_file_size_mb must be >= 1, got %d", cfg.Sync.MaxFileSizeMB)
	}

	if cfg.Sync.TimeoutSeconds < 1 {
		return fmt.Errorf("sync.timeout_seconds must be >= 1, got %d", cfg.Sync.TimeoutSeconds)
	}

	if cfg.Sync.BandwidthLimit < 0 {
		return fmt.Errorf("sync.bandwidth_limit must be >= 0, got %d", cfg.Sync.BandwidthLimit)
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"network.connect_timeout", cfg.Network.ConnectTimeout},
		{"network.heartbeat_timeout", cfg.Network.HeartbeatTimeout},
		{"network.validate_timeout", cfg.Network.ValidateTimeout},
		{"network.upload_timeout", cfg.Network.UploadTimeout},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", field.name, field.value)
		}
	}

	switch cfg.Logging.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.log_level must be one of debug/info/warn/error, got %q", cfg.Logging.LogLevel)
	}

	return nil
}

// Duration parses one of the validated timeout strings. Call only after
// Validate has accepted the config; falls back to def on parse failure.
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}

	return d
}
