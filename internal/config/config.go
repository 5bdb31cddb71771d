// Package config implements TOML configuration loading for the bridge agent.
// Agent-level settings (worker counts, timeouts, network behavior) live in
// bridge.toml with a defaults -> config file -> environment -> CLI flag
// override chain. Per-mapping configs are JSON documents owned by the
// mapping package and are not handled here.
package config

// Config is the top-level structure parsed from bridge.toml.
type Config struct {
	Sync    SyncConfig    `toml:"sync"`
	Network NetworkConfig `toml:"network"`
	Logging LoggingConfig `toml:"logging"`
}

// SyncConfig controls the synchronisation engine: parallelism, batching,
// file rotation, and per-run timeouts.
type SyncConfig struct {
	MaxWorkers           int    `toml:"max_workers"`
	MaxConcurrentUploads int    `toml:"max_concurrent_uploads"`
	BatchSize            int    `toml:"batch_size"`
	MaxFileSizeMB        int    `toml:"max_file_size_mb"`
	MaxRecordsPerFile    int    `toml:"max_records_per_file"`
	TimeoutSeconds       int    `toml:"timeout_seconds"`
	Compress             bool   `toml:"compress"`
	KeepFailed           bool   `toml:"keep_failed"`
	SkipValidation       bool   `toml:"skip_validation"`

	// BandwidthLimit caps upload throughput in bytes per second; zero
	// means unlimited.
	BandwidthLimit int `toml:"bandwidth_limit"`
}

// NetworkConfig controls HTTP client behavior toward the remote API.
// insecure_skip_verify disables server certificate verification and exists
// only as an explicit opt-out for broken corporate middleboxes.
type NetworkConfig struct {
	BaseURL            string `toml:"base_url"`
	ConnectTimeout     string `toml:"connect_timeout"`
	HeartbeatTimeout   string `toml:"heartbeat_timeout"`
	ValidateTimeout    string `toml:"validate_timeout"`
	UploadTimeout      string `toml:"upload_timeout"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	Workers    *int   // --workers flag
	BatchSize  *int   // --batch-size flag
	DryRun     *bool  // --dry-run flag
}

// EnvOverrides holds values read from the process environment.
type EnvOverrides struct {
	BaseURL string // DATASNAP_API_BASE_URL
	APIKey  string // DATASNAP_API_KEY
}
