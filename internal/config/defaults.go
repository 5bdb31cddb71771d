package config

import "time"

// Default values for bridge.toml. Every field has a working default so that
// a bridge can run without any config file at all.
const (
	DefaultBaseURL = "https://api.datasnap.cloud"

	defaultMaxWorkers           = 4
	defaultMaxConcurrentUploads = 3
	defaultBatchSize            = 5000
	defaultMaxFileSizeMB        = 100
	defaultMaxRecordsPerFile    = 1_000_000
	defaultTimeoutSeconds       = 3600
)

// Per-request timeout defaults. Upload reads are long because a single PUT
// carries a whole JSONL file.
const (
	DefaultConnectTimeout   = 3 * time.Second
	DefaultHeartbeatTimeout = 10 * time.Second
	DefaultValidateTimeout  = 20 * time.Second
	DefaultUploadTimeout    = 300 * time.Second
)

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			MaxWorkers:           defaultMaxWorkers,
			MaxConcurrentUploads: defaultMaxConcurrentUploads,
			BatchSize:            defaultBatchSize,
			MaxFileSizeMB:        defaultMaxFileSizeMB,
			MaxRecordsPerFile:    defaultMaxRecordsPerFile,
			TimeoutSeconds:       defaultTimeoutSeconds,
			Compress:             false,
			KeepFailed:           false,
			SkipValidation:       false,
			BandwidthLimit:       0,
		},
		Network: NetworkConfig{
			BaseURL:          DefaultBaseURL,
			ConnectTimeout:   DefaultConnectTimeout.String(),
			HeartbeatTimeout: DefaultHeartbeatTimeout.String(),
			ValidateTimeout:  DefaultValidateTimeout.String(),
			UploadTimeout:    DefaultUploadTimeout.String(),
		},
		Logging: LoggingConfig{
			LogLevel: "info",
		},
	}
}
