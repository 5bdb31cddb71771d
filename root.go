package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/datasnap/bridge-go/internal/api"
	"github.com/datasnap/bridge-go/internal/bridgepath"
	"github.com/datasnap/bridge-go/internal/config"
	"github.com/datasnap/bridge-go/internal/ledger"
	"github.com/datasnap/bridge-go/internal/mapping"
	"github.com/datasnap/bridge-go/internal/runner"
	"github.com/datasnap/bridge-go/internal/source"
	"github.com/datasnap/bridge-go/internal/state"
	"github.com/datasnap/bridge-go/internal/telemetry"
	"github.com/datasnap/bridge-go/internal/tokencache"
	"github.com/datasnap/bridge-go/internal/uploader"
)

// version is set at build time via ldflags.
var version = "dev"

// Sentinel errors main() maps to process exit codes.
var (
	errInterrupted = errors.New("interrupted")
	errRunsFailed  = errors.New("one or more syncs failed")
)

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagBaseDir    string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg and resolvedLayout hold the effective configuration and
// directory layout loaded by PersistentPreRunE, available to all
// subcommands after the root pre-run phase completes.
var (
	resolvedCfg    *config.Config
	resolvedLayout *bridgepath.Layout
)

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "bridge",
		Short:   "DataSnap database-to-cloud sync agent",
		Long:    "Extracts records from local databases and log files and uploads them to DataSnap cloud schemas as JSON Lines.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagBaseDir, "base", "", "bridge base directory (default: next to the executable)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newSchemasCmd())
	cmd.AddCommand(newMappingsCmd())
	cmd.AddCommand(newHeartbeatCmd())
	cmd.AddCommand(newValidateCmd())

	return cmd
}

// loadConfig resolves the directory layout and the effective configuration
// from the override chain and stores both for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	var (
		layout *bridgepath.Layout
		err    error
	)

	if flagBaseDir != "" {
		layout = bridgepath.ResolveAt(flagBaseDir)
	} else {
		layout, err = bridgepath.Resolve()
		if err != nil {
			return err
		}
	}

	if err := layout.EnsureDirs(); err != nil {
		return err
	}

	cli := config.CLIOverrides{ConfigPath: flagConfigPath}
	env := config.ReadEnvOverrides()

	cfg, err := config.Resolve(layout.BridgeConfigFile(), env, cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg
	resolvedLayout = layout

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if resolvedCfg != nil {
		switch resolvedCfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildAPIClient resolves the API key and constructs the cloud client.
func buildAPIClient(logger *slog.Logger) (*api.Client, error) {
	env := config.ReadEnvOverrides()

	keys, err := api.LoadKeyStore(resolvedLayout.APIKeysFile(), env.APIKey)
	if err != nil {
		return nil, err
	}

	key, err := keys.Key("")
	if err != nil {
		return nil, err
	}

	// API calls are small request/response exchanges; the long upload
	// timeout applies only to the uploader's own HTTP client.
	return api.NewClient(api.Options{
		BaseURL:            resolvedCfg.Network.BaseURL,
		APIKey:             key,
		Timeout:            config.Duration(resolvedCfg.Network.ValidateTimeout, config.DefaultValidateTimeout),
		ConnectTimeout:     config.Duration(resolvedCfg.Network.ConnectTimeout, config.DefaultConnectTimeout),
		InsecureSkipVerify: resolvedCfg.Network.InsecureSkipVerify,
		Logger:             logger,
	}), nil
}

// bridge bundles the assembled collaborators a sync needs.
type bridge struct {
	dispatcher *runner.Dispatcher
	ledger     *ledger.Ledger
	logger     *slog.Logger
}

func (b *bridge) close() {
	if b.ledger != nil {
		b.ledger.Close()
	}
}

// buildBridge wires the full pipeline: API client, token cache, uploader,
// state stores, run ledger, telemetry, runner, and dispatcher.
func buildBridge(logger *slog.Logger) (*bridge, error) {
	client, err := buildAPIClient(logger)
	if err != nil {
		return nil, err
	}

	cache := tokencache.New(resolvedLayout.TokenCacheFile(), logger)
	if dropped := cache.CleanupExpired(); dropped > 0 {
		logger.Debug("expired upload tokens dropped", slog.Int("count", dropped))
	}

	tokens := uploader.NewTokenSource(client, cache, logger)

	uploadClient := &http.Client{
		Timeout:   config.Duration(resolvedCfg.Network.UploadTimeout, config.DefaultUploadTimeout),
		Transport: api.NewTransport(config.Duration(resolvedCfg.Network.ConnectTimeout, config.DefaultConnectTimeout), resolvedCfg.Network.InsecureSkipVerify),
	}

	fileUploader := uploader.NewFileUploader(uploader.UploaderOptions{
		HTTPClient:     uploadClient,
		Tokens:         tokens,
		Completion:     client,
		BandwidthLimit: resolvedCfg.Sync.BandwidthLimit,
		Progress:       uploader.TerminalProgress(),
		Logger:         logger,
	})

	uploads := uploader.NewBatchUploader(
		fileUploader,
		resolvedCfg.Sync.MaxConcurrentUploads,
		resolvedCfg.Sync.SkipValidation,
		logger,
	)

	mappings := mapping.NewStore(resolvedLayout, logger)

	states, err := state.NewStore(resolvedLayout.SyncStateFile(), logger)
	if err != nil {
		return nil, err
	}

	runLedger, err := ledger.Open(resolvedLayout.RunLedgerFile(), logger)
	if err != nil {
		return nil, err
	}

	r := runner.New(runner.Deps{
		Config:    resolvedCfg,
		Layout:    resolvedLayout,
		Mappings:  mappings,
		States:    states,
		Running:   runner.NewRunningSet(),
		Adapters:  source.NewFactory(source.NewFileResolver(resolvedLayout.DatasourcesDir())),
		Uploads:   uploads,
		Ledger:    runLedger,
		Telemetry: telemetry.NewEmitter(client, version, logger),
		Logger:    logger,
	})

	return &bridge{
		dispatcher: runner.NewDispatcher(r, mappings, states, resolvedCfg, logger),
		ledger:     runLedger,
		logger:     logger,
	}, nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
