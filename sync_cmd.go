package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/datasnap/bridge-go/internal/config"
	"github.com/datasnap/bridge-go/internal/runner"
)

// newSyncCmd builds the sync command. With no arguments every configured
// mapping runs; otherwise only the named ones.
func newSyncCmd() *cobra.Command {
	var (
		flagDryRun     bool
		flagSequential bool
		flagWorkers    int
		flagBatchSize  int
	)

	cmd := &cobra.Command{
		Use:   "sync [mapping...]",
		Short: "Extract and upload configured mappings",
		Long: "Runs the sync pipeline for the named mappings (or all of them): extract new records, " +
			"write JSON Lines files, upload them to the mapped cloud schemas, then advance watermarks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			applySyncFlagOverrides(cmd, config.CLIOverrides{
				Workers:   &flagWorkers,
				BatchSize: &flagBatchSize,
			})

			logger := buildLogger()

			b, err := buildBridge(logger)
			if err != nil {
				return err
			}
			defer b.close()

			ctx := shutdownContext(cmd.Context(), logger)

			opts := runner.Options{DryRun: flagDryRun}
			if cmd.Flags().Changed("batch-size") {
				opts.BatchSize = flagBatchSize
			}

			var results []runner.RunResult

			if len(args) == 0 {
				results, err = b.dispatcher.SyncAll(ctx, !flagSequential, opts)
				if err != nil {
					return err
				}
			} else {
				results = b.dispatcher.SyncMany(ctx, args, !flagSequential, opts)
			}

			if err := printResults(results); err != nil {
				return err
			}

			if ctx.Err() != nil {
				return errInterrupted
			}

			return exitErrorFor(results)
		},
	}

	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "extract and write files but do not upload")
	cmd.Flags().BoolVar(&flagSequential, "sequential", false, "run mappings one at a time")
	cmd.Flags().IntVar(&flagWorkers, "workers", 0, "max mappings syncing in parallel")
	cmd.Flags().IntVar(&flagBatchSize, "batch-size", 0, "extraction batch size override")

	return cmd
}

// applySyncFlagOverrides folds explicitly-set sync flags into the resolved
// config. Only flags the user changed are applied, so config-file values
// survive unless overridden.
func applySyncFlagOverrides(cmd *cobra.Command, cli config.CLIOverrides) {
	if cmd.Flags().Changed("workers") && cli.Workers != nil {
		resolvedCfg.Sync.MaxWorkers = *cli.Workers
	}

	if cmd.Flags().Changed("batch-size") && cli.BatchSize != nil {
		resolvedCfg.Sync.BatchSize = *cli.BatchSize
	}
}

// exitErrorFor maps run results to the command outcome. Any run carrying
// an error fails the invocation, including one refused because its mapping
// was already syncing; below-minimum skips stay successful.
func exitErrorFor(results []runner.RunResult) error {
	for _, res := range results {
		if !res.OK() {
			return errRunsFailed
		}
	}

	return nil
}

// timeRounding keeps printed durations readable.
const timeRounding = 10 * time.Millisecond

func printResults(results []runner.RunResult) error {
	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(results)
	}

	var succeeded, failed, skipped int

	for _, res := range results {
		switch {
		case res.Status == runner.StatusSkipped:
			skipped++
			fmt.Printf("%-40s skipped    %s\n", res.Mapping, res.Message)
		case res.OK():
			succeeded++
			fmt.Printf("%-40s success    %d records, %d files in %s\n",
				res.Mapping, res.Records, res.Files, res.Duration.Round(timeRounding))
		default:
			failed++
			fmt.Printf("%-40s failed     %v\n", res.Mapping, res.Err)
		}
	}

	fmt.Printf("\n%d succeeded, %d failed, %d skipped\n", succeeded, failed, skipped)

	return nil
}
