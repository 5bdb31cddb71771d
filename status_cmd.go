package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/datasnap/bridge-go/internal/ledger"
	"github.com/datasnap/bridge-go/internal/runner"
)

// newStatusCmd builds the status command: configured mappings, their
// runtime state, and recent run history from the local ledger.
func newStatusCmd() *cobra.Command {
	var (
		flagMapping string
		flagLimit   int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show mapping state and recent run history",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()

			b, err := buildBridge(logger)
			if err != nil {
				return err
			}
			defer b.close()

			report, err := b.dispatcher.Status()
			if err != nil {
				return err
			}

			runs, err := b.ledger.Recent(cmd.Context(), flagMapping, flagLimit)
			if err != nil {
				return err
			}

			totals, err := b.ledger.Aggregate(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(struct {
					runner.StatusReport
					Totals ledger.Totals `json:"totals"`
					Runs   []ledger.Run  `json:"recent_runs"`
				}{report, totals, runs})
			}

			printStatus(report, totals, runs)

			return nil
		},
	}

	cmd.Flags().StringVar(&flagMapping, "mapping", "", "limit run history to one mapping")
	cmd.Flags().IntVar(&flagLimit, "limit", 10, "number of recent runs to show")

	return cmd
}

func printStatus(report runner.StatusReport, totals ledger.Totals, runs []ledger.Run) {
	fmt.Printf("Mappings: %d configured, %d running, %d with errors\n",
		report.Summary.TotalMappings, report.Summary.RunningMappings, report.Summary.MappingsWithErrors)
	fmt.Printf("All time: %d runs (%d ok, %d failed), %d records, %s uploaded\n\n",
		totals.Runs, totals.Succeeded, totals.Failed, totals.Records, formatSize(totals.Bytes))

	for _, name := range report.Configured {
		st, ok := report.Mappings[name]
		if !ok {
			fmt.Printf("  %-40s never run\n", name)

			continue
		}

		last := "never"
		if st.LastSyncISO != nil {
			last = *st.LastSyncISO
		}

		line := fmt.Sprintf("  %-40s %d syncs, %d records, last %s", name, st.SyncCount, st.TotalRecordsProcessed, last)

		if st.IsRunning {
			line += " [running]"
		}

		if st.LastError != nil {
			line += fmt.Sprintf(" [error: %s]", *st.LastError)
		}

		fmt.Println(line)
	}

	if len(runs) > 0 {
		fmt.Println("\nRecent runs:")

		for _, run := range runs {
			fmt.Printf("  %s  %-40s %-8s %8d records  %s\n",
				run.StartedAt.Format(time.RFC3339), run.Mapping, run.Status, run.Records, run.RunID)
		}
	}
}

func formatSize(n int64) string {
	const unit = 1024

	if n < unit {
		return fmt.Sprintf("%dB", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f%cB", float64(n)/float64(div), "KMGT"[exp])
}
