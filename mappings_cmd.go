package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datasnap/bridge-go/internal/mapping"
)

// newMappingsCmd builds the mappings command: lists configured mappings
// with their transfer policy and sync history.
func newMappingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mappings",
		Short: "List configured mappings",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()
			store := mapping.NewStore(resolvedLayout, logger)

			names, err := store.List()
			if err != nil {
				return err
			}

			if len(names) == 0 {
				fmt.Println("No mappings configured.")

				return nil
			}

			type entry struct {
				Name      string                `json:"name"`
				Config    *mapping.Config       `json:"config,omitempty"`
				History   *mapping.SidecarState `json:"history,omitempty"`
				LoadError string                `json:"load_error,omitempty"`
			}

			entries := make([]entry, 0, len(names))

			for _, name := range names {
				e := entry{Name: name}

				cfg, err := store.Load(name)
				if err != nil {
					e.LoadError = err.Error()
					entries = append(entries, e)

					continue
				}

				e.Config = cfg

				if sidecar, err := store.LoadSidecar(name); err == nil {
					e.History = sidecar
				}

				entries = append(entries, e)
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(entries)
			}

			for _, e := range entries {
				if e.LoadError != "" {
					fmt.Printf("%-40s INVALID: %s\n", e.Name, e.LoadError)

					continue
				}

				mode := e.Config.Transfer.IncrementalMode
				if mode == "" {
					mode = mapping.ModeFull
				}

				line := fmt.Sprintf("%-40s %s -> %s  mode=%s", e.Name, e.Config.Source.Type, e.Config.Schema.Slug, mode)

				if e.Config.Incremental() {
					line += fmt.Sprintf(" watermark=%s", e.Config.Transfer.InitialWatermark)
				}

				if e.History != nil {
					line += fmt.Sprintf("  (%d runs, %d records)", e.History.Counters.TotalRuns, e.History.Counters.TotalRecords)
				}

				fmt.Println(line)
			}

			return nil
		},
	}
}
