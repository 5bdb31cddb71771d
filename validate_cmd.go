package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datasnap/bridge-go/internal/jsonl"
	"github.com/datasnap/bridge-go/internal/mapping"
)

// newValidateCmd builds the validate command. With file arguments it checks
// JSONL files record by record; without arguments it validates every
// configured mapping.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file.jsonl...]",
		Short: "Validate JSONL files or mapping configs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return validateFiles(args)
			}

			return validateMappings()
		},
	}
}

func validateFiles(paths []string) error {
	var failed int

	for _, path := range paths {
		records, bytes, err := jsonl.ValidateFile(path)
		if err != nil {
			failed++
			fmt.Printf("%-60s INVALID: %v\n", path, err)

			continue
		}

		fmt.Printf("%-60s ok: %d records, %s\n", path, records, formatSize(bytes))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed validation", failed, len(paths))
	}

	return nil
}

func validateMappings() error {
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

	var failed int

	for _, name := range names {
		cfg, err := store.Load(name)
		if err != nil {
			failed++
			fmt.Printf("%-40s INVALID: %v\n", name, err)

			continue
		}

		note := ""
		if cfg.Transfer.DeleteAfterUpload && cfg.Transfer.IncrementalMode == mapping.ModeIncrementalPK {
			note = "  (warning: delete_after_upload with incremental_pk resets the table's watermark base)"
		}

		fmt.Printf("%-40s ok%s\n", name, note)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d mappings failed validation", failed, len(names))
	}

	return nil
}
