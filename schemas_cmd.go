package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newSchemasCmd builds the schemas command: lists the remote schemas the
// configured API key can upload to.
func newSchemasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schemas",
		Short: "List cloud schemas available to the API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()

			client, err := buildAPIClient(logger)
			if err != nil {
				return err
			}

			schemas, err := client.ListSchemas(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(schemas)
			}

			if len(schemas) == 0 {
				fmt.Println("No schemas available.")

				return nil
			}

			fmt.Printf("%-30s %-30s %s\n", "SLUG", "NAME", "RECORDS")

			for _, s := range schemas {
				fmt.Printf("%-30s %-30s %d\n", s.Slug, s.Name, s.RecordCount)
			}

			return nil
		},
	}
}
