package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/datasnap/bridge-go/internal/config"
	"github.com/datasnap/bridge-go/internal/telemetry"
)

// newHeartbeatCmd builds the heartbeat command: verifies the API is
// reachable and the key is valid. Intended for cron and monitoring probes.
func newHeartbeatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat",
		Short: "Check cloud connectivity and API key validity",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()

			client, err := buildAPIClient(logger)
			if err != nil {
				return err
			}

			timeout := config.Duration(resolvedCfg.Network.HeartbeatTimeout, 10*time.Second)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			start := time.Now()

			acct, err := client.Me(ctx)
			if err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}

			latency := time.Since(start)

			emitter := telemetry.NewEmitter(client, version, logger)
			emitter.Heartbeat(ctx, latency)

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"ok":         true,
					"account":    acct,
					"base_url":   client.BaseURL(),
					"latency_ms": latency.Milliseconds(),
				})
			}

			fmt.Printf("OK: authenticated as %s (%s) against %s in %s\n",
				acct.Name, acct.Email, client.BaseURL(), latency.Round(time.Millisecond))

			return nil
		},
	}
}
