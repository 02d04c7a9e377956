package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/austindbirch/zekt_action/internal/config"
	"github.com/austindbirch/zekt_action/internal/health"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the Zekt API",
	Long:  `Check the health status of the Zekt API by calling its /healthz endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if apiURL == "" {
			return config.ErrMissingAPIURL
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		st, err := health.Check(ctx, &http.Client{Timeout: timeout}, strings.TrimRight(apiURL, "/"))
		if outputJSON {
			printOutput(cmd.OutOrStdout(), st)
		}
		if err != nil {
			if !outputJSON {
				fmt.Fprintf(cmd.OutOrStdout(), "✗ Service is unhealthy: %v\n", err)
			}
			return err
		}
		if !outputJSON {
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Service is healthy")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
