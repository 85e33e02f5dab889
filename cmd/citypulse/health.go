package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/citypulse/pkg/health"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check a running CityPulse server",
	Long: `Check the readiness endpoint of a running server and exit non-zero when it
is not ready. Suitable as a container health check.

Examples:
  citypulse health
  citypulse health --url http://citypulse:8000/health`,
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		result := health.NewHTTPChecker(url).WithTimeout(timeout).Check(ctx)
		if !result.Healthy {
			return fmt.Errorf("%s: %s", url, result.Message)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", url, result.Message, result.Duration.Round(time.Millisecond))
		return nil
	},
}

func init() {
	healthCmd.Flags().String("url", "http://localhost:8000/ready", "Endpoint to check")
	healthCmd.Flags().Duration("timeout", 5*time.Second, "Request timeout")
	rootCmd.AddCommand(healthCmd)
}
