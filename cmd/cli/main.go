// Command wirecrest runs the review pipeline from the command line: single
// runs, refreshes, batches and retry queue maintenance. Metrics are pushed
// to the configured remote-write endpoint when one is set.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "wirecrest",
	Short:         "Review data collection pipeline",
	Long:          "Collects business reviews from the data provider, tracks progress and retries failed runs.",
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
