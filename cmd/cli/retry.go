package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	retryBatch    int
	retentionDays int
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Inspect and process the retry queue",
}

var retryProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Retry due entries once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			batch := retryBatch
			if batch <= 0 {
				batch = a.cfg.Retry.BatchSize
			}
			res, err := a.pipeline.Queue.ProcessQueue(ctx, batch)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var retryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count retry entries per status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			stats, err := a.pipeline.Queue.GetStats(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		})
	},
}

var retryCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete resolved entries older than the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			days := retentionDays
			if days <= 0 {
				days = a.cfg.Retry.RetentionDays
			}
			n, err := a.pipeline.Queue.CleanupOldEntries(ctx, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d entries older than %d days\n", n, days)
			return nil
		})
	},
}

func init() {
	retryProcessCmd.Flags().IntVar(&retryBatch, "batch", 0, "Entries to retry, 0 uses the configured batch size")
	retryCleanupCmd.Flags().IntVar(&retentionDays, "days", 0, "Retention in days, 0 uses the configured value")

	retryCmd.AddCommand(retryProcessCmd, retryStatsCmd, retryCleanupCmd)
	rootCmd.AddCommand(retryCmd)
}
