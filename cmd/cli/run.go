package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/orchestrator"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/platform"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/workflows/pipeline"
)

var (
	tenantID     string
	platformName string
	identifier   string
	forceRefresh bool
	maxItems     int
	noRetry      bool
	batchFile    string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run the pipeline for one business",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			res, err := a.pipeline.Orchestrator.ProcessBusinessData(ctx, orchestrator.Request{
				TenantID:   tenantID,
				Platform:   platform.Platform(platformName),
				Identifier: identifier,
				Options:    orchestrator.Options{ForceRefresh: forceRefresh, MaxItems: a.maxItems()},
			})
			if err != nil {
				return err
			}
			return a.report(ctx, cmd, res)
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-collect reviews for a stored business profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			res, err := a.pipeline.Orchestrator.RefreshBusinessData(ctx, tenantID, platform.Platform(platformName))
			if err != nil {
				return err
			}
			return a.report(ctx, cmd, res)
		})
	},
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Show task progress and stored profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			data, err := a.pipeline.Orchestrator.GetBusinessData(ctx, tenantID, platform.Platform(platformName))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		})
	},
}

// batchItem is one line of a batch file.
type batchItem struct {
	TenantID     string `yaml:"tenant_id"`
	Platform     string `yaml:"platform"`
	Identifier   string `yaml:"identifier"`
	ForceRefresh bool   `yaml:"force_refresh"`
	MaxItems     int    `yaml:"max_items"`
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run the pipeline for every business in a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		reqs, err := loadBatch(batchFile)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			results := a.pipeline.Orchestrator.ProcessBatchBusinessData(ctx, reqs)
			failed := 0
			for _, res := range results {
				if !res.Success {
					failed++
					if !noRetry {
						a.enqueueFailure(ctx, res)
					}
				}
			}
			if err := printJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs failed", failed, len(results))
			}
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{processCmd, refreshCmd, taskCmd} {
		c.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant ID")
		c.Flags().StringVarP(&platformName, "platform", "p", "", "Platform name")
		c.MarkFlagRequired("tenant")
		c.MarkFlagRequired("platform")
	}
	processCmd.Flags().StringVarP(&identifier, "identifier", "i", "", "Platform identifier (place ID, page URL, username...)")
	processCmd.MarkFlagRequired("identifier")
	processCmd.Flags().BoolVar(&forceRefresh, "force", false, "Re-collect data the provider already has")
	for _, c := range []*cobra.Command{processCmd, refreshCmd, batchCmd} {
		c.Flags().BoolVar(&noRetry, "no-retry", false, "Do not enqueue failed runs for retry")
	}
	processCmd.Flags().IntVar(&maxItems, "max-items", 0, "Cap on reviews collected, 0 uses the configured value")

	batchCmd.Flags().StringVarP(&batchFile, "file", "f", "", "YAML file listing the businesses to process")
	batchCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(processCmd, refreshCmd, taskCmd, batchCmd)
}

func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func (a *app) maxItems() int {
	if maxItems > 0 {
		return maxItems
	}
	return a.cfg.Pipeline.MaxItems
}

// report prints the result and turns a failed run into a command error.
func (a *app) report(ctx context.Context, cmd *cobra.Command, res orchestrator.Result) error {
	if !noRetry {
		a.enqueueFailure(ctx, res)
	}
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	return pipeline.ResultError(ctx, res)
}

func loadBatch(path string) ([]orchestrator.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []batchItem
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if len(items) == 0 {
		return nil, errors.New("batch file lists no businesses")
	}
	reqs := make([]orchestrator.Request, len(items))
	for i, it := range items {
		reqs[i] = orchestrator.Request{
			TenantID:   it.TenantID,
			Platform:   platform.Platform(it.Platform),
			Identifier: it.Identifier,
			Options:    orchestrator.Options{ForceRefresh: it.ForceRefresh, MaxItems: it.MaxItems},
		}
	}
	return reqs, nil
}
