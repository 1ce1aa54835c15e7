package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/buildinfo"
	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		props := buildinfo.Get()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "wirecrest %s\n", props.Version)
		fmt.Fprintf(out, "Built: %s\n", props.BuildTime)
		fmt.Fprintf(out, "Commit: %s\n", props.GitCommit)
		fmt.Fprintf(out, "Go: %s\n", props.GoVersion)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			return fmt.Errorf("config flag (-c or --config) is required")
		}
		if _, err := config.LoadConfig(configPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration validation successful: %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd, validateCmd)
}
