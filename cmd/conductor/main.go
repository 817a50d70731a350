// Conductor runs multi-agent orchestrations and workflows over a shared
// memory store, graph and task queue.
//
// Usage:
//
//	# Serve the status endpoints and drain the task queue
//	conductor serve --config conductor.yaml
//
//	# Show the plan for a goal, or run it once
//	conductor plan "research the outage and review the fix"
//	conductor run "research the outage and review the fix"
//
//	# Queue a workflow for the workers
//	conductor submit --type workflow --file release.json
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/conductor/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath is the YAML config file; empty means defaults plus env.
	configPath string
	// scopeID is the scope plans, runs and tasks belong to.
	scopeID string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Multi-agent orchestration over shared memory",
	Long: `conductor plans goals into agent pipelines, runs workflows and drains a
task queue, all backed by a degradable memory store and link graph.`,
	Version:      version,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		telemetry.ServiceVersion = version
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (env CONDUCTOR_* overrides)")
	rootCmd.PersistentFlags().StringVar(&scopeID, "scope", "default", "scope id")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "conductor by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}
