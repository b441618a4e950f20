package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentcore",
	Short: "Parallel agent execution core",
	Long: `Agentcore executes task lists through parallel LLM-driven agents,
resolving execution order from declared dependencies while enforcing
per-agent permission and budget limits.

Core capabilities:
- Dependency-graph scheduling with a configurable parallelism cap
- Wave-based fallback coordination with cross-agent shared findings
- Per-agent permission presets, budget caps, and a queryable audit log
- Task deduplication and graceful multi-phase shutdown on timeout`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}
