// Package main implements bridgectl, the operator CLI for the
// orchestration bridge: it reports config-derived status, renders the
// wave partition of a task graph description, and replays a persisted
// request's sidecar log. Grounded on cmd/ctxd's cobra-based layout, but
// operating on local files and configuration rather than an HTTP
// daemon, since the bridge has no network-facing control plane.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "bridgectl",
	Short:   "Operator CLI for the orchestration bridge",
	Long:    `bridgectl inspects configuration, task graph descriptions, and sidecar replay logs for the orchestration bridge.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to bridgeorch config.yaml (defaults to ~/.config/bridgeorch/config.yaml)")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(watchCmd)

	graphCmd.AddCommand(graphShowCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the effective configuration the bridge would load",
	RunE:  runStatus,
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Inspect a task graph description",
}

var graphShowCmd = &cobra.Command{
	Use:   "show [file]",
	Short: "Compute and print the wave partition of a task graph description file",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraphShow,
}

var replayCmd = &cobra.Command{
	Use:   "replay [sidecar.jsonl]",
	Short: "Print every record from a request's persisted sidecar log",
	Long: `replay reads a sidecar log written by a completed or crashed request and
prints its transition, task graph snapshot, and child-output records in order.

Examples:
  bridgectl replay ~/.local/state/bridgeorch/sidecar/req-1234.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}
