// Package pios implements the cluster-level command-line interface
// (spec.md §4.J "leader API"): a thin HTTP client against a running
// leader process, plus the `pios serve` command that starts the leader
// itself (bus broker, leader HTTP API, MQTT->DB streamer).
package pios

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pios",
	Short: "pios — operate a Pioreactor cluster from its leader",
	Long: `pios is the cluster-wide counterpart to pio: it forwards job
control to individual units through the leader's HTTP API and starts the
leader process itself.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from cmd/pios/main.go.
func Execute(version string) {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
