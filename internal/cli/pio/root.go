// Package pio implements the per-unit command-line interface (spec.md
// §4.J "Unit API", §6): the same binary the unit HTTP API's JobLauncher
// forks (`pio run <job> --options <json>`), and the entrypoint operators
// use directly on a Pioreactor unit.
package pio

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pio",
	Short: "pio — control a single Pioreactor unit",
	Long: `pio drives the Background Jobs on one Pioreactor unit: starting and
stopping control loops, inspecting what is currently running, forwarding
logs onto the cluster bus, and serving this unit's HTTP API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from cmd/pio/main.go.
func Execute(version string) {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
