package pios

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	logExperiment string
	logLevel      string
)

func init() {
	logCmd.Flags().StringVar(&logExperiment, "experiment", "", "experiment name (required)")
	logCmd.Flags().StringVar(&logLevel, "level", "info", "log level")
	rootCmd.AddCommand(logCmd)
}

var logCmd = &cobra.Command{
	Use:   "log MESSAGE...",
	Short: "Publish an experiment-level log line through the leader",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLog,
}

func runLog(cmd *cobra.Command, args []string) error {
	if logExperiment == "" {
		return fmt.Errorf("--experiment is required")
	}
	message := strings.Join(args, " ")
	path := fmt.Sprintf("/experiments/%s/logs/%s", logExperiment, logLevel)
	return apiCall("POST", path, map[string]string{"message": message}, nil)
}
