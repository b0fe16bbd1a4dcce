package pios

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	jobExperiment string
	jobOptionsRaw string
)

func init() {
	runJobCmd.Flags().StringVar(&jobExperiment, "experiment", "", "experiment name (required)")
	runJobCmd.Flags().StringVar(&jobOptionsRaw, "options", "{}", "job options, as a JSON object")
	rootCmd.AddCommand(runJobCmd)

	stopJobCmd.Flags().StringVar(&jobExperiment, "experiment", "", "experiment name (required)")
	rootCmd.AddCommand(stopJobCmd)

	updateJobCmd.Flags().StringVar(&jobExperiment, "experiment", "", "experiment name (required)")
	updateJobCmd.Flags().StringVar(&jobOptionsRaw, "options", "{}", "settings to update, as a JSON object")
	rootCmd.AddCommand(updateJobCmd)
}

var runJobCmd = &cobra.Command{
	Use:   "run UNIT JOB",
	Short: "Start a job on a worker unit, forwarded through the leader",
	Args:  cobra.ExactArgs(2),
	RunE:  runJobRun,
}

var stopJobCmd = &cobra.Command{
	Use:   "stop UNIT JOB",
	Short: "Stop a job on a worker unit, forwarded through the leader",
	Args:  cobra.ExactArgs(2),
	RunE:  runJobStop,
}

var updateJobCmd = &cobra.Command{
	Use:   "update UNIT JOB",
	Short: "Update a running job's settings on a worker unit",
	Args:  cobra.ExactArgs(2),
	RunE:  runJobUpdate,
}

func runJobRun(cmd *cobra.Command, args []string) error {
	unit, job := args[0], args[1]
	if jobExperiment == "" {
		return fmt.Errorf("--experiment is required")
	}
	var options map[string]any
	if err := json.Unmarshal([]byte(jobOptionsRaw), &options); err != nil {
		return fmt.Errorf("parse --options: %w", err)
	}

	path := fmt.Sprintf("/workers/%s/jobs/run/job_name/%s/experiments/%s", unit, job, jobExperiment)
	var out map[string]any
	if err := apiCall("POST", path, map[string]any{"options": options}, &out); err != nil {
		return err
	}
	fmt.Printf("started %s on %s: %v\n", job, unit, out)
	return nil
}

func runJobStop(cmd *cobra.Command, args []string) error {
	unit, job := args[0], args[1]
	if jobExperiment == "" {
		return fmt.Errorf("--experiment is required")
	}
	path := fmt.Sprintf("/workers/%s/jobs/stop/job_name/%s/experiments/%s", unit, job, jobExperiment)
	if err := apiCall("POST", path, nil, nil); err != nil {
		return err
	}
	fmt.Printf("stopped %s on %s\n", job, unit)
	return nil
}

func runJobUpdate(cmd *cobra.Command, args []string) error {
	unit, job := args[0], args[1]
	if jobExperiment == "" {
		return fmt.Errorf("--experiment is required")
	}
	var options map[string]any
	if err := json.Unmarshal([]byte(jobOptionsRaw), &options); err != nil {
		return fmt.Errorf("parse --options: %w", err)
	}
	path := fmt.Sprintf("/workers/%s/jobs/update/job_name/%s/experiments/%s", unit, job, jobExperiment)
	if err := apiCall("PATCH", path, map[string]any{"options": options}, nil); err != nil {
		return err
	}
	fmt.Printf("updated %s on %s\n", job, unit)
	return nil
}
