package pio

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/httpapi"
)

var (
	killExperiment string
	killAllJobs    bool
)

func init() {
	killCmd.Flags().StringVar(&killExperiment, "experiment", "", "only kill jobs in this experiment")
	killCmd.Flags().BoolVar(&killAllJobs, "all-jobs", false, "kill every running job on this unit")
	rootCmd.AddCommand(killCmd)
}

var killCmd = &cobra.Command{
	Use:   "kill [JOB]",
	Short: "Stop one or every running Background Job on this unit",
	Long: `Sends SIGTERM to the matching job processes, then marks them
not-running in the Job Manager. A job's own runtime handles SIGTERM by
transitioning ready -> disconnected and releasing its hardware resources
(spec.md §4.D "Run"). The LED driver has no such signal handler: it is
stopped by relaunching it with zero intensities instead (spec.md §4.C).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runKill,
}

func runKill(cmd *cobra.Command, args []string) error {
	if !killAllJobs && len(args) == 0 {
		return fmt.Errorf("specify a JOB or pass --all-jobs")
	}

	d, err := openDeps("pio-kill")
	if err != nil {
		return err
	}
	defer d.Close()

	filter := domain.JobFilter{Experiment: killExperiment, OnlyRunning: true}
	if len(args) == 1 {
		filter.JobName = args[0]
	}

	jobs, err := d.jm.ListJobs(filter)
	if err != nil {
		return err
	}

	for _, j := range jobs {
		if j.JobName == domain.LEDIntensityJob {
			selfBinary, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve own binary path: %w", err)
			}
			launcher := httpapi.NewExecLauncher(selfBinary)
			_ = launcher.Launch(context.Background(), j.JobName, domain.LEDAllOff, nil, nil, nil)
			continue
		}
		if proc, err := os.FindProcess(j.PID); err == nil {
			_ = proc.Signal(syscall.SIGTERM)
		}
	}

	ids, err := d.jm.KillJobs(filter)
	if err != nil {
		return err
	}
	fmt.Printf("stopped %d job(s)\n", len(ids))
	return nil
}
