package pio

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pioreactor/pio/internal/domain"
)

var psExperiment string

func init() {
	psCmd.Flags().StringVar(&psExperiment, "experiment", "", "filter by experiment")
	rootCmd.AddCommand(psCmd)
}

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List Background Jobs currently running on this unit",
	RunE:  runPs,
}

func runPs(cmd *cobra.Command, args []string) error {
	d, err := openDeps("pio-ps")
	if err != nil {
		return err
	}
	defer d.Close()

	jobs, err := d.jm.ListJobs(domain.JobFilter{Experiment: psExperiment, OnlyRunning: true})
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs currently running.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tEXPERIMENT\tSOURCE\tSTATE\tPID\tSTARTED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			j.JobName, j.Experiment, j.JobSource, j.State, j.PID, j.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
