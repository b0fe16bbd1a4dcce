package pios

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(experimentsCmd)
}

var experimentsCmd = &cobra.Command{
	Use:   "experiments",
	Short: "List every experiment name the leader has seen a job from",
	RunE:  runExperiments,
}

func runExperiments(cmd *cobra.Command, args []string) error {
	var out struct {
		Experiments []string `json:"experiments"`
	}
	if err := apiCall("GET", "/experiments", nil, &out); err != nil {
		return err
	}
	for _, e := range out.Experiments {
		fmt.Println(e)
	}
	return nil
}
