package pio

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/pioreactor/pio/internal/bus"
)

var logExperiment string

func init() {
	logCmd.Flags().StringVar(&logExperiment, "experiment", "", "experiment this log line belongs to")
	rootCmd.AddCommand(logCmd)
}

var logCmd = &cobra.Command{
	Use:   "log LEVEL MESSAGE...",
	Short: "Publish a log line onto the bus logs topic",
	Long:  `Publishes MESSAGE to pioreactor/<unit>/<experiment>/logs/<level> (spec.md §4.A topic conventions), the same topic the streamer's logs table is filled from.`,
	Args:  cobra.MinimumNArgs(2),
	RunE:  runLog,
}

func runLog(cmd *cobra.Command, args []string) error {
	level := args[0]
	message := strings.Join(args[1:], " ")

	d, err := openDeps("pio-log")
	if err != nil {
		return err
	}
	defer d.Close()

	topic := bus.LogsTopic(d.cfg.Node.Name, logExperiment, level)
	return d.bus.Publish(topic, []byte(message), bus.QoSAtLeastOnce, false)
}
