package pios

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pioreactor/pio/internal/bus"
	"github.com/pioreactor/pio/internal/config"
	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/jobmanager"
	"github.com/pioreactor/pio/internal/profile"
)

var (
	profileExperiment string
	profileDryRun      bool
)

func init() {
	experimentProfileCmd.AddCommand(experimentProfileExecuteCmd)
	experimentProfileExecuteCmd.Flags().StringVar(&profileExperiment, "experiment", "", "experiment name (required)")
	experimentProfileExecuteCmd.Flags().BoolVar(&profileDryRun, "dry-run", false, "log dispatches instead of calling the leader/bus")
	rootCmd.AddCommand(experimentProfileCmd)
}

var experimentProfileCmd = &cobra.Command{
	Use:   "experiment-profile",
	Short: "Load, verify, and run Experiment Profiles (spec.md §4.I)",
}

var experimentProfileExecuteCmd = &cobra.Command{
	Use:   "execute FILE",
	Short: "Run an Experiment Profile against this cluster's units",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentProfileExecute,
}

func runExperimentProfileExecute(cmd *cobra.Command, args []string) error {
	if profileExperiment == "" {
		return fmt.Errorf("--experiment is required")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read profile: %w", err)
	}

	p, err := profile.Load(data)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	installed, err := fetchInstalledPlugins()
	if err != nil {
		return fmt.Errorf("fetch installed plugins: %w", err)
	}
	if err := profile.Verify(p, installed); err != nil {
		return fmt.Errorf("verify profile: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	base, err := leaderBaseURL()
	if err != nil {
		return err
	}
	api := profile.NewHTTPWorkerAPI(base, nil)

	busClient, err := bus.NewNetClient(cfg.Bus.BrokerAddress, cfg.Node.Name+"/experiment-profile", bus.Config{
		MaxReconnectAttempts: cfg.Bus.MaxReconnectAttempts,
	})
	if err != nil {
		return fmt.Errorf("connect to bus at %s: %w", cfg.Bus.BrokerAddress, err)
	}
	defer busClient.Disconnect()

	jm, err := jobmanager.Open(config.StorageRoot())
	if err != nil {
		return fmt.Errorf("open job manager: %w", err)
	}
	defer jm.Close()

	runCount, err := nextProfileRunNumber(jm, profileExperiment)
	if err != nil {
		return fmt.Errorf("determine run number: %w", err)
	}
	source := domain.ExperimentProfileSource(runCount)

	// No unit_labels-based assignment tracking exists yet on the leader
	// API, so every unit named in the profile is treated as assigned.
	assigned := func(unit, experiment string) bool { return true }

	engine := profile.NewEngine(p, profileExperiment, source, api, busClient, jm, assigned)
	engine.DryRun = profileDryRun

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("running profile %q for experiment %q (source=%s)\n", p.ExperimentProfileName, profileExperiment, source)
	if err := engine.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// nextProfileRunNumber counts the jobs in this experiment whose
// job_source starts with "experiment_profile/" and returns that count
// plus one (spec.md §4.I "each profile run gets a distinct job_source").
func nextProfileRunNumber(jm *jobmanager.Manager, experiment string) (int, error) {
	jobs, err := jm.ListJobs(domain.JobFilter{Experiment: experiment})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range jobs {
		if len(j.JobSource) > len("experiment_profile/") && string(j.JobSource)[:len("experiment_profile/")] == "experiment_profile/" {
			n++
		}
	}
	return n + 1, nil
}

// fetchInstalledPlugins consults the leader's plugin registry (spec.md
// §4.I verification rule 4), tolerating its absence so `--dry-run`
// profile checks still work without a live leader.
func fetchInstalledPlugins() (profile.InstalledPlugins, error) {
	var out struct {
		Plugins map[string]string `json:"plugins"`
	}
	if err := apiCall("GET", "/plugins", nil, &out); err != nil {
		return profile.InstalledPlugins{}, nil
	}
	return profile.InstalledPlugins(out.Plugins), nil
}
