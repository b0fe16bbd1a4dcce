package pios

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pioreactor/pio/internal/bus"
	"github.com/pioreactor/pio/internal/calibration"
	"github.com/pioreactor/pio/internal/calibsession"
	"github.com/pioreactor/pio/internal/config"
	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/httpapi"
	"github.com/pioreactor/pio/internal/jobmanager"
	"github.com/pioreactor/pio/internal/kvstore"
	"github.com/pioreactor/pio/internal/streamer"
)

var (
	leaderServeHost string
	leaderServePort int
)

func init() {
	serveCmd.Flags().StringVar(&leaderServeHost, "host", "", "host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&leaderServePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the leader process: bus broker, leader HTTP API, MQTT->DB streamer",
	RunE:  runLeaderServe,
}

func runLeaderServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if leaderServeHost != "" {
		cfg.HTTP.Host = leaderServeHost
	}
	if leaderServePort > 0 {
		cfg.HTTP.Port = leaderServePort
	}

	broker := bus.NewBroker()
	busServer, err := bus.NewServer(cfg.Bus.BrokerAddress, broker)
	if err != nil {
		return fmt.Errorf("start bus server on %s: %w", cfg.Bus.BrokerAddress, err)
	}
	defer busServer.Close()
	fmt.Printf("bus broker listening on %s\n", busServer.Addr())

	busClient := bus.NewClient(broker, cfg.Node.Name+"/leader", bus.DefaultConfig())
	defer busClient.Disconnect()

	root := config.StorageRoot()
	jm, err := jobmanager.Open(root)
	if err != nil {
		return fmt.Errorf("open job manager: %w", err)
	}
	defer jm.Close()

	kv, err := kvstore.Open(root)
	if err != nil {
		return fmt.Errorf("open kv store: %w", err)
	}
	defer kv.Close()

	cal := calibration.NewStore(root, kv)
	sessions := calibsession.NewEngine(kv)

	ts, err := streamer.Open(root, busClient)
	if err != nil {
		return fmt.Errorf("open streamer: %w", err)
	}
	defer ts.Close()

	stopWatch := watchAndStream(jm, ts)
	defer stopWatch()

	dialer := workerDialer(cfg.Cluster.Workers)
	server := httpapi.NewLeaderServer(jm, kv, cal, sessions, busClient, dialer)
	server.EnableMetrics()

	addr := net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port))
	fmt.Printf("pios leader API listening on %s\n", addr)
	return http.ListenAndServe(addr, server.Handler())
}

// workerDialer builds a httpapi.WorkerDialer from the cluster's static
// worker inventory (spec.md §4.J "forwards to unit").
func workerDialer(workers []config.WorkerConfig) httpapi.WorkerDialer {
	addrs := make(map[string]string, len(workers))
	for _, w := range workers {
		addrs[w.Name] = "http://" + w.Address
	}
	return func(unit string) (string, bool) {
		addr, ok := addrs[unit]
		return addr, ok
	}
}

// watchAndStream keeps the streamer's subscription list in sync with the
// set of (unit, experiment) pairs currently running a job, since the bus
// has no wildcard subscriptions (internal/streamer/streamer.go). It polls
// the Job Manager rather than reacting to job-start events, matching the
// teacher's simplest-thing-that-works polling idiom elsewhere in this
// codebase (internal/job/runtime.go tick loops).
func watchAndStream(jm *jobmanager.Manager, ts *streamer.Streamer) func() {
	var (
		cancel func()
		last   string
	)
	refresh := func() {
		jobs, err := jm.ListJobs(domain.JobFilter{OnlyRunning: true})
		if err != nil {
			return
		}
		seen := map[streamer.UnitExperiment]bool{}
		var pairs []streamer.UnitExperiment
		key := ""
		for _, j := range jobs {
			ue := streamer.UnitExperiment{Unit: j.Unit, Experiment: j.Experiment}
			if seen[ue] {
				continue
			}
			seen[ue] = true
			pairs = append(pairs, ue)
			key += ue.Unit + "/" + ue.Experiment + ";"
		}
		if key == last {
			return
		}
		last = key
		if cancel != nil {
			cancel()
		}
		cancel = ts.Start(pairs)
	}

	refresh()
	ticker := time.NewTicker(15 * time.Second)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				refresh()
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		ticker.Stop()
		if cancel != nil {
			cancel()
		}
	}
}
