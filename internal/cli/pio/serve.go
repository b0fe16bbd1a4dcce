package pio

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pioreactor/pio/internal/calibsession"
	"github.com/pioreactor/pio/internal/config"
	"github.com/pioreactor/pio/internal/httpapi"
)

var (
	serveHost string
	servePort int
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve this unit's HTTP API (spec.md §4.J \"Unit API\")",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveHost != "" {
		cfg.HTTP.Host = serveHost
	}
	if servePort > 0 {
		cfg.HTTP.Port = servePort
	}

	d, err := openDeps(fmt.Sprintf("%s/unit-api", cfg.Node.Name))
	if err != nil {
		return err
	}
	defer d.Close()

	selfBinary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own binary path: %w", err)
	}

	sessions := calibsession.NewEngine(d.kv)
	launcher := httpapi.NewExecLauncher(selfBinary)
	server := httpapi.NewUnitServer(cfg.Node.Name, launcher, sessions, d.kv, d.jm, d.bus, "dev", "dev")
	server.EnableMetrics()

	addr := net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port))
	fmt.Printf("pio unit API listening on %s\n", addr)
	return http.ListenAndServe(addr, server.Handler())
}
