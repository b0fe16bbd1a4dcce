package pio

import (
	"fmt"

	"github.com/pioreactor/pio/internal/bus"
	"github.com/pioreactor/pio/internal/calibsession"
	"github.com/pioreactor/pio/internal/config"
	"github.com/pioreactor/pio/internal/jobmanager"
	"github.com/pioreactor/pio/internal/kvstore"
)

// deps bundles the process-local handles every subcommand needs, opened
// once per CLI invocation and closed on return (spec.md §6 "Persisted
// state" — one sqlite file per concern under the storage root).
type deps struct {
	cfg config.Config
	jm  *jobmanager.Manager
	kv  *kvstore.Store
	bus *bus.Client
}

func openDeps(clientID string) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	jm, err := jobmanager.Open(config.StorageRoot())
	if err != nil {
		return nil, fmt.Errorf("open job manager: %w", err)
	}

	kv, err := kvstore.Open(config.StorageRoot())
	if err != nil {
		jm.Close()
		return nil, fmt.Errorf("open kv store: %w", err)
	}

	busCfg := bus.Config{
		MaxReconnectAttempts: cfg.Bus.MaxReconnectAttempts,
	}
	client, err := bus.NewNetClient(cfg.Bus.BrokerAddress, clientID, busCfg)
	if err != nil {
		jm.Close()
		kv.Close()
		return nil, fmt.Errorf("connect to bus at %s: %w", cfg.Bus.BrokerAddress, err)
	}

	return &deps{cfg: cfg, jm: jm, kv: kv, bus: client}, nil
}

func (d *deps) Close() {
	d.bus.Disconnect()
	d.kv.Close()
	d.jm.Close()
}

func newSessionEngine(d *deps) *calibsession.Engine {
	return calibsession.NewEngine(d.kv)
}
