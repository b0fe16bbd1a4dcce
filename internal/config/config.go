// Package config loads and saves the per-unit TOML configuration and
// resolves the storage root every other package persists under.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

import "github.com/BurntSushi/toml"

// Config holds every section a worker or leader process consults at
// startup. Sections mirror the component boundaries in spec.md §4.
type Config struct {
	Node        NodeConfig        `toml:"node"`
	Bus         BusConfig         `toml:"bus"`
	HTTP        HTTPConfig        `toml:"http"`
	ODReading   ODReadingConfig   `toml:"od_reading"`
	Dosing      DosingConfig      `toml:"dosing"`
	Calibration CalibrationConfig `toml:"calibration"`
	Profile     ProfileConfig     `toml:"profile"`
	Logging     LoggingConfig     `toml:"logging"`
	Cluster     ClusterConfig     `toml:"cluster"`
}

// ClusterConfig is the leader's worker inventory: every unit it may
// forward jobs/run, jobs/stop, jobs/update to (spec.md §4.J "forwards to
// unit"), keyed by unit name.
type ClusterConfig struct {
	Workers []WorkerConfig `toml:"workers"`
}

// WorkerConfig names one worker unit's unit_api base address.
type WorkerConfig struct {
	Name    string `toml:"name"`
	Address string `toml:"address"` // host:port of the unit's unit_api
}

// NodeConfig identifies this unit within the cluster.
type NodeConfig struct {
	Name       string `toml:"name"`
	IsLeader   bool   `toml:"is_leader"`
	HatPresent bool   `toml:"hat_present"`
}

// BusConfig controls the pub/sub broker connection.
type BusConfig struct {
	BrokerAddress string `toml:"broker_address"`
	ClientIDPrefix string `toml:"client_id_prefix"`
	MaxReconnectAttempts int `toml:"max_reconnect_attempts"`
	PublishTimeoutSeconds int `toml:"publish_timeout_seconds"`
}

// HTTPConfig controls the leader/unit HTTP API server.
type HTTPConfig struct {
	Host              string `toml:"host"`
	Port              int    `toml:"port"`
	LeaderAddress     string `toml:"leader_address"`
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
}

// ODReadingConfig controls default OD sampling cadence.
type ODReadingConfig struct {
	SamplesPerSecond float64 `toml:"samples_per_second"`
	IRLedIntensity   string  `toml:"ir_led_intensity"` // number, or "auto"
}

// DosingConfig controls default pump parameters.
type DosingConfig struct {
	PumpHz float64 `toml:"pump_hz"`
	PumpDC float64 `toml:"pump_dc"`
}

// CalibrationConfig controls where calibration YAML files live.
type CalibrationConfig struct {
	Root string `toml:"root"`
}

// ProfileConfig controls the Experiment Profile engine's default tick.
type ProfileConfig struct {
	PollingCadenceSeconds float64 `toml:"polling_cadence_seconds"`
}

// LoggingConfig controls log verbosity and whether logs are also
// forwarded to the bus `logs` topic.
type LoggingConfig struct {
	Level        string `toml:"level"`
	ForwardToBus bool   `toml:"forward_to_bus"`
}

// DefaultConfig returns sensible defaults for a freshly imaged unit.
func DefaultConfig() Config {
	return Config{
		Node: NodeConfig{
			Name: "leader",
		},
		Bus: BusConfig{
			BrokerAddress:         "localhost:1883",
			ClientIDPrefix:        "pioreactor",
			MaxReconnectAttempts:  10,
			PublishTimeoutSeconds: 5,
		},
		HTTP: HTTPConfig{
			Host:                  "0.0.0.0",
			Port:                  4999,
			LeaderAddress:         "localhost",
			RequestTimeoutSeconds: 5,
		},
		ODReading: ODReadingConfig{
			SamplesPerSecond: 0.2,
			IRLedIntensity:   "auto",
		},
		Dosing: DosingConfig{
			PumpHz: 100,
			PumpDC: 66,
		},
		Calibration: CalibrationConfig{
			Root: filepath.Join(storageRoot(), "calibrations"),
		},
		Profile: ProfileConfig{
			PollingCadenceSeconds: 5,
		},
		Logging: LoggingConfig{
			Level:        "INFO",
			ForwardToBus: true,
		},
	}
}

// Load reads <storageRoot>/config.toml, falling back to defaults for any
// section the file omits or if the file does not exist.
func Load() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(storageRoot(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to <storageRoot>/config.toml.
func Save(cfg Config) error {
	path := filepath.Join(storageRoot(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// storageRoot resolves DOT_PIOREACTOR (spec.md §6 Env) or falls back to
// ~/.pioreactor.
func storageRoot() string {
	if env := os.Getenv("DOT_PIOREACTOR"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pioreactor")
}

// StorageRoot is the exported accessor other packages use to place their
// durable state under the same root (spec.md §6 "Persisted state").
func StorageRoot() string {
	return storageRoot()
}

// Testing reports whether TESTING=1 is set (spec.md §6 Env): hardware
// drivers short-circuit to mocks when true.
func Testing() bool {
	return os.Getenv("TESTING") == "1"
}
