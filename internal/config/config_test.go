package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Node.Name != "leader" {
		t.Errorf("Node.Name = %q, want %q", cfg.Node.Name, "leader")
	}
	if cfg.Bus.BrokerAddress != "localhost:1883" {
		t.Errorf("Bus.BrokerAddress = %q, want %q", cfg.Bus.BrokerAddress, "localhost:1883")
	}
	if cfg.HTTP.Port != 4999 {
		t.Errorf("HTTP.Port = %d, want %d", cfg.HTTP.Port, 4999)
	}
	if cfg.ODReading.SamplesPerSecond != 0.2 {
		t.Errorf("ODReading.SamplesPerSecond = %v, want %v", cfg.ODReading.SamplesPerSecond, 0.2)
	}
	if len(cfg.Cluster.Workers) != 0 {
		t.Errorf("Cluster.Workers = %v, want empty", cfg.Cluster.Workers)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DOT_PIOREACTOR", dir)

	cfg := DefaultConfig()
	cfg.Node.Name = "worker1"
	cfg.Cluster.Workers = []WorkerConfig{{Name: "worker2", Address: "192.168.1.2:4999"}}

	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Fatalf("expected config.toml to exist: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Node.Name != "worker1" {
		t.Fatalf("Node.Name = %q, want %q", loaded.Node.Name, "worker1")
	}
	if len(loaded.Cluster.Workers) != 1 || loaded.Cluster.Workers[0].Address != "192.168.1.2:4999" {
		t.Fatalf("Cluster.Workers = %+v", loaded.Cluster.Workers)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("DOT_PIOREACTOR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Port != 4999 {
		t.Fatalf("expected default port, got %d", cfg.HTTP.Port)
	}
}

func TestStorageRootHonorsEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DOT_PIOREACTOR", dir)
	if got := StorageRoot(); got != dir {
		t.Fatalf("StorageRoot() = %q, want %q", got, dir)
	}
}

func TestTestingHonorsEnvFlag(t *testing.T) {
	t.Setenv("TESTING", "")
	if Testing() {
		t.Fatal("expected Testing() false by default")
	}
	t.Setenv("TESTING", "1")
	if !Testing() {
		t.Fatal("expected Testing() true when TESTING=1")
	}
}
