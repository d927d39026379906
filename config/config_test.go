package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/bluemesh/mesh"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Engine.MaxConnections != 5 {
		t.Errorf("Engine.MaxConnections = %d, want 5", cfg.Engine.MaxConnections)
	}
	if cfg.Engine.DiscoveryTimeout.Duration != 12*time.Second {
		t.Errorf("Engine.DiscoveryTimeout = %v, want 12s", cfg.Engine.DiscoveryTimeout)
	}
	if cfg.Engine.DefaultTimeToLive != 15 {
		t.Errorf("Engine.DefaultTimeToLive = %d, want 15", cfg.Engine.DefaultTimeToLive)
	}
	if cfg.API.Addr() != "127.0.0.1:8750" {
		t.Errorf("API.Addr() = %q, want %q", cfg.API.Addr(), "127.0.0.1:8750")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Simulation.Nodes != DefaultConfig().Simulation.Nodes {
		t.Errorf("Simulation.Nodes = %d, want default", cfg.Simulation.Nodes)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bluemesh.toml")
	data := `
[engine]
max_connections = 2
transfer_timeout = "750ms"

[logging]
level = "debug"

[simulation]
nodes = 9
topology = "grid"
packet_loss_rate = 0.1
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Engine.MaxConnections != 2 {
		t.Errorf("Engine.MaxConnections = %d, want 2", cfg.Engine.MaxConnections)
	}
	if cfg.Engine.TransferTimeout.Duration != 750*time.Millisecond {
		t.Errorf("Engine.TransferTimeout = %v, want 750ms", cfg.Engine.TransferTimeout)
	}
	if cfg.Engine.DiscoveryTimeout.Duration != 12*time.Second {
		t.Errorf("unset DiscoveryTimeout should keep default, got %v", cfg.Engine.DiscoveryTimeout)
	}
	if cfg.Simulation.Nodes != 9 || cfg.Simulation.Topology != "grid" {
		t.Errorf("Simulation = %+v", cfg.Simulation)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad toml", "[engine\n"},
		{"bad duration", "[engine]\ntransfer_timeout = \"soon\"\n"},
		{"bad topology", "[simulation]\ntopology = \"star\"\n"},
		{"zero connections", "[engine]\nmax_connections = 0\n"},
		{"loss rate", "[simulation]\npacket_loss_rate = 1.5\n"},
		{"write length", "[simulation]\nmax_write_length = 4096\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bluemesh.toml")
			if err := os.WriteFile(path, []byte(tt.data), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Errorf("Load() should fail for %s", tt.name)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bluemesh.toml")
	cfg := DefaultConfig()
	cfg.Engine.ConnectingTimeout = Duration{2500 * time.Millisecond}
	cfg.Simulation.Seed = 99

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Engine.ConnectingTimeout.Duration != 2500*time.Millisecond {
		t.Errorf("ConnectingTimeout = %v, want 2.5s", loaded.Engine.ConnectingTimeout)
	}
	if loaded.Simulation.Seed != 99 {
		t.Errorf("Seed = %d, want 99", loaded.Simulation.Seed)
	}
}

func TestMeshConfig(t *testing.T) {
	e := DefaultConfig().Engine
	e.MaxConnections = 3
	e.TransferTimeout = Duration{time.Second}

	mc := e.MeshConfig()
	if mc.MaxConnections != 3 {
		t.Errorf("MaxConnections = %d, want 3", mc.MaxConnections)
	}
	if mc.TransferTimeout != time.Second {
		t.Errorf("TransferTimeout = %v, want 1s", mc.TransferTimeout)
	}
	if mc.SeenCacheCapacity != mesh.DefaultSeenCacheCapacity {
		t.Errorf("SeenCacheCapacity = %d", mc.SeenCacheCapacity)
	}
	if err := mc.Configuration.Validate(); err != nil {
		t.Errorf("MeshConfig should carry a valid identity: %v", err)
	}
}

func TestRadioConfig(t *testing.T) {
	s := DefaultConfig().Simulation
	s.Seed = 0
	if s.RadioConfig().Deterministic {
		t.Error("seed 0 should not be deterministic")
	}
	s.Seed = 5
	rc := s.RadioConfig()
	if !rc.Deterministic || rc.Seed != 5 {
		t.Errorf("RadioConfig() = %+v", rc)
	}
}
