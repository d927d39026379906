// Package config loads the TOML configuration of a mesh simulation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/user/bluemesh/logger"
	"github.com/user/bluemesh/mesh"
	"github.com/user/bluemesh/pdu"
	"github.com/user/bluemesh/radiosim"
	"github.com/user/bluemesh/util"
)

// Config holds all configuration
type Config struct {
	Node       NodeConfig       `toml:"node"`
	Engine     EngineConfig     `toml:"engine"`
	Logging    LoggingConfig    `toml:"logging"`
	Simulation SimulationConfig `toml:"simulation"`
	API        APIConfig        `toml:"api"`
}

// NodeConfig names the simulated nodes
type NodeConfig struct {
	NamePrefix string `toml:"name_prefix"`
	DataDir    string `toml:"data_dir"`
}

// EngineConfig mirrors mesh.Config
type EngineConfig struct {
	MaxConnections    int      `toml:"max_connections"`
	DiscoveryTimeout  Duration `toml:"discovery_timeout"`
	ConnectingTimeout Duration `toml:"connecting_timeout"`
	TransferTimeout   Duration `toml:"transfer_timeout"`
	SeenCacheCapacity int      `toml:"seen_cache_capacity"`
	DefaultTimeToLive int32    `toml:"default_ttl"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level string `toml:"level"`
}

// SimulationConfig describes the simulated network and its radio
type SimulationConfig struct {
	Nodes           int      `toml:"nodes"`
	Topology        string   `toml:"topology"`
	Messages        int      `toml:"messages"`
	MessageInterval Duration `toml:"message_interval"`
	Duration        Duration `toml:"duration"`
	TraceDir        string   `toml:"trace_dir"`
	OperationLog    bool     `toml:"operation_log"`

	MaxWriteLength        int     `toml:"max_write_length"`
	MinConnectionDelayMS  int     `toml:"min_connection_delay_ms"`
	MaxConnectionDelayMS  int     `toml:"max_connection_delay_ms"`
	ConnectionFailureRate float64 `toml:"connection_failure_rate"`
	MinOperationDelayMS   int     `toml:"min_operation_delay_ms"`
	MaxOperationDelayMS   int     `toml:"max_operation_delay_ms"`
	AdvertisingIntervalMS int     `toml:"advertising_interval_ms"`
	PacketLossRate        float64 `toml:"packet_loss_rate"`
	Seed                  int64   `toml:"seed"` // 0 = random
}

// APIConfig controls the HTTP API server
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns the listen address
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Duration is a time.Duration written as a string such as "12s"
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// DefaultConfig returns the defaults used when no file exists
func DefaultConfig() Config {
	radio := radiosim.DefaultSimulationConfig()
	return Config{
		Node: NodeConfig{
			NamePrefix: "node",
			DataDir:    util.GetDataDir(),
		},
		Engine: EngineConfig{
			MaxConnections:    mesh.DefaultMaxConnections,
			DiscoveryTimeout:  Duration{mesh.DefaultDiscoveryTimeout},
			ConnectingTimeout: Duration{mesh.DefaultConnectingTimeout},
			TransferTimeout:   Duration{mesh.DefaultTransferTimeout},
			SeenCacheCapacity: mesh.DefaultSeenCacheCapacity,
			DefaultTimeToLive: pdu.DefaultTimeToLive,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Simulation: SimulationConfig{
			Nodes:           5,
			Topology:        string(radiosim.TopologyLine),
			Messages:        3,
			MessageInterval: Duration{time.Second},
			Duration:        Duration{15 * time.Second},
			TraceDir:        util.GetTraceDir(),

			MaxWriteLength:        radio.MaxWriteLength,
			MinConnectionDelayMS:  radio.MinConnectionDelay,
			MaxConnectionDelayMS:  radio.MaxConnectionDelay,
			ConnectionFailureRate: radio.ConnectionFailureRate,
			MinOperationDelayMS:   radio.MinOperationDelay,
			MaxOperationDelayMS:   radio.MaxOperationDelay,
			AdvertisingIntervalMS: radio.AdvertisingInterval,
			PacketLossRate:        radio.PacketLossRate,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8750,
		},
	}
}

// Load reads path, falling back to defaults when the file does not exist.
// Keys absent from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		logger.Warn("config", "ignoring unknown keys in %s: %v", path, undecoded)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes cfg to path
func Save(path string, cfg Config) error {
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

// Validate rejects values no simulation can run with
func (c Config) Validate() error {
	if c.Engine.MaxConnections < 1 {
		return fmt.Errorf("engine.max_connections must be at least 1, got %d", c.Engine.MaxConnections)
	}
	if c.Engine.DefaultTimeToLive < 0 {
		return fmt.Errorf("engine.default_ttl must not be negative, got %d", c.Engine.DefaultTimeToLive)
	}
	if c.Simulation.Nodes < 1 {
		return fmt.Errorf("simulation.nodes must be at least 1, got %d", c.Simulation.Nodes)
	}
	if _, err := radiosim.ParseTopology(c.Simulation.Topology); err != nil {
		return fmt.Errorf("simulation.topology: %w", err)
	}
	if c.Simulation.MaxWriteLength < 1 || c.Simulation.MaxWriteLength > pdu.MaxValueLength {
		return fmt.Errorf("simulation.max_write_length must be in 1..%d, got %d",
			pdu.MaxValueLength, c.Simulation.MaxWriteLength)
	}
	for name, rate := range map[string]float64{
		"connection_failure_rate": c.Simulation.ConnectionFailureRate,
		"packet_loss_rate":        c.Simulation.PacketLossRate,
	} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("simulation.%s must be in [0,1], got %v", name, rate)
		}
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	return nil
}

// MeshConfig converts the engine section into a mesh.Config with a fresh
// random identity
func (e EngineConfig) MeshConfig() mesh.Config {
	cfg := mesh.DefaultConfig()
	cfg.MaxConnections = e.MaxConnections
	cfg.DiscoveryTimeout = e.DiscoveryTimeout.Duration
	cfg.ConnectingTimeout = e.ConnectingTimeout.Duration
	cfg.TransferTimeout = e.TransferTimeout.Duration
	cfg.SeenCacheCapacity = e.SeenCacheCapacity
	cfg.DefaultTimeToLive = e.DefaultTimeToLive
	return cfg
}

// RadioConfig converts the simulation section into radio parameters
func (s SimulationConfig) RadioConfig() *radiosim.SimulationConfig {
	return &radiosim.SimulationConfig{
		MaxWriteLength:        s.MaxWriteLength,
		MinConnectionDelay:    s.MinConnectionDelayMS,
		MaxConnectionDelay:    s.MaxConnectionDelayMS,
		ConnectionFailureRate: s.ConnectionFailureRate,
		MinOperationDelay:     s.MinOperationDelayMS,
		MaxOperationDelay:     s.MaxOperationDelayMS,
		AdvertisingInterval:   s.AdvertisingIntervalMS,
		EnableRSSI:            true,
		BaseRSSI:              -50,
		RSSIVariance:          10,
		PacketLossRate:        s.PacketLossRate,
		Deterministic:         s.Seed != 0,
		Seed:                  s.Seed,
	}
}

// TraceDir returns the trace database directory, defaulting under the data dir
func (c Config) TraceDir() string {
	if c.Simulation.TraceDir != "" {
		return c.Simulation.TraceDir
	}
	return filepath.Join(c.Node.DataDir, "traces")
}

// ApplyLogging sets the global log level
func (c Config) ApplyLogging() {
	logger.SetLevel(logger.ParseLevel(c.Logging.Level))
}
