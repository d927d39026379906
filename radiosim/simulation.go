package radiosim

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimulationConfig controls the realism of simulated radio behavior
type SimulationConfig struct {
	// MaxWriteLength is the largest characteristic value a write may carry
	MaxWriteLength int // Default: 512 bytes

	// Connection timing (in milliseconds)
	MinConnectionDelay    int     // Default: 30ms
	MaxConnectionDelay    int     // Default: 100ms
	ConnectionFailureRate float64 // Default: 0.016 (1.6% failure rate)

	// GATT operation timing (in milliseconds): service discovery, reads, writes
	MinOperationDelay int // Default: 5ms
	MaxOperationDelay int // Default: 30ms

	// Discovery timing (in milliseconds)
	AdvertisingInterval int // Default: 100ms (Apple's recommended interval)

	// Radio characteristics
	EnableRSSI   bool // Default: true
	BaseRSSI     int  // Default: -50 dBm (close range)
	RSSIVariance int  // Default: 10 dBm (realistic fluctuation)

	// Packet loss applies to advertisements, reads and writes
	PacketLossRate float64 // Default: 0.015 (1.5% packet loss)

	// Deterministic mode for testing
	Deterministic bool  // Default: false (use for reproducible scenarios)
	Seed          int64 // Random seed when Deterministic=true
}

// DefaultSimulationConfig returns realistic radio simulation parameters
func DefaultSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		MaxWriteLength: 512,

		MinConnectionDelay:    30,
		MaxConnectionDelay:    100,
		ConnectionFailureRate: 0.016, // 1.6% connection failures

		MinOperationDelay: 5,
		MaxOperationDelay: 30,

		AdvertisingInterval: 100,

		EnableRSSI:   true,
		BaseRSSI:     -50,
		RSSIVariance: 10,

		PacketLossRate: 0.015, // 1.5% packet loss

		Deterministic: false,
		Seed:          0,
	}
}

// PerfectSimulationConfig returns 100% reliable config for testing
func PerfectSimulationConfig() *SimulationConfig {
	cfg := DefaultSimulationConfig()
	cfg.MinConnectionDelay = 0
	cfg.MaxConnectionDelay = 0
	cfg.ConnectionFailureRate = 0
	cfg.MinOperationDelay = 0
	cfg.MaxOperationDelay = 0
	cfg.AdvertisingInterval = 20
	cfg.PacketLossRate = 0
	cfg.Deterministic = true
	return cfg
}

// Simulator draws delays, failures and signal strength. It is safe for
// concurrent use by every radio sharing the air.
type Simulator struct {
	config *SimulationConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a new radio simulator
func NewSimulator(config *SimulationConfig) *Simulator {
	if config == nil {
		config = DefaultSimulationConfig()
	}

	var rng *rand.Rand
	if config.Deterministic {
		rng = rand.New(rand.NewSource(config.Seed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Simulator{
		config: config,
		rng:    rng,
	}
}

// Config returns the simulation parameters
func (s *Simulator) Config() *SimulationConfig {
	return s.config
}

func (s *Simulator) float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Simulator) between(min, max int) time.Duration {
	if max <= min {
		return time.Duration(min) * time.Millisecond
	}
	s.mu.Lock()
	delay := min + s.rng.Intn(max-min)
	s.mu.Unlock()
	return time.Duration(delay) * time.Millisecond
}

// ShouldConnectionSucceed returns true if connection should succeed
func (s *Simulator) ShouldConnectionSucceed() bool {
	return s.float64() >= s.config.ConnectionFailureRate
}

// ConnectionDelay returns realistic connection delay
func (s *Simulator) ConnectionDelay() time.Duration {
	return s.between(s.config.MinConnectionDelay, s.config.MaxConnectionDelay)
}

// OperationDelay returns the latency of one GATT operation
func (s *Simulator) OperationDelay() time.Duration {
	return s.between(s.config.MinOperationDelay, s.config.MaxOperationDelay)
}

// AdvertisingInterval returns the period between scan results
func (s *Simulator) AdvertisingInterval() time.Duration {
	interval := s.config.AdvertisingInterval
	if interval <= 0 {
		interval = 100
	}
	return time.Duration(interval) * time.Millisecond
}

// ShouldPacketSucceed returns true if packet transmission should succeed
func (s *Simulator) ShouldPacketSucceed() bool {
	return s.float64() >= s.config.PacketLossRate
}

// GenerateRSSI returns realistic RSSI value with variance
// distance: approximate distance in meters (1-10)
func (s *Simulator) GenerateRSSI(distance float64) int {
	if !s.config.EnableRSSI {
		return s.config.BaseRSSI
	}
	if distance < 1 {
		distance = 1
	}

	// Free space path loss formula (simplified)
	// RSSI decreases by ~20dB per 10x distance
	pathLoss := 20 * math.Log10(distance)
	rssi := float64(s.config.BaseRSSI) - pathLoss

	// Add random variance (realistic radio interference)
	if s.config.RSSIVariance > 0 {
		s.mu.Lock()
		variance := s.rng.Intn(s.config.RSSIVariance*2) - s.config.RSSIVariance
		s.mu.Unlock()
		rssi += float64(variance)
	}

	// Clamp to realistic BLE range (-100 to -20 dBm)
	if rssi < -100 {
		rssi = -100
	} else if rssi > -20 {
		rssi = -20
	}

	return int(rssi)
}
