package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/user/bluemesh/config"
	"github.com/user/bluemesh/logger"
	"github.com/user/bluemesh/network"
	"github.com/user/bluemesh/radiosim"
	"github.com/user/bluemesh/report"
	"github.com/user/bluemesh/tracestore"
)

// loadConfig reads the config file and applies flag overrides
func loadConfig(f *simFlags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return cfg, err
	}

	if f.nodes > 0 {
		cfg.Simulation.Nodes = f.nodes
	}
	if f.topology != "" {
		cfg.Simulation.Topology = f.topology
	}
	if f.messages >= 0 {
		cfg.Simulation.Messages = f.messages
	}
	if f.duration != "" {
		d, err := time.ParseDuration(f.duration)
		if err != nil {
			return cfg, fmt.Errorf("invalid --duration: %w", err)
		}
		cfg.Simulation.Duration = config.Duration{Duration: d}
	}
	if f.traceDir != "" {
		cfg.Simulation.TraceDir = f.traceDir
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	return cfg, cfg.Validate()
}

// simulation is one traced run of a simulated network
type simulation struct {
	cfg    config.Config
	runDir string
	names  []string
	store  *tracestore.Store
	net    *network.Network
}

func newSimulation(cfg config.Config) (*simulation, error) {
	cfg.ApplyLogging()

	topology, err := radiosim.ParseTopology(cfg.Simulation.Topology)
	if err != nil {
		return nil, err
	}

	runDir := filepath.Join(cfg.TraceDir(), "run_"+time.Now().Format("2006-01-02_15-04-05.000"))
	store, err := tracestore.Open(runDir)
	if err != nil {
		return nil, fmt.Errorf("open trace store: %w", err)
	}

	opLogDir := ""
	if cfg.Simulation.OperationLog {
		opLogDir = filepath.Join(runDir, "devices")
	}

	names := radiosim.NodeNames(cfg.Node.NamePrefix, cfg.Simulation.Nodes)
	net, err := network.New(network.Options{
		Names:           names,
		Topology:        topology,
		Engine:          cfg.Engine.MeshConfig(),
		Radio:           cfg.Simulation.RadioConfig(),
		Store:           store,
		OperationLogDir: opLogDir,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &simulation{
		cfg:    cfg,
		runDir: runDir,
		names:  names,
		store:  store,
		net:    net,
	}, nil
}

func (s *simulation) Close() {
	s.net.Close()
	s.store.Close()
}

// run starts the network, broadcasts the configured messages round robin and
// waits until they reached every node or the run duration elapsed
func (s *simulation) run(ctx context.Context, out io.Writer) (*report.Report, error) {
	s.net.Start()
	fmt.Fprintf(out, "Simulating %d nodes (%s) for up to %s\n",
		len(s.names), s.cfg.Simulation.Topology, s.cfg.Simulation.Duration)

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Simulation.Duration.Duration)
	defer cancel()

	s.waitForNeighbors(runCtx)

	var sent []uuid.UUID
	for i := 0; i < s.cfg.Simulation.Messages && runCtx.Err() == nil; i++ {
		origin := s.names[i%len(s.names)]
		msg, err := s.net.Broadcast(origin, fmt.Sprintf("message %d from %s", i+1, origin))
		if err != nil {
			logger.Warn("meshsim", "broadcast from %s failed: %v", origin, err)
			continue
		}
		sent = append(sent, msg.Identifier)
		sleep(runCtx, s.cfg.Simulation.MessageInterval.Duration)
	}

	s.waitForDelivery(runCtx, sent)

	r, err := report.Build(s.store, s.names)
	if err != nil {
		return nil, err
	}
	if err := r.Render(out); err != nil {
		return nil, err
	}
	path, err := r.WriteFile(s.runDir)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "\nReport written to: %s\n", path)
	return r, nil
}

// waitForNeighbors blocks until every node sees at least one service
func (s *simulation) waitForNeighbors(ctx context.Context) {
	if len(s.names) < 2 {
		return
	}
	for {
		ready := true
		for _, node := range s.net.Nodes() {
			if node.Engine().InRangeCount() == 0 {
				ready = false
				break
			}
		}
		if ready || !sleep(ctx, 50*time.Millisecond) {
			return
		}
	}
}

func (s *simulation) waitForDelivery(ctx context.Context, ids []uuid.UUID) {
	want := len(s.names) - 1
	for {
		done := true
		for _, id := range ids {
			if len(s.net.Delivered(id)) < want {
				done = false
				break
			}
		}
		if done || !sleep(ctx, 50*time.Millisecond) {
			return
		}
	}
}

// sleep waits for d and reports false if ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
