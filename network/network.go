// Package network wires mesh engines to simulated radios so a whole mesh can
// run in one process. Every node is one device with one radio and one engine.
package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/bluemesh/logger"
	"github.com/user/bluemesh/mesh"
	"github.com/user/bluemesh/pdu"
	"github.com/user/bluemesh/radiosim"
	"github.com/user/bluemesh/tracestore"
)

// Options describe a simulated network
type Options struct {
	Names    []string
	Topology radiosim.Topology

	// Engine is the template for every node; each node gets its own identity
	Engine mesh.Config
	Radio  *radiosim.SimulationConfig

	// Store, when set, records every send and delivery
	Store *tracestore.Store

	// OperationLogDir, when set, enables per-device radio operation logs
	OperationLogDir string
}

// Network is a running set of nodes sharing one Air
type Network struct {
	air    *radiosim.Air
	store  *tracestore.Store
	nodes  []*Node
	byName map[string]*Node

	closeOnce sync.Once
}

// New builds the devices, links them and creates one engine per node. The
// engines are not started.
func New(opts Options) (*Network, error) {
	if len(opts.Names) == 0 {
		return nil, fmt.Errorf("network needs at least one node")
	}

	var airOpts []radiosim.AirOption
	if opts.OperationLogDir != "" {
		airOpts = append(airOpts, radiosim.WithOperationLog(opts.OperationLogDir))
	}
	n := &Network{
		air:    radiosim.NewAir(opts.Radio, airOpts...),
		store:  opts.Store,
		byName: make(map[string]*Node),
	}

	for _, name := range opts.Names {
		if _, dup := n.byName[name]; dup {
			return nil, fmt.Errorf("duplicate node name %q", name)
		}
		node, err := n.addNode(name, opts.Engine)
		if err != nil {
			n.Close()
			return nil, err
		}
		n.nodes = append(n.nodes, node)
		n.byName[name] = node
	}

	if err := n.air.Connect(opts.Topology, opts.Names); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *Network) addNode(name string, template mesh.Config) (*Node, error) {
	user := pdu.User{Identifier: uuid.New(), Name: name}
	cfg := template
	cfg.Configuration = pdu.Configuration{
		Identifier: uuid.New(),
		UserInfo:   user.MarshalUserInfo(),
	}

	node := &Node{
		name:  name,
		user:  user,
		store: n.store,
	}
	node.radio = n.air.AddDevice(name).AddRadio()

	engine, err := mesh.New(cfg, node.radio, node, mesh.WithName(name))
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", name, err)
	}
	node.engine = engine
	node.radio.Attach(engine)
	return node, nil
}

// Air returns the shared medium, for changing links at runtime
func (n *Network) Air() *radiosim.Air {
	return n.air
}

// Nodes returns every node in creation order
func (n *Network) Nodes() []*Node {
	return append([]*Node(nil), n.nodes...)
}

// Node looks up a node by name
func (n *Network) Node(name string) (*Node, bool) {
	node, ok := n.byName[name]
	return node, ok
}

// Start starts every engine
func (n *Network) Start() {
	for _, node := range n.nodes {
		node.engine.Start()
	}
	logger.Info("network", "started %d nodes", len(n.nodes))
}

// Close stops every engine and the radios
func (n *Network) Close() {
	n.closeOnce.Do(func() {
		for _, node := range n.nodes {
			node.engine.Close()
		}
		n.air.Close()
	})
}

// Broadcast floods a public message authored by the named node
func (n *Network) Broadcast(name, text string) (*pdu.Message, error) {
	node, ok := n.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown node %q", name)
	}
	return node.Broadcast(text)
}

// Delivered returns the names of the nodes that received message id
func (n *Network) Delivered(id uuid.UUID) []string {
	var names []string
	for _, node := range n.nodes {
		if node.HasReceived(id) {
			names = append(names, node.name)
		}
	}
	return names
}

// WaitForDelivery blocks until count nodes received id or timeout elapses
func (n *Network) WaitForDelivery(id uuid.UUID, count int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if len(n.Delivered(id)) >= count {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}
