// Package mesh implements the peer connection lifecycle and message flooding
// engine of a radio mesh. All state is owned by a single goroutine; public
// methods and transport callbacks post work to it and return immediately.
package mesh

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/user/bluemesh/logger"
	"github.com/user/bluemesh/metrics"
	"github.com/user/bluemesh/pdu"
	"github.com/user/bluemesh/util"
)

// Defaults for Config fields left at zero
const (
	DefaultMaxConnections    = 5
	DefaultDiscoveryTimeout  = 12 * time.Second
	DefaultConnectingTimeout = 5 * time.Second
	DefaultTransferTimeout   = 3 * time.Second
)

// ErrClosed is returned by calls made after Close
var ErrClosed = errors.New("mesh: engine closed")

// Config holds the engine parameters
type Config struct {
	// Configuration is the local mesh identity advertised to peers
	Configuration pdu.Configuration

	// MaxConnections bounds concurrent connections (connecting, connected
	// or transferring)
	MaxConnections int

	DiscoveryTimeout  time.Duration
	ConnectingTimeout time.Duration
	TransferTimeout   time.Duration

	SeenCacheCapacity int

	// DefaultTimeToLive is used by Broadcast
	DefaultTimeToLive int32
}

// DefaultConfig returns a Config with a random identity and default limits
func DefaultConfig() Config {
	return Config{
		Configuration:     pdu.Configuration{Identifier: uuid.New()},
		MaxConnections:    DefaultMaxConnections,
		DiscoveryTimeout:  DefaultDiscoveryTimeout,
		ConnectingTimeout: DefaultConnectingTimeout,
		TransferTimeout:   DefaultTransferTimeout,
		SeenCacheCapacity: DefaultSeenCacheCapacity,
		DefaultTimeToLive: pdu.DefaultTimeToLive,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if c.ConnectingTimeout <= 0 {
		c.ConnectingTimeout = DefaultConnectingTimeout
	}
	if c.TransferTimeout <= 0 {
		c.TransferTimeout = DefaultTransferTimeout
	}
	if c.SeenCacheCapacity <= 0 {
		c.SeenCacheCapacity = DefaultSeenCacheCapacity
	}
	if c.DefaultTimeToLive <= 0 {
		c.DefaultTimeToLive = pdu.DefaultTimeToLive
	}
	return c
}

// Option customizes an Engine
type Option func(*Engine)

// WithClock replaces the wall clock, typically with clock.NewMock in tests
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) {
		e.clock = clk
	}
}

// WithName sets the name used in log lines and metric labels
func WithName(name string) Option {
	return func(e *Engine) {
		e.name = name
	}
}

// Engine is the mesh engine for one local identity
type Engine struct {
	name      string
	prefix    string
	cfg       Config
	transport Transport
	delegate  Delegate
	clock     clock.Clock
	metrics   *metrics.Node

	tasks      *taskQueue
	events     *taskQueue
	loopDone   chan struct{}
	eventsDone chan struct{}
	closeOnce  sync.Once

	// Everything below is owned by the engine goroutine
	started          bool
	background       bool
	configuration    pdu.Configuration
	configurationPDU []byte
	registry         *registry
	seen             *SeenCache
	timers           *timerSet
	reportedInRange  int
}

// New creates an engine and starts its goroutines. The engine stays idle
// until Start is called.
func New(cfg Config, transport Transport, delegate Delegate, opts ...Option) (*Engine, error) {
	if transport == nil {
		return nil, fmt.Errorf("mesh: transport is required")
	}
	cfg = cfg.withDefaults()

	configurationPDU, err := encodeConfiguration(&cfg.Configuration, transport)
	if err != nil {
		return nil, err
	}

	if delegate == nil {
		delegate = DelegateFuncs{}
	}

	e := &Engine{
		cfg:              cfg,
		transport:        transport,
		delegate:         delegate,
		clock:            clock.New(),
		tasks:            newTaskQueue(),
		events:           newTaskQueue(),
		loopDone:         make(chan struct{}),
		eventsDone:       make(chan struct{}),
		configuration:    cfg.Configuration,
		configurationPDU: configurationPDU,
		registry:         newRegistry(),
		seen:             NewSeenCache(cfg.SeenCacheCapacity),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.name == "" {
		e.name = util.ShortID(cfg.Configuration.Identifier.String())
	}
	e.prefix = e.name + " mesh"
	e.metrics = metrics.ForNode(e.name)
	e.timers = newTimerSet(e.clock, e.post)

	go func() {
		defer close(e.loopDone)
		e.tasks.run()
	}()
	go func() {
		defer close(e.eventsDone)
		e.events.run()
	}()

	return e, nil
}

// Name returns the engine's log and metrics name
func (e *Engine) Name() string {
	return e.name
}

// DefaultTimeToLive returns the TTL Broadcast gives new messages
func (e *Engine) DefaultTimeToLive() int32 {
	return e.cfg.DefaultTimeToLive
}

func (e *Engine) post(fn func()) bool {
	return e.tasks.push(fn)
}

// call runs fn on the engine goroutine and waits for it
func (e *Engine) call(fn func()) bool {
	done := make(chan struct{})
	if !e.post(func() {
		fn()
		close(done)
	}) {
		return false
	}
	<-done
	return true
}

// Start begins advertising and scanning. Calling Start on a running engine
// does nothing.
func (e *Engine) Start() {
	e.post(e.start)
}

// Stop cancels every connection and timer and forgets all peers, queues and
// seen messages. Calling Stop on a stopped engine does nothing.
func (e *Engine) Stop() {
	e.post(e.stop)
}

// Close stops the engine and terminates its goroutines
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.post(e.stop)
		e.tasks.close()
		<-e.loopDone
		e.events.close()
		<-e.eventsDone
	})
}

// EnterBackground suspends discovery timeouts, for when the host process
// cannot run periodic timers. Connections are unaffected.
func (e *Engine) EnterBackground() {
	e.post(func() {
		if e.background {
			return
		}
		e.background = true
		e.timers.stopCategory(timerDiscovery)
		logger.Debug(e.prefix, "entered background, discovery timeouts suspended")
	})
}

// EnterForeground re-arms discovery timeouts for every peer in range
func (e *Engine) EnterForeground() {
	e.post(func() {
		if !e.background {
			return
		}
		e.background = false
		for _, p := range e.registry.all() {
			if p.inRange() {
				e.armDiscoveryTimer(p)
			}
		}
		logger.Debug(e.prefix, "entered foreground, discovery timeouts resumed")
	})
}

func (e *Engine) start() {
	if e.started {
		return
	}
	e.started = true
	e.registry = newRegistry()
	e.seen.Clear()
	e.reportedInRange = 0

	e.transport.StartAdvertisingAndScanning(e.configurationPDU)
	logger.Info(e.prefix, "started (identity %s, max connections %d)",
		util.ShortID(e.configuration.Identifier.String()), e.cfg.MaxConnections)
	e.publishState()
}

func (e *Engine) stop() {
	if !e.started {
		return
	}
	e.timers.stopAll()
	for _, p := range e.registry.all() {
		if p.state.active() {
			e.transport.CancelConnection(p.id)
		}
	}
	e.registry.clear()
	e.seen.Clear()
	e.transport.Stop()
	e.started = false
	e.emitInRangeCount()

	logger.Info(e.prefix, "stopped")
	e.publishState()
}

func (e *Engine) publishState() {
	e.metrics.SetState(e.registry.activeCount(), e.registry.inRangeCount(), e.seen.Len())
}

func (e *Engine) maxWriteLength() int {
	limit := pdu.MaxValueLength
	if n := e.transport.MaxWriteLength(); n > 0 && n < limit {
		limit = n
	}
	return limit
}

func encodeConfiguration(c *pdu.Configuration, transport Transport) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, newError(InvalidConfiguration, "", err)
	}
	data, err := c.MarshalPDU()
	if err != nil {
		return nil, newError(InvalidConfiguration, "", err)
	}
	limit := pdu.MaxValueLength
	if n := transport.MaxWriteLength(); n > 0 && n < limit {
		limit = n
	}
	if len(data) > limit {
		return nil, newError(InvalidConfiguration, "",
			fmt.Errorf("%w: %d bytes exceeds %d", pdu.ErrTooBig, len(data), limit))
	}
	return data, nil
}

// ─── Transport events ───────────────────────────────────────────────────────

// OnPeerDiscovered reports an advertisement from id with signal strength rssi
func (e *Engine) OnPeerDiscovered(id PeerID, rssi int) {
	e.post(func() { e.handleDiscovered(id, rssi) })
}

// OnConnected reports that a Connect request succeeded
func (e *Engine) OnConnected(id PeerID) {
	e.post(func() { e.handleConnected(id) })
}

// OnConnectFailed reports that a Connect request failed
func (e *Engine) OnConnectFailed(id PeerID, err error) {
	e.post(func() { e.handleConnectFailed(id, err) })
}

// OnDisconnected reports that the connection to id ended
func (e *Engine) OnDisconnected(id PeerID, err error) {
	e.post(func() { e.handleDisconnected(id, err) })
}

// OnServiceReady reports that the mesh service and its characteristics were
// resolved on id
func (e *Engine) OnServiceReady(id PeerID) {
	e.post(func() { e.handleServiceReady(id) })
}

// OnServiceDiscoveryFailed reports that service discovery on id failed
func (e *Engine) OnServiceDiscoveryFailed(id PeerID, err error) {
	e.post(func() { e.handleServiceDiscoveryFailed(id, err) })
}

// OnConfigurationRead delivers one configuration value per service hosted by id
func (e *Engine) OnConfigurationRead(id PeerID, values [][]byte) {
	e.post(func() { e.handleConfigurationRead(id, values) })
}

// OnReadFailed reports that a ReadConfiguration request failed
func (e *Engine) OnReadFailed(id PeerID, err error) {
	e.post(func() { e.handleReadFailed(id, err) })
}

// OnWriteComplete reports that a write to service on id was acknowledged
func (e *Engine) OnWriteComplete(id PeerID, service int) {
	e.post(func() { e.handleWriteComplete(id, service) })
}

// OnWriteFailed reports that a write to service on id failed
func (e *Engine) OnWriteFailed(id PeerID, service int, err error) {
	e.post(func() { e.handleWriteFailed(id, service, err) })
}

// OnIncomingWriteRequests delivers a batch of writes from remote centrals.
// The batch is answered with exactly one RespondToWrite.
func (e *Engine) OnIncomingWriteRequests(batch []WriteRequest) {
	if len(batch) == 0 {
		return
	}
	batch = append([]WriteRequest(nil), batch...)
	e.post(func() { e.handleWriteRequests(batch) })
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Sync waits until every task posted before it ran and every delegate
// callback they produced returned
func (e *Engine) Sync() {
	done := make(chan struct{})
	if !e.post(func() {
		if !e.events.push(func() { close(done) }) {
			close(done)
		}
	}) {
		return
	}
	select {
	case <-done:
	case <-e.eventsDone:
	}
}

// IsStarted reports whether the engine is running
func (e *Engine) IsStarted() bool {
	var started bool
	e.call(func() { started = e.started })
	return started
}

// Configuration returns the local configuration
func (e *Engine) Configuration() pdu.Configuration {
	var c pdu.Configuration
	e.call(func() { c = e.configuration })
	return c
}

// ServicesInRange returns the identities currently in range, sorted by identifier
func (e *Engine) ServicesInRange() []Service {
	var services []Service
	e.call(func() { services = e.registry.servicesInRange() })
	return services
}

// InRangeCount returns the number of identities currently in range
func (e *Engine) InRangeCount() int {
	var n int
	e.call(func() { n = e.registry.inRangeCount() })
	return n
}

// PeerSnapshot returns a copy of the peer's state
func (e *Engine) PeerSnapshot(id PeerID) (PeerSnapshot, bool) {
	var (
		snap PeerSnapshot
		ok   bool
	)
	e.call(func() {
		var p *peer
		if p, ok = e.registry.get(id); ok {
			snap = p.snapshot()
		}
	})
	return snap, ok
}

// Peers returns snapshots of every known peer in discovery order
func (e *Engine) Peers() []PeerSnapshot {
	var peers []PeerSnapshot
	e.call(func() {
		for _, p := range e.registry.all() {
			peers = append(peers, p.snapshot())
		}
	})
	return peers
}

// ActiveConnections returns the number of peers holding a connection slot
func (e *Engine) ActiveConnections() int {
	var n int
	e.call(func() { n = e.registry.activeCount() })
	return n
}

// HasSeen reports whether id is in the seen cache
func (e *Engine) HasSeen(id uuid.UUID) bool {
	var seen bool
	e.call(func() { seen = e.seen.Contains(id) })
	return seen
}
