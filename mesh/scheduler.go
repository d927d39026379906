package mesh

import (
	"github.com/user/bluemesh/logger"
)

// schedule fills free connection slots with eligible peers in turn order
func (e *Engine) schedule() {
	if !e.started {
		return
	}
	free := e.cfg.MaxConnections - e.registry.activeCount()
	if free > 0 {
		for _, p := range e.registry.eligible() {
			if free == 0 {
				break
			}
			e.connect(p)
			free--
		}
	}
	e.publishState()
}

func (e *Engine) connect(p *peer) {
	p.state = StateConnecting

	id := p.id
	e.timers.schedule(id, timerConnecting, e.cfg.ConnectingTimeout, func() {
		e.handleConnectingTimeout(id)
	})
	e.metrics.ConnectionAttempt()
	logger.Debug(e.prefix, "connecting to %s (queued %d, needs read %v)",
		id, len(p.outbound), p.needsConfigurationRead)
	e.transport.Connect(id)
}

// cancelConnection is the single recovery path for every failure. It is
// safe to call in any state.
func (e *Engine) cancelConnection(p *peer, reason string) {
	if p.state.active() {
		e.transport.CancelConnection(p.id)
	}
	e.timers.stop(p.id, timerConnecting)
	e.timers.stop(p.id, timerTransfer)
	p.readInFlight = false
	p.pendingWrites = 0
	p.state = StateDisconnected
	// Peers still waiting go first
	p.turn = e.registry.takeTurn()

	if !p.inRange() {
		logger.Debug(e.prefix, "evicting %s after %s (out of range)", p.id, reason)
		e.timers.stopPeer(p.id)
		e.registry.evict(p.id)
		e.emitInRangeCount()
	} else {
		logger.Debug(e.prefix, "connection to %s cancelled: %s", p.id, reason)
		p.state = StateDiscovered
	}
	e.schedule()
}

func (e *Engine) armDiscoveryTimer(p *peer) {
	if e.background {
		return
	}
	id := p.id
	e.timers.schedule(id, timerDiscovery, e.cfg.DiscoveryTimeout, func() {
		e.handleDiscoveryTimeout(id)
	})
}

func (e *Engine) handleDiscovered(id PeerID, rssi int) {
	if !e.started {
		return
	}
	p, created := e.registry.discover(id)
	wasInRange := p.inRange()
	p.rssi = &rssi
	p.awaitingRediscovery = false

	if created {
		logger.Debug(e.prefix, "discovered %s (rssi %d)", id, rssi)
	} else if !wasInRange {
		// Back in range after a discovery timeout: start a new cycle
		logger.Debug(e.prefix, "rediscovered %s (rssi %d)", id, rssi)
		p.needsConfigurationRead = true
		if p.state == StateTransferring {
			e.readConfiguration(p)
		}
	}

	e.armDiscoveryTimer(p)
	e.schedule()
}

func (e *Engine) handleDiscoveryTimeout(id PeerID) {
	p, ok := e.registry.get(id)
	if !ok {
		return
	}
	e.metrics.Timeout(timerDiscovery.String())

	p.rssi = nil
	removed := e.registry.dropInRange(id)
	dropped := len(e.registry.drain(p))
	logger.Debug(e.prefix, "discovery timeout for %s (%d identities out of range, %d queued dropped)",
		id, removed, dropped)

	if !p.state.active() {
		e.timers.stopPeer(id)
		e.registry.evict(id)
	}
	e.emitInRangeCount()
	e.publishState()
}

func (e *Engine) handleConnectingTimeout(id PeerID) {
	p, ok := e.registry.get(id)
	if !ok || p.state != StateConnecting {
		return
	}
	e.metrics.Timeout(timerConnecting.String())
	e.metrics.ConnectionFailure("connecting timeout")
	logger.Warn(e.prefix, "connecting to %s timed out", id)
	e.cancelConnection(p, "connecting timeout")
}

func (e *Engine) handleConnected(id PeerID) {
	if !e.started {
		return
	}
	p, ok := e.registry.get(id)
	if !ok || !p.state.active() {
		// The attempt was abandoned; do not leak the link
		e.transport.CancelConnection(id)
		return
	}
	if p.state != StateConnecting {
		return
	}
	e.timers.stop(id, timerConnecting)
	p.state = StateConnected
	logger.Debug(e.prefix, "connected to %s", id)
	e.discoverService(p)
}

func (e *Engine) handleConnectFailed(id PeerID, err error) {
	p, ok := e.registry.get(id)
	if !ok || p.state != StateConnecting {
		return
	}
	e.metrics.ConnectionFailure("connect")
	logger.Warn(e.prefix, "%v", newError(TransportConnectFailure, id, err))
	e.cancelConnection(p, "connect failure")
}

func (e *Engine) handleDisconnected(id PeerID, err error) {
	p, ok := e.registry.get(id)
	if !ok || !p.state.active() {
		return
	}
	if err != nil {
		e.metrics.ConnectionFailure("disconnect")
		logger.Debug(e.prefix, "%s disconnected: %v", id, err)
	}
	e.cancelConnection(p, "disconnected")
}

func (e *Engine) handleServiceReady(id PeerID) {
	p, ok := e.registry.get(id)
	if !ok || p.state != StateConnected {
		return
	}
	p.state = StateTransferring
	e.armTransferTimer(p)

	if p.needsConfigurationRead {
		e.readConfiguration(p)
	}
	e.flush(p)
}

func (e *Engine) handleServiceDiscoveryFailed(id PeerID, err error) {
	p, ok := e.registry.get(id)
	if !ok || p.state != StateConnected {
		return
	}
	e.metrics.ConnectionFailure("service discovery")
	logger.Warn(e.prefix, "%v", newError(TransportConnectFailure, id, err))
	e.cancelConnection(p, "service discovery failure")
}

// discoverService requests service discovery, guarded by the transfer timer
func (e *Engine) discoverService(p *peer) {
	e.armTransferTimer(p)
	e.transport.DiscoverServiceAndCharacteristics(p.id)
}

func (e *Engine) armTransferTimer(p *peer) {
	id := p.id
	e.timers.schedule(id, timerTransfer, e.cfg.TransferTimeout, func() {
		e.handleTransferTimeout(id)
	})
}

func (e *Engine) handleTransferTimeout(id PeerID) {
	p, ok := e.registry.get(id)
	if !ok {
		return
	}
	switch p.state {
	case StateConnected:
		e.metrics.Timeout(timerTransfer.String())
		e.metrics.ConnectionFailure("service discovery timeout")
		logger.Warn(e.prefix, "service discovery on %s timed out", id)
		e.cancelConnection(p, "service discovery timeout")
		return
	case StateTransferring:
	default:
		return
	}
	e.metrics.Timeout(timerTransfer.String())

	if len(p.outbound) == 0 {
		e.cancelConnection(p, "transfer complete")
		return
	}

	// New work arrived while transferring: run the cycle again to drain it
	logger.Debug(e.prefix, "%d messages queued for %s, restarting transfer", len(p.outbound), id)
	p.state = StateConnected
	e.discoverService(p)
}
