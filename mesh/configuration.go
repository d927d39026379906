package mesh

import (
	"github.com/google/uuid"
	"github.com/user/bluemesh/logger"
	"github.com/user/bluemesh/pdu"
	"github.com/user/bluemesh/util"
)

// SetConfiguration replaces the local identity. Peers in range are told to
// read it again through a zero-TTL control message.
func (e *Engine) SetConfiguration(cfg pdu.Configuration) error {
	data, err := encodeConfiguration(&cfg, e.transport)
	if err != nil {
		return err
	}
	cfg.UserInfo = append([]byte(nil), cfg.UserInfo...)
	if !e.post(func() { e.setConfiguration(cfg, data) }) {
		return ErrClosed
	}
	return nil
}

func (e *Engine) setConfiguration(cfg pdu.Configuration, data []byte) {
	previous := e.configuration.Identifier
	e.configuration = cfg
	e.configurationPDU = data

	if !e.started {
		return
	}
	e.transport.SetConfigurationValue(data)

	payloadType := pdu.UpdatedConfiguration
	control := &pdu.Message{
		Identifier:    uuid.New(),
		PayloadType:   &payloadType,
		Payload:       data,
		TimeToLive:    0,
		SourceAddress: &previous,
	}
	e.seen.Add(control.Identifier)

	targets := e.registry.floodTargets()
	for _, p := range targets {
		e.registry.enqueue(p, outboundItem{msg: control})
	}
	e.metrics.ControlMessage("sent")
	logger.Info(e.prefix, "configuration changed to %s, notifying %d peers",
		util.ShortID(cfg.Identifier.String()), len(targets))
	e.schedule()
}

func (e *Engine) readConfiguration(p *peer) {
	if p.readInFlight {
		return
	}
	p.readInFlight = true
	e.transport.ReadConfiguration(p.id)
}

func (e *Engine) handleConfigurationRead(id PeerID, values [][]byte) {
	p, ok := e.registry.get(id)
	if !ok || !p.readInFlight {
		return
	}
	p.readInFlight = false

	services := make([]RemoteService, 0, len(values))
	for i, value := range values {
		c, err := pdu.UnmarshalConfiguration(value)
		if err != nil {
			e.metrics.ConnectionFailure("malformed configuration")
			logger.Warn(e.prefix, "%v", newError(MalformedInboundPDU, id, err))
			p.awaitingRediscovery = true
			e.cancelConnection(p, "malformed configuration")
			return
		}
		services = append(services, RemoteService{Index: i, Configuration: *c})
	}
	sortServices(services)

	e.registry.dropInRange(id)
	p.services = services
	p.needsConfigurationRead = false

	if len(services) == 0 {
		dropped := len(e.registry.drain(p))
		logger.Debug(e.prefix, "%s hosts no services, ignoring it (%d queued dropped)", id, dropped)
		e.emitInRangeCount()
		e.publishState()
		return
	}

	if p.inRange() {
		for _, identity := range e.registry.setInRange(p) {
			s, _ := p.service(identity)
			e.emitDiscover(Service{
				Identifier: identity,
				UserInfo:   append([]byte(nil), s.Configuration.UserInfo...),
				Peer:       id,
				RSSI:       *p.rssi,
			})
			logger.Info(e.prefix, "service %s in range via %s", util.ShortID(identity.String()), id)
		}
	}
	e.emitInRangeCount()

	if p.state == StateTransferring {
		e.flush(p)
	}
	e.publishState()
}

func (e *Engine) handleReadFailed(id PeerID, err error) {
	p, ok := e.registry.get(id)
	if !ok || !p.readInFlight {
		return
	}
	e.metrics.ConnectionFailure("read")
	logger.Warn(e.prefix, "%v", newError(TransportReadFailure, id, err))
	e.cancelConnection(p, "read failure")
}

// handleControl invalidates the identities of the peer that announced a
// configuration change so they are read again
func (e *Engine) handleControl(msg *pdu.Message, from PeerID) {
	e.metrics.ControlMessage("received")

	var (
		p  *peer
		ok bool
	)
	if msg.SourceAddress != nil {
		p, ok = e.registry.hostingPeer(*msg.SourceAddress)
	}
	if !ok {
		p, ok = e.registry.get(from)
	}
	if !ok {
		logger.Debug(e.prefix, "configuration update from unknown peer %s ignored", from)
		return
	}

	e.registry.dropInRange(p.id)
	p.services = nil
	p.needsConfigurationRead = true
	logger.Debug(e.prefix, "configuration of %s invalidated", p.id)

	if p.state == StateTransferring {
		e.readConfiguration(p)
	}
	e.emitInRangeCount()
	e.schedule()
}
