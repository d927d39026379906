package mesh

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
	"github.com/user/bluemesh/pdu"
)

// State is the connection state of a peer
type State int

const (
	StateDiscovered State = iota
	StateConnecting
	StateConnected
	StateTransferring
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateTransferring:
		return "transferring"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// active reports whether the state holds one of the K connection slots
func (s State) active() bool {
	return s == StateConnecting || s == StateConnected || s == StateTransferring
}

// RemoteService is one logical mesh identity hosted by a peer. Index is the
// position reported by the transport and addresses writes to it.
type RemoteService struct {
	Index         int
	Configuration pdu.Configuration
}

// Identifier returns the mesh identity of the service
func (s RemoteService) Identifier() uuid.UUID {
	return s.Configuration.Identifier
}

// sortServices orders services by identifier bytes so the first one is
// stable regardless of transport order
func sortServices(services []RemoteService) {
	sort.SliceStable(services, func(i, j int) bool {
		a, b := services[i].Identifier(), services[j].Identifier()
		return bytes.Compare(a[:], b[:]) < 0
	})
}

// outboundItem is a message waiting for a connection. A nil target writes to
// every service of the peer.
type outboundItem struct {
	msg    *pdu.Message
	target *uuid.UUID
}

type peer struct {
	id       PeerID
	state    State
	rssi     *int
	services []RemoteService

	needsConfigurationRead bool
	readInFlight           bool
	// awaitingRediscovery holds the peer back after it served a malformed
	// configuration until the scanner reports it again
	awaitingRediscovery bool

	outbound      []outboundItem
	pendingWrites int

	// turn orders eligible peers; an ended attempt moves the peer to the back
	turn uint64
}

func (p *peer) inRange() bool {
	return p.rssi != nil
}

func (p *peer) identified() bool {
	return len(p.services) > 0
}

func (p *peer) hasWork() bool {
	if p.awaitingRediscovery {
		return false
	}
	return len(p.outbound) > 0 || (p.needsConfigurationRead && p.inRange())
}

func (p *peer) service(identifier uuid.UUID) (RemoteService, bool) {
	if i, ok := p.servicePosition(identifier); ok {
		return p.services[i], true
	}
	return RemoteService{}, false
}

func (p *peer) servicePosition(identifier uuid.UUID) (int, bool) {
	for i, s := range p.services {
		if s.Identifier() == identifier {
			return i, true
		}
	}
	return 0, false
}

func (p *peer) snapshot() PeerSnapshot {
	snap := PeerSnapshot{
		ID:                     p.id,
		State:                  p.state,
		Services:               append([]RemoteService(nil), p.services...),
		NeedsConfigurationRead: p.needsConfigurationRead,
		ReadInFlight:           p.readInFlight,
		Queued:                 len(p.outbound),
		PendingWrites:          p.pendingWrites,
	}
	if p.rssi != nil {
		rssi := *p.rssi
		snap.RSSI = &rssi
	}
	return snap
}

// PeerSnapshot is a copy of a peer's state taken on the engine goroutine
type PeerSnapshot struct {
	ID                     PeerID
	State                  State
	RSSI                   *int
	Services               []RemoteService
	NeedsConfigurationRead bool
	ReadInFlight           bool
	Queued                 int
	PendingWrites          int
}

// InRange reports whether the peer had a live signal at snapshot time
func (s PeerSnapshot) InRange() bool {
	return s.RSSI != nil
}
