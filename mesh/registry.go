package mesh

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// Service is a mesh identity currently in range
type Service struct {
	Identifier uuid.UUID
	UserInfo   []byte
	Peer       PeerID
	RSSI       int
}

// registry owns every peer record plus the set of identities in range. It
// is only touched from the engine goroutine.
type registry struct {
	peers    map[PeerID]*peer
	order    []PeerID
	nextTurn uint64

	// inRange maps each identity in range to the peer hosting it
	inRange map[uuid.UUID]PeerID
}

func newRegistry() *registry {
	return &registry{
		peers:   make(map[PeerID]*peer),
		inRange: make(map[uuid.UUID]PeerID),
	}
}

// discover returns the peer for id, creating it in StateDiscovered when new
func (r *registry) discover(id PeerID) (*peer, bool) {
	if p, ok := r.peers[id]; ok {
		return p, false
	}
	p := &peer{
		id:                     id,
		state:                  StateDiscovered,
		needsConfigurationRead: true,
		turn:                   r.takeTurn(),
	}
	r.peers[id] = p
	r.order = append(r.order, id)
	return p, true
}

func (r *registry) get(id PeerID) (*peer, bool) {
	p, ok := r.peers[id]
	return p, ok
}

func (r *registry) evict(id PeerID) {
	if _, ok := r.peers[id]; !ok {
		return
	}
	r.dropInRange(id)
	delete(r.peers, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// all returns peers in discovery order
func (r *registry) all() []*peer {
	peers := make([]*peer, 0, len(r.order))
	for _, id := range r.order {
		peers = append(peers, r.peers[id])
	}
	return peers
}

func (r *registry) takeTurn() uint64 {
	r.nextTurn++
	return r.nextTurn
}

func (r *registry) activeCount() int {
	n := 0
	for _, p := range r.peers {
		if p.state.active() {
			n++
		}
	}
	return n
}

// eligible returns idle peers with work, ordered by scheduling turn
func (r *registry) eligible() []*peer {
	var peers []*peer
	for _, p := range r.all() {
		if p.state.active() || !p.hasWork() {
			continue
		}
		peers = append(peers, p)
	}
	sort.SliceStable(peers, func(i, j int) bool {
		return peers[i].turn < peers[j].turn
	})
	return peers
}

// setInRange records every service of p as in range and returns the
// identities that were not in range before
func (r *registry) setInRange(p *peer) []uuid.UUID {
	var added []uuid.UUID
	for _, s := range p.services {
		id := s.Identifier()
		if _, ok := r.inRange[id]; !ok {
			added = append(added, id)
		}
		r.inRange[id] = p.id
	}
	return added
}

// dropInRange removes the identities hosted by the peer and returns how many
// were removed
func (r *registry) dropInRange(id PeerID) int {
	removed := 0
	for identity, pid := range r.inRange {
		if pid == id {
			delete(r.inRange, identity)
			removed++
		}
	}
	return removed
}

func (r *registry) inRangeCount() int {
	return len(r.inRange)
}

// hostOf returns the peer hosting an in-range identity
func (r *registry) hostOf(identity uuid.UUID) (*peer, bool) {
	pid, ok := r.inRange[identity]
	if !ok {
		return nil, false
	}
	p, ok := r.peers[pid]
	if !ok || !p.inRange() {
		return nil, false
	}
	return p, true
}

// hostingPeer finds the peer whose services include identity, in range or not
func (r *registry) hostingPeer(identity uuid.UUID) (*peer, bool) {
	if p, ok := r.hostOf(identity); ok {
		return p, true
	}
	for _, p := range r.all() {
		if _, ok := p.service(identity); ok {
			return p, true
		}
	}
	return nil, false
}

// floodTargets returns in-range identified peers in discovery order
func (r *registry) floodTargets() []*peer {
	var peers []*peer
	for _, p := range r.all() {
		if !p.inRange() || !p.identified() {
			continue
		}
		for _, s := range p.services {
			if r.inRange[s.Identifier()] == p.id {
				peers = append(peers, p)
				break
			}
		}
	}
	return peers
}

func (r *registry) servicesInRange() []Service {
	services := make([]Service, 0, len(r.inRange))
	for identity, pid := range r.inRange {
		p, ok := r.peers[pid]
		if !ok || p.rssi == nil {
			continue
		}
		s, _ := p.service(identity)
		services = append(services, Service{
			Identifier: identity,
			UserInfo:   append([]byte(nil), s.Configuration.UserInfo...),
			Peer:       pid,
			RSSI:       *p.rssi,
		})
	}
	sort.Slice(services, func(i, j int) bool {
		return bytes.Compare(services[i].Identifier[:], services[j].Identifier[:]) < 0
	})
	return services
}

func (r *registry) enqueue(p *peer, item outboundItem) {
	p.outbound = append(p.outbound, item)
}

func (r *registry) drain(p *peer) []outboundItem {
	items := p.outbound
	p.outbound = nil
	return items
}

func (r *registry) clear() {
	r.peers = make(map[PeerID]*peer)
	r.order = nil
	r.inRange = make(map[uuid.UUID]PeerID)
}
