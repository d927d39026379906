package mesh

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/bluemesh/pdu"
)

func inRangePeer(r *registry, id PeerID, services ...uuid.UUID) *peer {
	p, _ := r.discover(id)
	rssi := -50
	p.rssi = &rssi
	for i, s := range services {
		p.services = append(p.services, RemoteService{Index: i, Configuration: pdu.Configuration{Identifier: s}})
	}
	sortServices(p.services)
	r.setInRange(p)
	return p
}

func TestRegistryEligibleOrder(t *testing.T) {
	r := newRegistry()
	a := inRangePeer(r, "a")
	b := inRangePeer(r, "b")
	c := inRangePeer(r, "c")

	ids := func(peers []*peer) []PeerID {
		var out []PeerID
		for _, p := range peers {
			out = append(out, p.id)
		}
		return out
	}
	assert.Equal(t, []PeerID{"a", "b", "c"}, ids(r.eligible()))

	// a had an attempt: it moves behind the peers still waiting
	a.turn = r.takeTurn()
	assert.Equal(t, []PeerID{"b", "c", "a"}, ids(r.eligible()))

	b.state = StateConnecting
	c.needsConfigurationRead = false
	assert.Equal(t, []PeerID{"a"}, ids(r.eligible()))
	assert.Equal(t, 1, r.activeCount())

	r.enqueue(c, outboundItem{msg: pdu.NewMessage(nil, nil)})
	assert.Equal(t, []PeerID{"c", "a"}, ids(r.eligible()))
}

func TestRegistryFloodTargets(t *testing.T) {
	r := newRegistry()
	x, y := uuid.New(), uuid.New()
	inRangePeer(r, "identified", x, y)
	inRangePeer(r, "unidentified")
	gone := inRangePeer(r, "gone", uuid.New())
	gone.rssi = nil
	r.dropInRange(gone.id)

	targets := r.floodTargets()
	require.Len(t, targets, 1)
	assert.Equal(t, PeerID("identified"), targets[0].id)
	assert.Equal(t, 2, r.inRangeCount())

	host, ok := r.hostOf(y)
	require.True(t, ok)
	assert.Equal(t, PeerID("identified"), host.id)

	_, ok = r.hostOf(gone.services[0].Identifier())
	assert.False(t, ok)
	hosting, ok := r.hostingPeer(gone.services[0].Identifier())
	require.True(t, ok)
	assert.Equal(t, PeerID("gone"), hosting.id)
}

func TestRegistryEvict(t *testing.T) {
	r := newRegistry()
	x := uuid.New()
	inRangePeer(r, "a", x)
	inRangePeer(r, "b")

	r.evict("a")

	_, ok := r.get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, r.inRangeCount())
	require.Len(t, r.all(), 1)
	assert.Equal(t, PeerID("b"), r.all()[0].id)
}

func TestSortServicesByIdentifier(t *testing.T) {
	low := uuid.MustParse("00000000-0000-4000-8000-000000000001")
	high := uuid.MustParse("ffffffff-0000-4000-8000-000000000001")
	services := []RemoteService{
		{Index: 0, Configuration: pdu.Configuration{Identifier: high}},
		{Index: 1, Configuration: pdu.Configuration{Identifier: low}},
	}
	sortServices(services)

	assert.Equal(t, low, services[0].Identifier())
	assert.Equal(t, 1, services[0].Index)
}
