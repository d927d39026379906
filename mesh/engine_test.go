package mesh

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/bluemesh/pdu"
)

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Configuration.Identifier = uuid.Nil

	_, err := New(cfg, newFakeTransport(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = New(DefaultConfig(), nil, nil)
	assert.Error(t, err)
}

func TestStartAdvertisesConfiguration(t *testing.T) {
	h := newHarness(t)

	starts := h.transport.callsFor("start")
	require.Len(t, starts, 1)
	c, err := pdu.UnmarshalConfiguration(starts[0].data)
	require.NoError(t, err)
	assert.Equal(t, h.engine.Configuration().Identifier, c.Identifier)
	assert.True(t, h.engine.IsStarted())

	// Start is idempotent
	h.engine.Start()
	h.engine.Sync()
	assert.Equal(t, 1, h.transport.count("start"))
}

func TestStopResetsEverything(t *testing.T) {
	h := newHarness(t)
	x := uuid.New()
	h.identify(t, "a", -40, x)
	msg := pdu.NewMessage(nil, []byte("hi"))
	require.NoError(t, h.engine.Broadcast(msg))
	h.engine.Sync()
	require.True(t, h.engine.HasSeen(msg.Identifier))

	h.engine.Stop()
	h.engine.Stop()
	h.engine.Sync()

	assert.False(t, h.engine.IsStarted())
	assert.Equal(t, 1, h.transport.count("stop"))
	assert.Contains(t, h.transport.peersFor("cancel"), PeerID("a"))
	assert.Empty(t, h.engine.Peers())
	assert.Equal(t, 0, h.engine.InRangeCount())
	assert.False(t, h.engine.HasSeen(msg.Identifier))
	assert.Equal(t, []int{1, 0}, h.delegate.inRangeCounts())

	// Events for the old session are ignored while stopped
	h.engine.OnPeerDiscovered("a", -40)
	h.engine.Sync()
	assert.Empty(t, h.engine.Peers())

	// Restart rebuilds from scratch
	h.engine.Start()
	h.engine.Sync()
	assert.Equal(t, 2, h.transport.count("start"))
	h.identify(t, "a", -40, x)
	assert.Equal(t, 1, h.engine.InRangeCount())
}

func TestDiscoveryReadPutsServiceInRange(t *testing.T) {
	h := newHarness(t)
	x := uuid.New()

	h.engine.OnPeerDiscovered("a", -42)
	h.engine.Sync()
	assert.Equal(t, []PeerID{"a"}, h.transport.peersFor("connect"))

	h.engine.OnConnected("a")
	h.engine.Sync()
	assert.Equal(t, []PeerID{"a"}, h.transport.peersFor("discoverService"))

	h.engine.OnServiceReady("a")
	h.engine.Sync()
	assert.Equal(t, []PeerID{"a"}, h.transport.peersFor("read"))
	snap, _ := h.engine.PeerSnapshot("a")
	assert.Equal(t, StateTransferring, snap.State)
	assert.True(t, snap.ReadInFlight)

	h.engine.OnConfigurationRead("a", [][]byte{configurationPDU(t, pdu.Configuration{Identifier: x, UserInfo: []byte("ui")})})
	h.engine.Sync()

	services := h.engine.ServicesInRange()
	require.Len(t, services, 1)
	assert.Equal(t, x, services[0].Identifier)
	assert.Equal(t, -42, services[0].RSSI)
	assert.Equal(t, PeerID("a"), services[0].Peer)
	assert.Equal(t, []byte("ui"), services[0].UserInfo)

	discovered := h.delegate.discoveredServices()
	require.Len(t, discovered, 1)
	assert.Equal(t, x, discovered[0].Identifier)
	assert.Equal(t, []int{1}, h.delegate.inRangeCounts())

	snap, _ = h.engine.PeerSnapshot("a")
	assert.False(t, snap.NeedsConfigurationRead)
	assert.False(t, snap.ReadInFlight)

	// A duplicate read result is ignored and one read per cycle is issued
	h.engine.OnConfigurationRead("a", nil)
	h.engine.Sync()
	assert.Equal(t, 1, h.engine.InRangeCount())
	assert.Equal(t, 1, h.transport.count("read"))
}

func TestRSSIRefreshPropagatesToServices(t *testing.T) {
	h := newHarness(t)
	x, y := uuid.New(), uuid.New()
	h.identify(t, "a", -60, x, y)

	h.engine.OnPeerDiscovered("a", -35)
	h.engine.Sync()

	for _, s := range h.engine.ServicesInRange() {
		assert.Equal(t, -35, s.RSSI)
	}
	assert.Len(t, h.delegate.discoveredServices(), 2)
}

func TestEmptyConfigurationReadLeavesPeerUnidentified(t *testing.T) {
	h := newHarness(t)
	h.identifyIdle(t, "a", -50)

	snap, _ := h.engine.PeerSnapshot("a")
	assert.False(t, snap.NeedsConfigurationRead)
	assert.Empty(t, snap.Services)
	assert.Equal(t, 0, h.engine.InRangeCount())

	require.NoError(t, h.engine.Broadcast(pdu.NewMessage(nil, nil)))
	h.engine.Sync()

	snap, _ = h.engine.PeerSnapshot("a")
	assert.Equal(t, 0, snap.Queued, "unidentified peers are not flooded")
	assert.Equal(t, 1, h.transport.count("connect"))
}

func TestMalformedConfigurationIsRetried(t *testing.T) {
	h := newHarness(t)

	h.engine.OnPeerDiscovered("a", -50)
	h.engine.Sync()
	h.deliverTransfer("a")
	h.engine.OnConfigurationRead("a", [][]byte{[]byte("garbage")})
	h.engine.Sync()

	assert.Equal(t, 0, h.engine.InRangeCount())
	assert.Contains(t, h.transport.peersFor("cancel"), PeerID("a"))

	snap, _ := h.engine.PeerSnapshot("a")
	assert.True(t, snap.NeedsConfigurationRead)
	assert.False(t, snap.ReadInFlight)
	// Held back until the scanner reports the peer again
	assert.Equal(t, StateDiscovered, snap.State)
	assert.Equal(t, 1, h.transport.count("connect"))

	h.engine.OnPeerDiscovered("a", -50)
	h.engine.Sync()

	snap, _ = h.engine.PeerSnapshot("a")
	assert.Equal(t, StateConnecting, snap.State)
	assert.Equal(t, 2, h.transport.count("connect"))
}

func TestMalformedConfigurationDoesNotBlockOtherPeers(t *testing.T) {
	h := newHarness(t)

	h.engine.OnPeerDiscovered("a", -50)
	h.engine.Sync()
	h.deliverTransfer("a")
	h.engine.OnConfigurationRead("a", [][]byte{[]byte("garbage")})
	h.engine.Sync()

	h.engine.OnPeerDiscovered("b", -60)
	h.engine.Sync()

	snapA, _ := h.engine.PeerSnapshot("a")
	snapB, _ := h.engine.PeerSnapshot("b")
	assert.Equal(t, StateDiscovered, snapA.State)
	assert.Equal(t, StateConnecting, snapB.State)
	assert.Equal(t, []PeerID{"a", "b"}, h.transport.peersFor("connect"))
}

func TestReadFailureCancelsConnection(t *testing.T) {
	h := newHarness(t)

	h.engine.OnPeerDiscovered("a", -50)
	h.engine.Sync()
	h.deliverTransfer("a")
	h.engine.OnReadFailed("a", assert.AnError)
	h.engine.Sync()

	assert.Equal(t, 1, h.transport.count("cancel"))
	snap, _ := h.engine.PeerSnapshot("a")
	assert.True(t, snap.NeedsConfigurationRead)
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.engine.Close()
	h.engine.Close()

	assert.Equal(t, 1, h.transport.count("stop"))
	assert.ErrorIs(t, h.engine.Broadcast(pdu.NewMessage(nil, nil)), ErrClosed)
	assert.False(t, h.engine.IsStarted())
	h.engine.Sync()
}
