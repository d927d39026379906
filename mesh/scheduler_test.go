package mesh

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/bluemesh/pdu"
)

func TestConcurrencyCap(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxConnections = 2 })

	for i := 1; i <= 5; i++ {
		h.engine.OnPeerDiscovered(PeerID(fmt.Sprintf("p%d", i)), -50)
	}
	h.engine.Sync()

	assert.Equal(t, []PeerID{"p1", "p2"}, h.transport.peersFor("connect"))
	assert.Equal(t, 2, h.engine.ActiveConnections())

	// A failed peer goes behind the peers still waiting
	h.engine.OnConnectFailed("p1", assert.AnError)
	h.engine.Sync()
	assert.Equal(t, []PeerID{"p1", "p2", "p3"}, h.transport.peersFor("connect"))
	assert.LessOrEqual(t, h.engine.ActiveConnections(), 2)

	h.engine.OnConnected("p2")
	h.engine.OnServiceReady("p2")
	h.engine.OnConnectFailed("p3", assert.AnError)
	h.engine.Sync()
	assert.Equal(t, []PeerID{"p1", "p2", "p3", "p4"}, h.transport.peersFor("connect"))
	assert.Equal(t, 2, h.engine.ActiveConnections())

	h.engine.OnConnectFailed("p4", assert.AnError)
	h.engine.Sync()
	h.engine.OnConnectFailed("p5", assert.AnError)
	h.engine.Sync()
	assert.Equal(t, []PeerID{"p1", "p2", "p3", "p4", "p5", "p1"}, h.transport.peersFor("connect"))

	for _, snap := range h.engine.Peers() {
		if snap.State == StateConnected || snap.State == StateTransferring {
			assert.Equal(t, PeerID("p2"), snap.ID)
		}
	}
	assert.Equal(t, 2, h.engine.ActiveConnections())
}

func TestConnectingTimeoutFreesSlot(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.MaxConnections = 1
		c.DiscoveryTimeout = time.Hour
	})

	h.engine.OnPeerDiscovered("a", -50)
	h.engine.OnPeerDiscovered("b", -50)
	h.engine.Sync()
	require.Equal(t, []PeerID{"a"}, h.transport.peersFor("connect"))

	h.clock.Add(DefaultConnectingTimeout)

	eventually(t, func() bool {
		return len(h.transport.peersFor("connect")) == 2
	}, "next waiting peer should be attempted")
	assert.Equal(t, []PeerID{"a", "b"}, h.transport.peersFor("connect"))
	assert.Equal(t, []PeerID{"a"}, h.transport.peersFor("cancel"))

	snap, ok := h.engine.PeerSnapshot("a")
	require.True(t, ok)
	assert.Equal(t, StateDiscovered, snap.State)

	// A late connect for the abandoned attempt is torn down
	h.engine.OnConnected("a")
	h.engine.Sync()
	assert.Equal(t, []PeerID{"a", "a"}, h.transport.peersFor("cancel"))
	snap, _ = h.engine.PeerSnapshot("a")
	assert.Equal(t, StateDiscovered, snap.State)
}

func TestConnectingTimeoutTimerIsCleared(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.DiscoveryTimeout = time.Hour
		c.TransferTimeout = time.Hour
	})

	h.engine.OnPeerDiscovered("a", -50)
	h.engine.Sync()
	h.engine.OnConnected("a")
	h.engine.Sync()

	var pending bool
	h.engine.call(func() { pending = h.engine.timers.pending("a", timerConnecting) })
	assert.False(t, pending, "connecting timer must stop once connected")

	h.clock.Add(DefaultConnectingTimeout)
	h.engine.Sync()
	snap, _ := h.engine.PeerSnapshot("a")
	assert.Equal(t, StateConnected, snap.State)
}

func TestDiscoveryTimeoutClearsRangeAndQueue(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.DiscoveryTimeout = time.Second
		c.ConnectingTimeout = time.Hour
		c.TransferTimeout = time.Hour
	})
	x := uuid.New()
	h.identify(t, "a", -50, x)
	require.Equal(t, 1, h.engine.InRangeCount())

	require.NoError(t, h.engine.Broadcast(pdu.NewMessage(nil, []byte("stuck"))))
	h.engine.Sync()
	snap, _ := h.engine.PeerSnapshot("a")
	require.Equal(t, 1, snap.Queued)

	h.clock.Add(time.Second)

	eventually(t, func() bool { return h.engine.InRangeCount() == 0 }, "service should leave range")
	snap, ok := h.engine.PeerSnapshot("a")
	require.True(t, ok, "an active peer is kept until its connection ends")
	assert.False(t, snap.InRange())
	assert.Equal(t, 0, snap.Queued)
	assert.Equal(t, StateTransferring, snap.State)
	h.engine.Sync()
	assert.Equal(t, []int{1, 0}, h.delegate.inRangeCounts())

	// Once the connection ends the out-of-range peer is evicted
	h.engine.OnDisconnected("a", nil)
	h.engine.Sync()
	_, ok = h.engine.PeerSnapshot("a")
	assert.False(t, ok)
}

func TestDiscoveryTimeoutEvictsIdlePeer(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.DiscoveryTimeout = time.Second })
	h.identifyIdle(t, "a", -50, uuid.New())

	h.clock.Add(time.Second)

	eventually(t, func() bool {
		_, ok := h.engine.PeerSnapshot("a")
		return !ok
	}, "idle out-of-range peer should be evicted")
	assert.Equal(t, 0, h.engine.InRangeCount())
}

func TestDiscoveryRefreshKeepsPeer(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.DiscoveryTimeout = 10 * time.Second })
	h.identifyIdle(t, "a", -50, uuid.New())

	h.clock.Add(6 * time.Second)
	h.engine.OnPeerDiscovered("a", -48)
	h.engine.Sync()
	h.clock.Add(6 * time.Second)
	h.engine.Sync()

	assert.Equal(t, 1, h.engine.InRangeCount())

	h.clock.Add(4 * time.Second)
	eventually(t, func() bool { return h.engine.InRangeCount() == 0 }, "rescheduled timer should fire")
}

func TestRediscoveryStartsNewCycle(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.DiscoveryTimeout = time.Second
		c.TransferTimeout = time.Hour
	})
	x := uuid.New()
	h.identify(t, "a", -50, x)

	h.clock.Add(time.Second)
	eventually(t, func() bool { return h.engine.InRangeCount() == 0 }, "service should leave range")

	h.engine.OnPeerDiscovered("a", -50)
	h.engine.Sync()

	snap, _ := h.engine.PeerSnapshot("a")
	assert.True(t, snap.NeedsConfigurationRead)
	assert.Equal(t, 2, h.transport.count("read"), "transferring peer is read again")

	h.engine.OnConfigurationRead("a", [][]byte{configurationPDU(t, pdu.Configuration{Identifier: x})})
	h.engine.Sync()
	assert.Equal(t, 1, h.engine.InRangeCount())
	assert.Len(t, h.delegate.discoveredServices(), 2)
}

func TestTransferTimeoutTearsDownIdleConnection(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.DiscoveryTimeout = time.Hour })
	h.identify(t, "a", -50, uuid.New())

	h.clock.Add(DefaultTransferTimeout)

	eventually(t, func() bool { return h.transport.count("cancel") == 1 }, "connection should be torn down")
	snap, _ := h.engine.PeerSnapshot("a")
	assert.Equal(t, StateDiscovered, snap.State)
	assert.Equal(t, 1, h.transport.count("connect"))
}

func TestTransferTimeoutRestartsCycleForNewWork(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.DiscoveryTimeout = time.Hour })
	h.identify(t, "a", -50, uuid.New())

	msg := pdu.NewMessage(nil, []byte("late"))
	require.NoError(t, h.engine.Broadcast(msg))
	h.engine.Sync()
	require.Equal(t, 0, h.transport.count("write"))

	h.clock.Add(DefaultTransferTimeout)

	eventually(t, func() bool { return h.transport.count("discoverService") == 2 }, "service should be rediscovered")
	snap, _ := h.engine.PeerSnapshot("a")
	assert.Equal(t, StateConnected, snap.State)
	assert.Equal(t, 0, h.transport.count("cancel"))

	h.engine.OnServiceReady("a")
	h.engine.Sync()
	writes := h.transport.writtenMessages(t, "a")
	require.Len(t, writes[0], 1)
	assert.Equal(t, msg.Identifier, writes[0][0].Identifier)
}

func TestBackgroundSuspendsDiscoveryTimeout(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.DiscoveryTimeout = time.Second })
	h.identifyIdle(t, "a", -50, uuid.New())

	h.engine.EnterBackground()
	h.engine.Sync()
	h.clock.Add(5 * time.Second)
	h.engine.Sync()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.engine.InRangeCount())

	h.engine.EnterForeground()
	h.engine.Sync()
	h.clock.Add(time.Second)
	eventually(t, func() bool { return h.engine.InRangeCount() == 0 }, "foreground re-arms discovery timeout")
}
