package mesh

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/user/bluemesh/att"
	"github.com/user/bluemesh/pdu"
)

type transportCall struct {
	op      string
	peer    PeerID
	service int
	data    []byte
	code    att.Code
	request WriteRequest
}

// fakeTransport records every request the engine makes
type fakeTransport struct {
	mu       sync.Mutex
	calls    []transportCall
	maxWrite int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{maxWrite: pdu.MaxValueLength}
}

func (f *fakeTransport) record(c transportCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeTransport) StartAdvertisingAndScanning(configuration []byte) {
	f.record(transportCall{op: "start", data: configuration})
}

func (f *fakeTransport) SetConfigurationValue(configuration []byte) {
	f.record(transportCall{op: "setConfiguration", data: configuration})
}

func (f *fakeTransport) Stop() {
	f.record(transportCall{op: "stop"})
}

func (f *fakeTransport) Connect(id PeerID) {
	f.record(transportCall{op: "connect", peer: id})
}

func (f *fakeTransport) CancelConnection(id PeerID) {
	f.record(transportCall{op: "cancel", peer: id})
}

func (f *fakeTransport) DiscoverServiceAndCharacteristics(id PeerID) {
	f.record(transportCall{op: "discoverService", peer: id})
}

func (f *fakeTransport) ReadConfiguration(id PeerID) {
	f.record(transportCall{op: "read", peer: id})
}

func (f *fakeTransport) WriteMessage(id PeerID, service int, data []byte) {
	f.record(transportCall{op: "write", peer: id, service: service, data: data})
}

func (f *fakeTransport) RespondToWrite(req WriteRequest, code att.Code) {
	f.record(transportCall{op: "respond", request: req, code: code})
}

func (f *fakeTransport) MaxWriteLength() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxWrite
}

func (f *fakeTransport) callsFor(op string) []transportCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []transportCall
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTransport) count(op string) int {
	return len(f.callsFor(op))
}

func (f *fakeTransport) peersFor(op string) []PeerID {
	var out []PeerID
	for _, c := range f.callsFor(op) {
		out = append(out, c.peer)
	}
	return out
}

// writtenMessages decodes every message written to id
func (f *fakeTransport) writtenMessages(t *testing.T, id PeerID) map[int][]*pdu.Message {
	t.Helper()
	out := make(map[int][]*pdu.Message)
	for _, c := range f.callsFor("write") {
		if c.peer != id {
			continue
		}
		msg, err := pdu.UnmarshalMessage(c.data)
		require.NoError(t, err)
		out[c.service] = append(out[c.service], msg)
	}
	return out
}

// recorder collects delegate callbacks
type recorder struct {
	mu         sync.Mutex
	discovered []Service
	received   []*pdu.Message
	counts     []int
}

func (r *recorder) DidDiscover(service Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discovered = append(r.discovered, service)
}

func (r *recorder) DidReceive(msg *pdu.Message, from PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, msg)
}

func (r *recorder) DidUpdateInRangeCount(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = append(r.counts, count)
}

func (r *recorder) receivedMessages() []*pdu.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*pdu.Message(nil), r.received...)
}

func (r *recorder) discoveredServices() []Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Service(nil), r.discovered...)
}

func (r *recorder) inRangeCounts() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.counts...)
}

type harness struct {
	engine    *Engine
	transport *fakeTransport
	delegate  *recorder
	clock     *clock.Mock
}

func newHarness(t *testing.T, tweak ...func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	for _, fn := range tweak {
		fn(&cfg)
	}

	h := &harness{
		transport: newFakeTransport(),
		delegate:  &recorder{},
		clock:     clock.NewMock(),
	}
	e, err := New(cfg, h.transport, h.delegate, WithClock(h.clock), WithName("test"))
	require.NoError(t, err)
	t.Cleanup(e.Close)

	h.engine = e
	e.Start()
	e.Sync()
	return h
}

func configurationPDU(t *testing.T, c pdu.Configuration) []byte {
	t.Helper()
	data, err := c.MarshalPDU()
	require.NoError(t, err)
	return data
}

// identify drives id from discovery to Transferring with the given services
func (h *harness) identify(t *testing.T, id PeerID, rssi int, services ...uuid.UUID) {
	t.Helper()
	h.engine.OnPeerDiscovered(id, rssi)
	h.engine.Sync()
	snap, ok := h.engine.PeerSnapshot(id)
	require.True(t, ok)
	require.Equal(t, StateConnecting, snap.State)

	h.engine.OnConnected(id)
	h.engine.OnServiceReady(id)
	h.engine.Sync()

	values := make([][]byte, 0, len(services))
	for _, s := range services {
		values = append(values, configurationPDU(t, pdu.Configuration{Identifier: s}))
	}
	h.engine.OnConfigurationRead(id, values)
	h.engine.Sync()
}

// identifyIdle identifies id and then lets its connection end so it sits
// in StateDiscovered
func (h *harness) identifyIdle(t *testing.T, id PeerID, rssi int, services ...uuid.UUID) {
	t.Helper()
	h.identify(t, id, rssi, services...)
	h.engine.OnDisconnected(id, nil)
	h.engine.Sync()
	snap, ok := h.engine.PeerSnapshot(id)
	require.True(t, ok)
	require.Equal(t, StateDiscovered, snap.State)
}

// deliverTransfer completes the connection cycle the engine started for id
func (h *harness) deliverTransfer(id PeerID) {
	h.engine.OnConnected(id)
	h.engine.OnServiceReady(id)
	h.engine.Sync()
}

func messagePDU(t *testing.T, msg *pdu.Message) []byte {
	t.Helper()
	data, err := msg.MarshalPDU()
	require.NoError(t, err)
	return data
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
