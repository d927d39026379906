package radiosim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/user/bluemesh/att"
	"github.com/user/bluemesh/logger"
	"github.com/user/bluemesh/mesh"
)

var (
	errLinkLost     = errors.New("link lost")
	errOutOfRange   = errors.New("peer out of range")
	errNotConnected = errors.New("not connected")
	errPacketLost   = errors.New("packet lost")
	errNoService    = errors.New("mesh service not found")
)

// EventSink receives radio outcomes. *mesh.Engine implements it.
type EventSink interface {
	OnPeerDiscovered(id mesh.PeerID, rssi int)
	OnConnected(id mesh.PeerID)
	OnConnectFailed(id mesh.PeerID, err error)
	OnDisconnected(id mesh.PeerID, err error)
	OnServiceReady(id mesh.PeerID)
	OnServiceDiscoveryFailed(id mesh.PeerID, err error)
	OnConfigurationRead(id mesh.PeerID, values [][]byte)
	OnReadFailed(id mesh.PeerID, err error)
	OnWriteComplete(id mesh.PeerID, service int)
	OnWriteFailed(id mesh.PeerID, service int, err error)
	OnIncomingWriteRequests(batch []mesh.WriteRequest)
}

// Radio is one advertised mesh service plus a central role, bound to a
// single engine. It implements mesh.Transport; delays, failures and RSSI
// come from the air's Simulator.
type Radio struct {
	device *Device
	index  int

	mu         sync.Mutex
	sink       EventSink
	started    bool
	value      []byte
	generation uint64
	scan       *clock.Timer
	conns      map[string]uint64 // peer -> connection generation
	connecting map[string]uint64
	nextConn   uint64
}

var _ mesh.Transport = (*Radio)(nil)

// Attach sets the receiver of radio events. It must be called before the
// engine is started.
func (r *Radio) Attach(sink EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// Device returns the device hosting the radio
func (r *Radio) Device() *Device {
	return r.device
}

func (r *Radio) prefix() string {
	return fmt.Sprintf("%s radio%d", r.device.name, r.index)
}

func (r *Radio) air() *Air {
	return r.device.air
}

func (r *Radio) logOp(direction, peer, op string, service int, result string, data []byte) {
	r.device.log.Log(OperationEntry{
		Direction: direction,
		Radio:     r.index,
		Peer:      peer,
		Operation: op,
		Service:   service,
		Result:    result,
	}, data)
}

func (r *Radio) advertised() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.value == nil {
		return nil, false
	}
	return r.value, true
}

func (r *Radio) currentSink() EventSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sink
}

// StartAdvertisingAndScanning implements mesh.Transport
func (r *Radio) StartAdvertisingAndScanning(configuration []byte) {
	r.mu.Lock()
	r.started = true
	r.value = append([]byte(nil), configuration...)
	r.generation++
	gen := r.generation
	r.mu.Unlock()

	logger.Debug(r.prefix(), "advertising %d byte configuration", len(configuration))
	r.logOp("tx", "", "advertise", 0, "", configuration)
	r.scheduleScan(gen)
}

func (r *Radio) scheduleScan(gen uint64) {
	interval := r.air().sim.AdvertisingInterval()
	t := r.air().clock.AfterFunc(interval, func() { r.scanOnce(gen) })

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen {
		t.Stop()
		return
	}
	r.scan = t
}

func (r *Radio) scanOnce(gen uint64) {
	r.mu.Lock()
	if !r.started || r.generation != gen {
		r.mu.Unlock()
		return
	}
	sink := r.sink
	r.mu.Unlock()

	sim := r.air().sim
	for _, d := range r.air().neighbors(r.device.name) {
		if !d.isAdvertising() || !sim.ShouldPacketSucceed() {
			continue
		}
		distance, ok := r.air().linked(r.device.name, d.name)
		if !ok {
			continue
		}
		if sink != nil {
			sink.OnPeerDiscovered(mesh.PeerID(d.name), sim.GenerateRSSI(distance))
		}
	}
	r.scheduleScan(gen)
}

// SetConfigurationValue implements mesh.Transport
func (r *Radio) SetConfigurationValue(configuration []byte) {
	r.mu.Lock()
	r.value = append([]byte(nil), configuration...)
	r.mu.Unlock()

	logger.Debug(r.prefix(), "configuration value updated (%d bytes)", len(configuration))
	r.logOp("tx", "", "set_configuration", 0, "", configuration)
}

// Stop implements mesh.Transport. Centrals connected to this device lose
// their link once it has nothing left to advertise.
func (r *Radio) Stop() {
	r.mu.Lock()
	wasStarted := r.started
	r.started = false
	r.value = nil
	r.generation++
	if r.scan != nil {
		r.scan.Stop()
		r.scan = nil
	}
	r.conns = make(map[string]uint64)
	r.connecting = make(map[string]uint64)
	r.mu.Unlock()

	if !wasStarted {
		return
	}
	logger.Debug(r.prefix(), "stopped")
	r.logOp("tx", "", "stop", 0, "", nil)

	if r.device.isAdvertising() {
		return
	}
	for _, d := range r.air().neighbors(r.device.name) {
		d.dropConnections(r.device.name)
	}
}

// Connect implements mesh.Transport
func (r *Radio) Connect(id mesh.PeerID) {
	peer := string(id)

	r.mu.Lock()
	r.nextConn++
	attempt := r.nextConn
	r.connecting[peer] = attempt
	r.mu.Unlock()

	r.logOp("tx", peer, "connect", 0, "", nil)
	sim := r.air().sim
	r.air().after(sim.ConnectionDelay(), func() {
		r.mu.Lock()
		if r.connecting[peer] != attempt {
			r.mu.Unlock()
			return
		}
		delete(r.connecting, peer)
		r.mu.Unlock()

		_, inRange := r.air().linked(r.device.name, peer)
		remote, known := r.air().Device(peer)
		var err error
		switch {
		case !inRange || !known || !remote.isAdvertising():
			err = errOutOfRange
		case !sim.ShouldConnectionSucceed():
			err = errors.New("connection attempt failed")
		}

		r.mu.Lock()
		if err == nil {
			r.conns[peer] = attempt
		}
		sink := r.sink
		r.mu.Unlock()

		if sink == nil {
			return
		}
		if err != nil {
			r.logOp("rx", peer, "connect", 0, err.Error(), nil)
			sink.OnConnectFailed(id, err)
			return
		}
		r.logOp("rx", peer, "connect", 0, "ok", nil)
		sink.OnConnected(id)
	})
}

// CancelConnection implements mesh.Transport. No disconnect event follows a
// cancellation.
func (r *Radio) CancelConnection(id mesh.PeerID) {
	r.mu.Lock()
	delete(r.conns, string(id))
	delete(r.connecting, string(id))
	r.mu.Unlock()
	r.logOp("tx", string(id), "cancel", 0, "", nil)
}

// drop ends a connection to peer from the radio side
func (r *Radio) drop(peer string) {
	r.mu.Lock()
	_, connected := r.conns[peer]
	_, pending := r.connecting[peer]
	delete(r.conns, peer)
	delete(r.connecting, peer)
	sink := r.sink
	r.mu.Unlock()

	if !connected && !pending {
		return
	}
	r.logOp("rx", peer, "disconnect", 0, errLinkLost.Error(), nil)
	if sink != nil {
		sink.OnDisconnected(mesh.PeerID(peer), errLinkLost)
	}
}

// connected reports whether the connection made by attempt is still up
func (r *Radio) connected(peer string, attempt uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[peer] == attempt
}

func (r *Radio) connection(peer string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempt, ok := r.conns[peer]
	return attempt, ok
}

// withConnection runs op after an operation delay if the connection to peer
// is still the same one, and reports errNotConnected through fail otherwise
func (r *Radio) withConnection(peer string, op func(remote *Device, sink EventSink), fail func(sink EventSink, err error)) {
	attempt, ok := r.connection(peer)
	if !ok {
		if sink := r.currentSink(); sink != nil {
			r.air().after(0, func() { fail(sink, errNotConnected) })
		}
		return
	}
	r.air().after(r.air().sim.OperationDelay(), func() {
		if !r.connected(peer, attempt) {
			return
		}
		sink := r.currentSink()
		if sink == nil {
			return
		}
		remote, ok := r.air().Device(peer)
		if !ok {
			fail(sink, errOutOfRange)
			return
		}
		op(remote, sink)
	})
}

// DiscoverServiceAndCharacteristics implements mesh.Transport
func (r *Radio) DiscoverServiceAndCharacteristics(id mesh.PeerID) {
	peer := string(id)
	r.logOp("tx", peer, "discover_service", 0, "", nil)
	r.withConnection(peer, func(remote *Device, sink EventSink) {
		if !remote.isAdvertising() {
			r.logOp("rx", peer, "discover_service", 0, errNoService.Error(), nil)
			sink.OnServiceDiscoveryFailed(id, errNoService)
			return
		}
		r.logOp("rx", peer, "discover_service", 0, "ok", nil)
		sink.OnServiceReady(id)
	}, func(sink EventSink, err error) {
		sink.OnServiceDiscoveryFailed(id, err)
	})
}

// ReadConfiguration implements mesh.Transport
func (r *Radio) ReadConfiguration(id mesh.PeerID) {
	peer := string(id)
	r.logOp("tx", peer, "read", 0, "", nil)
	r.withConnection(peer, func(remote *Device, sink EventSink) {
		if !r.air().sim.ShouldPacketSucceed() {
			r.logOp("rx", peer, "read", 0, errPacketLost.Error(), nil)
			sink.OnReadFailed(id, errPacketLost)
			return
		}
		values := remote.configurations()
		r.logOp("rx", peer, "read", 0, fmt.Sprintf("%d values", len(values)), nil)
		sink.OnConfigurationRead(id, values)
	}, func(sink EventSink, err error) {
		sink.OnReadFailed(id, err)
	})
}

// WriteMessage implements mesh.Transport. The value arrives at the remote
// radio serving the service index as an inbound write request, and the
// remote engine's response completes the write.
func (r *Radio) WriteMessage(id mesh.PeerID, service int, value []byte) {
	peer := string(id)
	data := append([]byte(nil), value...)
	r.logOp("tx", peer, "write", service, "", data)

	r.withConnection(peer, func(remote *Device, sink EventSink) {
		if !r.air().sim.ShouldPacketSucceed() {
			r.logOp("rx", peer, "write", service, errPacketLost.Error(), nil)
			sink.OnWriteFailed(id, service, errPacketLost)
			return
		}
		targets := remote.advertisingRadios()
		if service < 0 || service >= len(targets) {
			err := att.NewError(att.ErrInvalidHandle, "write")
			r.logOp("rx", peer, "write", service, err.Error(), nil)
			sink.OnWriteFailed(id, service, err)
			return
		}

		attempt, _ := r.connection(peer)
		reqID := r.air().expectResponse(func(code att.Code) {
			if !r.connected(peer, attempt) {
				return
			}
			r.logOp("rx", peer, "write", service, code.String(), nil)
			if code == att.Success {
				sink.OnWriteComplete(id, service)
				return
			}
			sink.OnWriteFailed(id, service, att.NewError(code, "write"))
		})
		targets[service].receiveWrite(mesh.WriteRequest{
			ID:       reqID,
			Central:  mesh.PeerID(r.device.name),
			Endpoint: mesh.EndpointMessage,
			Value:    data,
		})
	}, func(sink EventSink, err error) {
		sink.OnWriteFailed(id, service, err)
	})
}

func (r *Radio) receiveWrite(req mesh.WriteRequest) {
	r.logOp("rx", string(req.Central), "write", r.index, "", req.Value)
	sink := r.currentSink()
	if sink == nil {
		r.air().respond(req.ID, att.ErrUnlikelyError)
		return
	}
	sink.OnIncomingWriteRequests([]mesh.WriteRequest{req})
}

// RespondToWrite implements mesh.Transport
func (r *Radio) RespondToWrite(req mesh.WriteRequest, code att.Code) {
	r.logOp("tx", string(req.Central), "respond", r.index, code.String(), nil)
	r.air().respond(req.ID, code)
}

// MaxWriteLength implements mesh.Transport
func (r *Radio) MaxWriteLength() int {
	return r.air().sim.Config().MaxWriteLength
}
