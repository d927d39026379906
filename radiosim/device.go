package radiosim

import (
	"sync"
)

// Device is one physical radio endpoint. All radios of a device share its
// name, which is the peer handle other devices see.
type Device struct {
	name string
	air  *Air
	log  *OperationLog

	mu     sync.Mutex
	radios []*Radio
}

// Name returns the device name
func (d *Device) Name() string {
	return d.name
}

// OperationLog returns the device's radio operation log
func (d *Device) OperationLog() *OperationLog {
	return d.log
}

// AddRadio creates a radio hosting one more local service on the device
func (d *Device) AddRadio() *Radio {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := &Radio{
		device:     d,
		index:      len(d.radios),
		conns:      make(map[string]uint64),
		connecting: make(map[string]uint64),
	}
	d.radios = append(d.radios, r)
	return r
}

// Radios returns the radios of the device in creation order
func (d *Device) Radios() []*Radio {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Radio(nil), d.radios...)
}

// advertisingRadios returns radios currently serving a configuration, in
// creation order. Their positions are the service indexes peers write to.
func (d *Device) advertisingRadios() []*Radio {
	var out []*Radio
	for _, r := range d.Radios() {
		if _, ok := r.advertised(); ok {
			out = append(out, r)
		}
	}
	return out
}

// configurations returns the configuration value of every advertising radio
func (d *Device) configurations() [][]byte {
	var values [][]byte
	for _, r := range d.Radios() {
		if value, ok := r.advertised(); ok {
			values = append(values, value)
		}
	}
	return values
}

func (d *Device) isAdvertising() bool {
	return len(d.advertisingRadios()) > 0
}

func (d *Device) dropConnections(peer string) {
	for _, r := range d.Radios() {
		r.drop(peer)
	}
}
