// Package radiosim simulates the short-range radio a mesh engine runs on.
// Devices share an Air; each Device hosts one or more Radios, and every
// Radio is a mesh.Transport driving one engine.
package radiosim

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/user/bluemesh/att"
	"github.com/user/bluemesh/logger"
)

// Air is the shared medium: the set of devices and which pairs can hear
// each other
type Air struct {
	sim    *Simulator
	clock  clock.Clock
	logDir string

	mu      sync.Mutex
	devices map[string]*Device
	order   []string
	links   map[string]map[string]float64 // name -> name -> distance in meters
	nextReq uint64
	pending map[uint64]func(att.Code)
}

// AirOption customizes an Air
type AirOption func(*Air)

// WithClock replaces the wall clock used for delays and scanning
func WithClock(clk clock.Clock) AirOption {
	return func(a *Air) {
		a.clock = clk
	}
}

// WithOperationLog enables a radio_operations.jsonl log per device under dir
func WithOperationLog(dir string) AirOption {
	return func(a *Air) {
		a.logDir = dir
	}
}

// NewAir creates an empty medium
func NewAir(cfg *SimulationConfig, opts ...AirOption) *Air {
	a := &Air{
		sim:     NewSimulator(cfg),
		clock:   clock.New(),
		devices: make(map[string]*Device),
		links:   make(map[string]map[string]float64),
		pending: make(map[uint64]func(att.Code)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Simulator returns the simulator drawing delays and failures
func (a *Air) Simulator() *Simulator {
	return a.sim
}

// AddDevice registers a device, or returns the existing one with that name
func (a *Air) AddDevice(name string) *Device {
	a.mu.Lock()
	defer a.mu.Unlock()

	if d, ok := a.devices[name]; ok {
		return d
	}
	logDir := ""
	if a.logDir != "" {
		logDir = filepath.Join(a.logDir, name)
	}
	d := &Device{
		name: name,
		air:  a,
		log:  NewOperationLog(logDir),
	}
	a.devices[name] = d
	a.order = append(a.order, name)
	return d
}

// Device looks up a device by name
func (a *Air) Device(name string) (*Device, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.devices[name]
	return d, ok
}

// Devices returns every device in creation order
func (a *Air) Devices() []*Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	devices := make([]*Device, 0, len(a.order))
	for _, name := range a.order {
		devices = append(devices, a.devices[name])
	}
	return devices
}

// Link puts two devices in radio range of each other
func (a *Air) Link(x, y string, distance float64) error {
	if x == y {
		return fmt.Errorf("cannot link %s to itself", x)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.devices[x]; !ok {
		return fmt.Errorf("unknown device %s", x)
	}
	if _, ok := a.devices[y]; !ok {
		return fmt.Errorf("unknown device %s", y)
	}
	if a.links[x] == nil {
		a.links[x] = make(map[string]float64)
	}
	if a.links[y] == nil {
		a.links[y] = make(map[string]float64)
	}
	a.links[x][y] = distance
	a.links[y][x] = distance
	return nil
}

// Unlink takes two devices out of range. Open connections between them are
// dropped and reported as disconnections.
func (a *Air) Unlink(x, y string) {
	a.mu.Lock()
	delete(a.links[x], y)
	delete(a.links[y], x)
	dx, okx := a.devices[x]
	dy, oky := a.devices[y]
	a.mu.Unlock()

	if okx {
		dx.dropConnections(y)
	}
	if oky {
		dy.dropConnections(x)
	}
}

func (a *Air) linked(x, y string) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.links[x][y]
	return d, ok
}

// neighbors returns the devices in range of name, sorted by name
func (a *Air) neighbors(name string) []*Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.links[name]))
	for other := range a.links[name] {
		names = append(names, other)
	}
	sort.Strings(names)

	devices := make([]*Device, 0, len(names))
	for _, other := range names {
		devices = append(devices, a.devices[other])
	}
	return devices
}

// after runs fn once d has elapsed on the air's clock
func (a *Air) after(d time.Duration, fn func()) {
	a.clock.AfterFunc(d, fn)
}

// expectResponse registers the completion of an outstanding write
func (a *Air) expectResponse(done func(att.Code)) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextReq++
	a.pending[a.nextReq] = done
	return a.nextReq
}

func (a *Air) respond(id uint64, code att.Code) {
	a.mu.Lock()
	done, ok := a.pending[id]
	delete(a.pending, id)
	a.mu.Unlock()

	if !ok {
		logger.Trace("radiosim", "response for unknown write %d ignored", id)
		return
	}
	a.after(a.sim.OperationDelay(), func() { done(code) })
}

// Close stops every radio
func (a *Air) Close() {
	for _, d := range a.Devices() {
		for _, r := range d.Radios() {
			r.Stop()
		}
	}
}
