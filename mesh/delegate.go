package mesh

import "github.com/user/bluemesh/pdu"

// Delegate observes the engine. Callbacks run in order on a dedicated
// goroutine, never the engine's, so they may call back into the engine.
// They must not call Sync.
type Delegate interface {
	// DidDiscover is called when a mesh identity comes into range
	DidDiscover(service Service)

	// DidReceive is called once per new message identifier
	DidReceive(msg *pdu.Message, from PeerID)

	// DidUpdateInRangeCount is called whenever the number of identities in
	// range changes
	DidUpdateInRangeCount(count int)
}

// DelegateFuncs adapts plain functions to Delegate. Nil fields are skipped.
type DelegateFuncs struct {
	OnDiscover     func(service Service)
	OnReceive      func(msg *pdu.Message, from PeerID)
	OnInRangeCount func(count int)
}

func (d DelegateFuncs) DidDiscover(service Service) {
	if d.OnDiscover != nil {
		d.OnDiscover(service)
	}
}

func (d DelegateFuncs) DidReceive(msg *pdu.Message, from PeerID) {
	if d.OnReceive != nil {
		d.OnReceive(msg, from)
	}
}

func (d DelegateFuncs) DidUpdateInRangeCount(count int) {
	if d.OnInRangeCount != nil {
		d.OnInRangeCount(count)
	}
}

func (e *Engine) emitDiscover(service Service) {
	e.events.push(func() { e.delegate.DidDiscover(service) })
}

func (e *Engine) emitReceive(msg *pdu.Message, from PeerID) {
	e.events.push(func() { e.delegate.DidReceive(msg, from) })
}

// emitInRangeCount reports the in-range count if it changed since the last
// report
func (e *Engine) emitInRangeCount() {
	count := e.registry.inRangeCount()
	if count == e.reportedInRange {
		return
	}
	e.reportedInRange = count
	e.events.push(func() { e.delegate.DidUpdateInRangeCount(count) })
}
