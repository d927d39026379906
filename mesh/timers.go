package mesh

import (
	"time"

	"github.com/benbjohnson/clock"
)

type timerCategory int

const (
	timerDiscovery timerCategory = iota
	timerConnecting
	timerTransfer
)

func (c timerCategory) String() string {
	switch c {
	case timerDiscovery:
		return "discovery"
	case timerConnecting:
		return "connecting"
	case timerTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

type timerKey struct {
	peer     PeerID
	category timerCategory
}

type scheduledTimer struct {
	timer *clock.Timer
	token uint64
}

// timerSet keeps at most one timer per (peer, category). Firings are posted
// back onto the engine queue and dropped if the timer was stopped or
// rescheduled in the meantime.
type timerSet struct {
	clock  clock.Clock
	post   func(func()) bool
	seq    uint64
	timers map[timerKey]scheduledTimer
}

func newTimerSet(clk clock.Clock, post func(func()) bool) *timerSet {
	return &timerSet{
		clock:  clk,
		post:   post,
		timers: make(map[timerKey]scheduledTimer),
	}
}

func (ts *timerSet) schedule(peer PeerID, category timerCategory, d time.Duration, fire func()) {
	ts.stop(peer, category)

	ts.seq++
	token := ts.seq
	key := timerKey{peer: peer, category: category}

	t := ts.clock.AfterFunc(d, func() {
		ts.post(func() {
			current, ok := ts.timers[key]
			if !ok || current.token != token {
				return
			}
			delete(ts.timers, key)
			fire()
		})
	})
	ts.timers[key] = scheduledTimer{timer: t, token: token}
}

func (ts *timerSet) stop(peer PeerID, category timerCategory) {
	key := timerKey{peer: peer, category: category}
	if current, ok := ts.timers[key]; ok {
		current.timer.Stop()
		delete(ts.timers, key)
	}
}

func (ts *timerSet) stopPeer(peer PeerID) {
	for key, current := range ts.timers {
		if key.peer == peer {
			current.timer.Stop()
			delete(ts.timers, key)
		}
	}
}

func (ts *timerSet) stopCategory(category timerCategory) {
	for key, current := range ts.timers {
		if key.category == category {
			current.timer.Stop()
			delete(ts.timers, key)
		}
	}
}

func (ts *timerSet) stopAll() {
	for key, current := range ts.timers {
		current.timer.Stop()
		delete(ts.timers, key)
	}
}

func (ts *timerSet) pending(peer PeerID, category timerCategory) bool {
	_, ok := ts.timers[timerKey{peer: peer, category: category}]
	return ok
}
