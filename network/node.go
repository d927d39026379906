package network

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/bluemesh/logger"
	"github.com/user/bluemesh/mesh"
	"github.com/user/bluemesh/pdu"
	"github.com/user/bluemesh/radiosim"
	"github.com/user/bluemesh/tracestore"
)

// Received is one message delivered to a node
type Received struct {
	Message *pdu.Message
	Public  *pdu.PublicMessage // nil for other payload types
	From    mesh.PeerID
	At      time.Time
}

// Node is one simulated device running an engine. It is the engine's
// delegate.
type Node struct {
	name   string
	user   pdu.User
	radio  *radiosim.Radio
	engine *mesh.Engine
	store  *tracestore.Store

	mu       sync.Mutex
	received []Received
	seen     map[uuid.UUID]bool
}

var _ mesh.Delegate = (*Node)(nil)

// Name returns the node (and device) name
func (n *Node) Name() string {
	return n.name
}

// User returns the user advertised in the node's configuration
func (n *Node) User() pdu.User {
	return n.user
}

// Engine returns the node's mesh engine
func (n *Node) Engine() *mesh.Engine {
	return n.engine
}

// Broadcast floods a public message authored by this node
func (n *Node) Broadcast(text string) (*pdu.Message, error) {
	msg := pdu.NewPublicMessage(text, n.user).Message()
	msg.TimeToLive = n.engine.DefaultTimeToLive()
	if err := n.engine.Broadcast(msg); err != nil {
		return nil, err
	}

	if n.store != nil {
		err := n.store.RecordSend(tracestore.Send{
			MessageID:  msg.Identifier,
			Origin:     n.name,
			Text:       text,
			TimeToLive: msg.TimeToLive,
			SentAt:     time.Now(),
		})
		if err != nil {
			logger.Warn(n.name, "trace send %s: %v", msg.Identifier, err)
		}
	}
	logger.Info(n.name, "broadcast %s: %q", msg.Identifier, text)
	return msg, nil
}

// Received returns a copy of every delivered message, oldest first
func (n *Node) Received() []Received {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Received(nil), n.received...)
}

// HasReceived reports whether message id was delivered to the node
func (n *Node) HasReceived(id uuid.UUID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.seen[id]
}

// DidDiscover implements mesh.Delegate
func (n *Node) DidDiscover(service mesh.Service) {
	name := "?"
	if u, err := pdu.UnmarshalUserInfo(service.UserInfo); err == nil {
		name = u.DisplayName()
	}
	logger.Info(n.name, "discovered %s (%s) via %s", name, service.Identifier, service.Peer)
}

// DidReceive implements mesh.Delegate
func (n *Node) DidReceive(msg *pdu.Message, from mesh.PeerID) {
	r := Received{Message: msg, From: from, At: time.Now()}
	if public, err := pdu.PublicMessageFromMessage(msg); err == nil {
		r.Public = public
		logger.Info(n.name, "received %q from %s via %s (ttl %d)",
			public.Text, public.SenderName(), from, msg.TimeToLive)
	} else {
		logger.Debug(n.name, "received %s via %s", msg.Identifier, from)
	}

	n.mu.Lock()
	if n.seen == nil {
		n.seen = make(map[uuid.UUID]bool)
	}
	n.seen[msg.Identifier] = true
	n.received = append(n.received, r)
	n.mu.Unlock()

	if n.store != nil {
		err := n.store.RecordDelivery(tracestore.Delivery{
			MessageID:  msg.Identifier,
			Node:       n.name,
			From:       string(from),
			TimeToLive: msg.TimeToLive,
			ReceivedAt: r.At,
		})
		if err != nil {
			logger.Warn(n.name, "trace delivery %s: %v", msg.Identifier, err)
		}
	}
}

// DidUpdateInRangeCount implements mesh.Delegate
func (n *Node) DidUpdateInRangeCount(count int) {
	logger.Debug(n.name, "%d services in range", count)
}
