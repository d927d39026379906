// Package metrics provides Prometheus metrics for mesh nodes. Every series
// carries a node label so a simulation hosting many engines in one process
// can tell them apart.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bluemesh"

// ─── Messages ───────────────────────────────────────────────────────────────

// MessagesSent tracks messages handed to the engine locally.
var MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "messages_sent_total",
	Help:      "Messages sent by the local application, by path (targeted, broadcast).",
}, []string{"node", "path"})

// MessagesReceived tracks messages delivered to the application.
var MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "messages_received_total",
	Help:      "Messages delivered to the local application.",
}, []string{"node"})

// MessagesDuplicate tracks inbound messages dropped by the seen cache.
var MessagesDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "messages_duplicate_total",
	Help:      "Inbound messages dropped because their identifier was already seen.",
}, []string{"node"})

// MessagesReflooded tracks decremented copies flooded onward.
var MessagesReflooded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "messages_reflooded_total",
	Help:      "Received messages flooded onward with a decremented time to live.",
}, []string{"node"})

// ControlMessages tracks configuration-update control messages.
var ControlMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "control_messages_total",
	Help:      "Configuration update control messages, by direction (sent, received).",
}, []string{"node", "direction"})

// InboundRejected tracks inbound write batches answered with an error code.
var InboundRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "inbound_rejected_total",
	Help:      "Inbound write batches rejected, by ATT code.",
}, []string{"node", "code"})

// ─── Transport ──────────────────────────────────────────────────────────────

// Writes tracks outbound characteristic writes.
var Writes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "writes_total",
	Help:      "Outbound message writes, by result (issued, completed, failed).",
}, []string{"node", "result"})

// ConnectionAttempts tracks connect requests issued to the transport.
var ConnectionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "connection_attempts_total",
	Help:      "Connection attempts issued to the transport.",
}, []string{"node"})

// ConnectionFailures tracks connections torn down by the recovery path.
var ConnectionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "connection_failures_total",
	Help:      "Connections cancelled because of a failure, by reason.",
}, []string{"node", "reason"})

// Timeouts tracks fired timers by category.
var Timeouts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "timeouts_total",
	Help:      "Timers that fired, by category (discovery, connecting, transfer).",
}, []string{"node", "category"})

// ─── State ──────────────────────────────────────────────────────────────────

// ActiveConnections tracks peers holding a connection slot.
var ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "active_connections",
	Help:      "Peers connecting, connected or transferring.",
}, []string{"node"})

// ServicesInRange tracks mesh identities currently in range.
var ServicesInRange = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "services_in_range",
	Help:      "Mesh identities currently in range.",
}, []string{"node"})

// SeenCacheSize tracks remembered message identifiers.
var SeenCacheSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "seen_cache_size",
	Help:      "Message identifiers remembered for duplicate suppression.",
}, []string{"node"})

// Node binds the metric vectors to one node label.
type Node struct {
	name string
}

// ForNode returns metrics scoped to name.
func ForNode(name string) *Node {
	return &Node{name: name}
}

func (n *Node) MessageSent(path string) {
	MessagesSent.WithLabelValues(n.name, path).Inc()
}

func (n *Node) MessageReceived() {
	MessagesReceived.WithLabelValues(n.name).Inc()
}

func (n *Node) MessageDuplicate() {
	MessagesDuplicate.WithLabelValues(n.name).Inc()
}

func (n *Node) MessageReflooded() {
	MessagesReflooded.WithLabelValues(n.name).Inc()
}

func (n *Node) ControlMessage(direction string) {
	ControlMessages.WithLabelValues(n.name, direction).Inc()
}

func (n *Node) InboundRejected(code string) {
	InboundRejected.WithLabelValues(n.name, code).Inc()
}

func (n *Node) Write(result string) {
	Writes.WithLabelValues(n.name, result).Inc()
}

func (n *Node) ConnectionAttempt() {
	ConnectionAttempts.WithLabelValues(n.name).Inc()
}

func (n *Node) ConnectionFailure(reason string) {
	ConnectionFailures.WithLabelValues(n.name, reason).Inc()
}

func (n *Node) Timeout(category string) {
	Timeouts.WithLabelValues(n.name, category).Inc()
}

// SetState publishes the engine gauges in one call.
func (n *Node) SetState(active, inRange, seen int) {
	ActiveConnections.WithLabelValues(n.name).Set(float64(active))
	ServicesInRange.WithLabelValues(n.name).Set(float64(inRange))
	SeenCacheSize.WithLabelValues(n.name).Set(float64(seen))
}
