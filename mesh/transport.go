package mesh

import (
	"github.com/user/bluemesh/att"
)

// PeerID is the transport's opaque handle for a remote radio endpoint. It
// identifies the connection, not any mesh identity hosted behind it.
type PeerID string

// Endpoint names the local characteristic an inbound write addressed
type Endpoint int

const (
	EndpointUnknown Endpoint = iota
	EndpointMessage
	EndpointConfiguration
)

func (e Endpoint) String() string {
	switch e {
	case EndpointMessage:
		return "message"
	case EndpointConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// WriteRequest is one inbound write from a remote central
type WriteRequest struct {
	ID       uint64
	Central  PeerID
	Endpoint Endpoint
	Value    []byte
}

// Transport performs radio operations on behalf of the engine. Every method
// is called from the engine goroutine and must not block; outcomes are
// reported back through the engine's On* methods.
type Transport interface {
	// StartAdvertisingAndScanning begins advertising the local configuration
	// PDU and scanning for peers
	StartAdvertisingAndScanning(configuration []byte)

	// SetConfigurationValue replaces the configuration PDU served to readers
	SetConfigurationValue(configuration []byte)

	// Stop ends advertising, scanning and every connection
	Stop()

	Connect(id PeerID)
	CancelConnection(id PeerID)
	DiscoverServiceAndCharacteristics(id PeerID)
	ReadConfiguration(id PeerID)

	// WriteMessage writes pdu with response to the message characteristic of
	// the service at index service, in the order reported by ReadConfiguration
	WriteMessage(id PeerID, service int, pdu []byte)

	// RespondToWrite answers a batch of inbound writes; req is the first
	// request of the batch
	RespondToWrite(req WriteRequest, code att.Code)

	// MaxWriteLength is the largest value a single write may carry. It may
	// be called from any goroutine.
	MaxWriteLength() int
}
