package mesh

import "fmt"

// ErrorKind classifies failures seen by the engine
type ErrorKind int

const (
	InvalidMessage ErrorKind = iota + 1
	InvalidConfiguration
	TransportConnectFailure
	TransportWriteFailure
	TransportReadFailure
	MalformedInboundPDU
	UnsupportedRequest
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidMessage:
		return "invalid message"
	case InvalidConfiguration:
		return "invalid configuration"
	case TransportConnectFailure:
		return "transport connect failure"
	case TransportWriteFailure:
		return "transport write failure"
	case TransportReadFailure:
		return "transport read failure"
	case MalformedInboundPDU:
		return "malformed inbound pdu"
	case UnsupportedRequest:
		return "unsupported request"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching on kind
var (
	ErrInvalidMessage          = &Error{Kind: InvalidMessage}
	ErrInvalidConfiguration    = &Error{Kind: InvalidConfiguration}
	ErrTransportConnectFailure = &Error{Kind: TransportConnectFailure}
	ErrTransportWriteFailure   = &Error{Kind: TransportWriteFailure}
	ErrTransportReadFailure    = &Error{Kind: TransportReadFailure}
	ErrMalformedInboundPDU     = &Error{Kind: MalformedInboundPDU}
	ErrUnsupportedRequest      = &Error{Kind: UnsupportedRequest}
)

// Error is a classified engine error. Peer is empty for local failures.
type Error struct {
	Kind ErrorKind
	Peer PeerID
	Err  error
}

func newError(kind ErrorKind, peer PeerID, err error) *Error {
	return &Error{Kind: kind, Peer: peer, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Peer != "" {
		msg = fmt.Sprintf("%s (peer %s)", msg, e.Peer)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}
