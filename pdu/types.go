// Package pdu defines the messages exchanged over the mesh and their
// compressed protobuf wire representation.
package pdu

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	// DefaultTimeToLive is the hop budget given to new messages
	DefaultTimeToLive int32 = 15

	// MaxValueLength is the largest PDU a single characteristic write may carry
	MaxValueLength = 512
)

// Reserved payload types
var (
	// UpdatedConfiguration marks a control message announcing that the
	// sender's configuration changed and must be read again
	UpdatedConfiguration = uuid.MustParse("90500473-2FE5-4B65-AA4E-1EFD61063E16")

	// PublicMessageType marks a message whose payload is a PublicMessage
	PublicMessageType = uuid.MustParse("6113B8CC-6D42-4AA6-83F1-98B81752A698")
)

var (
	// ErrMalformed is returned when bytes cannot be decoded into a valid PDU
	ErrMalformed = errors.New("malformed pdu")

	// ErrInvalid is returned when a locally built value fails validation
	ErrInvalid = errors.New("invalid pdu")

	// ErrTooBig is returned when the encoded PDU exceeds MaxValueLength
	ErrTooBig = errors.New("pdu too big")
)

// Message is the unit of flooding. Copies of the same logical message share
// Identifier regardless of the TimeToLive they carry.
type Message struct {
	Identifier         uuid.UUID
	PayloadType        *uuid.UUID
	Payload            []byte
	TimeToLive         int32
	SourceAddress      *uuid.UUID
	DestinationAddress *uuid.UUID
}

// NewMessage creates a message with a random identifier and the default TTL
func NewMessage(payloadType *uuid.UUID, payload []byte) *Message {
	return &Message{
		Identifier:  uuid.New(),
		PayloadType: payloadType,
		Payload:     payload,
		TimeToLive:  DefaultTimeToLive,
	}
}

// Validate reports whether the message can be sent. uuid.Nil is treated as
// an unset identifier.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrInvalid)
	}
	if m.Identifier == uuid.Nil {
		return fmt.Errorf("%w: message identifier is unset", ErrInvalid)
	}
	return nil
}

// IsControl reports whether m announces a configuration change
func (m *Message) IsControl() bool {
	return m.PayloadType != nil && *m.PayloadType == UpdatedConfiguration
}

// Clone returns a deep copy of m
func (m *Message) Clone() *Message {
	c := *m
	c.PayloadType = cloneUUID(m.PayloadType)
	c.SourceAddress = cloneUUID(m.SourceAddress)
	c.DestinationAddress = cloneUUID(m.DestinationAddress)
	if m.Payload != nil {
		c.Payload = append([]byte(nil), m.Payload...)
	}
	return &c
}

// WithTimeToLive returns a copy of m carrying ttl
func (m *Message) WithTimeToLive(ttl int32) *Message {
	c := m.Clone()
	c.TimeToLive = ttl
	return c
}

// Configuration describes one logical mesh identity hosted by a device
type Configuration struct {
	Identifier uuid.UUID
	UserInfo   []byte
}

// Validate reports whether the configuration can be advertised
func (c *Configuration) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil configuration", ErrInvalid)
	}
	if c.Identifier == uuid.Nil {
		return fmt.Errorf("%w: configuration identifier is unset", ErrInvalid)
	}
	return nil
}

// User identifies the author of a public message
type User struct {
	Identifier uuid.UUID
	Name       string
}

// DisplayName returns the name of the user, or "Nameless" when empty
func (u User) DisplayName() string {
	if u.Name == "" {
		return "Nameless"
	}
	return u.Name
}

// PublicMessage is a text broadcast carried as the payload of a Message
// with PayloadType set to PublicMessageType
type PublicMessage struct {
	Identifier uuid.UUID
	SourceUser *User
	Text       string
}

// NewPublicMessage creates a public message with a random identifier
func NewPublicMessage(text string, user User) *PublicMessage {
	return &PublicMessage{
		Identifier: uuid.New(),
		SourceUser: &user,
		Text:       text,
	}
}

// SenderName returns the display name of the source user, which peers may
// omit
func (p *PublicMessage) SenderName() string {
	if p == nil || p.SourceUser == nil {
		return User{}.DisplayName()
	}
	return p.SourceUser.DisplayName()
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
