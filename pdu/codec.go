package pdu

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// maxDecompressedLength bounds how much a single PDU may inflate to
const maxDecompressedLength = 64 * 1024

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to compress pdu: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress pdu: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer r.Close()

	raw, err := io.ReadAll(io.LimitReader(r, maxDecompressedLength+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) > maxDecompressedLength {
		return nil, fmt.Errorf("%w: decompressed size exceeds %d bytes", ErrMalformed, maxDecompressedLength)
	}
	return raw, nil
}

// MarshalPDU serializes and compresses m
func (m *Message) MarshalPDU() ([]byte, error) {
	return compress(marshalMessage(m))
}

// AvailableLength returns how many bytes remain before the PDU of m would be
// too big for a single write
func (m *Message) AvailableLength() int {
	data, err := m.MarshalPDU()
	if err != nil {
		return MaxValueLength
	}
	return MaxValueLength - len(data)
}

// IsTooBig reports whether the PDU of m exceeds MaxValueLength
func (m *Message) IsTooBig() bool {
	return m.AvailableLength() < 0
}

// UnmarshalMessage decodes a message PDU. The result is always valid.
func UnmarshalMessage(data []byte) (*Message, error) {
	raw, err := decompress(data)
	if err != nil {
		return nil, err
	}
	m, err := unmarshalMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}

// MarshalPDU serializes and compresses c
func (c *Configuration) MarshalPDU() ([]byte, error) {
	return compress(marshalConfiguration(c))
}

// UnmarshalConfiguration decodes a configuration PDU. The result is always valid.
func UnmarshalConfiguration(data []byte) (*Configuration, error) {
	raw, err := decompress(data)
	if err != nil {
		return nil, err
	}
	c, err := unmarshalConfiguration(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return c, nil
}

// MarshalPDU serializes and compresses p
func (p *PublicMessage) MarshalPDU() ([]byte, error) {
	return compress(marshalPublicMessage(p))
}

// UnmarshalPublicMessage decodes a public message PDU
func UnmarshalPublicMessage(data []byte) (*PublicMessage, error) {
	raw, err := decompress(data)
	if err != nil {
		return nil, err
	}
	p, err := unmarshalPublicMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return p, nil
}

// Message wraps p into a flooding message with the default TTL. The payload
// is the uncompressed encoding of p since the outer PDU is compressed.
func (p *PublicMessage) Message() *Message {
	payloadType := PublicMessageType
	return NewMessage(&payloadType, marshalPublicMessage(p))
}

// PublicMessageFromMessage extracts the public message carried by m
func PublicMessageFromMessage(m *Message) (*PublicMessage, error) {
	if m.PayloadType == nil || *m.PayloadType != PublicMessageType {
		return nil, fmt.Errorf("%w: payload type is not a public message", ErrInvalid)
	}
	p, err := unmarshalPublicMessage(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return p, nil
}

// IsPublicMessageTooBig reports whether text would not fit in a single write
// once wrapped into a message
func IsPublicMessageTooBig(text string, user User) bool {
	return NewPublicMessage(text, user).Message().IsTooBig()
}

// MarshalUserInfo encodes u for Configuration.UserInfo. The outer
// configuration PDU is compressed, so the encoding is not.
func (u User) MarshalUserInfo() []byte {
	return marshalUser(&u)
}

// UnmarshalUserInfo decodes a user carried in Configuration.UserInfo
func UnmarshalUserInfo(data []byte) (User, error) {
	u, err := unmarshalUser(data)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return *u, nil
}
