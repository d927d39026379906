package pdu

import (
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the wire schema
const (
	fieldUUIDValue = 1

	fieldMessageIdentifier  = 1
	fieldMessagePayloadType = 2
	fieldMessagePayload     = 3
	fieldMessageTimeToLive  = 4
	fieldMessageSource      = 5
	fieldMessageDestination = 6

	fieldConfigurationIdentifier = 1
	fieldConfigurationUserInfo   = 2

	fieldUserIdentifier = 1
	fieldUserName       = 2

	fieldPublicIdentifier = 1
	fieldPublicSourceUser = 2
	fieldPublicText       = 3
)

// fieldHandler consumes the value of one field and returns the number of
// bytes read. Returning 0 leaves the field to be skipped as unknown.
type fieldHandler func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func parseFields(b []byte, handle fieldHandler) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := handle(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
		}
		b = b[m:]
	}
	return nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("unexpected wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeInt32(typ protowire.Type, b []byte) (int32, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("unexpected wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return int32(v), n, nil
}

// consumeUUID reads an embedded PBUUID. An empty value means the field is
// absent; any other length than 16 is malformed.
func consumeUUID(typ protowire.Type, b []byte) (*uuid.UUID, int, error) {
	inner, n, err := consumeBytes(typ, b)
	if err != nil {
		return nil, 0, err
	}

	var value []byte
	err = parseFields(inner, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldUUIDValue {
			return 0, nil
		}
		v, m, err := consumeBytes(typ, b)
		value = v
		return m, err
	})
	if err != nil {
		return nil, 0, err
	}

	if len(value) == 0 {
		return nil, n, nil
	}
	id, err := uuid.FromBytes(value)
	if err != nil {
		return nil, 0, fmt.Errorf("uuid value has %d bytes", len(value))
	}
	return &id, n, nil
}

func appendUUID(b []byte, num protowire.Number, id uuid.UUID) []byte {
	var inner []byte
	inner = protowire.AppendTag(inner, fieldUUIDValue, protowire.BytesType)
	inner = protowire.AppendBytes(inner, id[:])

	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

func appendOptionalUUID(b []byte, num protowire.Number, id *uuid.UUID) []byte {
	if id == nil {
		return b
	}
	return appendUUID(b, num, *id)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func marshalMessage(m *Message) []byte {
	var b []byte
	b = appendUUID(b, fieldMessageIdentifier, m.Identifier)
	b = appendOptionalUUID(b, fieldMessagePayloadType, m.PayloadType)
	b = appendBytesField(b, fieldMessagePayload, m.Payload)
	if m.TimeToLive != 0 {
		b = protowire.AppendTag(b, fieldMessageTimeToLive, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.TimeToLive)))
	}
	b = appendOptionalUUID(b, fieldMessageSource, m.SourceAddress)
	b = appendOptionalUUID(b, fieldMessageDestination, m.DestinationAddress)
	return b
}

func unmarshalMessage(b []byte) (*Message, error) {
	m := &Message{}
	err := parseFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldMessageIdentifier:
			id, n, err := consumeUUID(typ, b)
			if id != nil {
				m.Identifier = *id
			}
			return n, err
		case fieldMessagePayloadType:
			id, n, err := consumeUUID(typ, b)
			m.PayloadType = id
			return n, err
		case fieldMessagePayload:
			v, n, err := consumeBytes(typ, b)
			m.Payload = append([]byte(nil), v...)
			return n, err
		case fieldMessageTimeToLive:
			v, n, err := consumeInt32(typ, b)
			m.TimeToLive = v
			return n, err
		case fieldMessageSource:
			id, n, err := consumeUUID(typ, b)
			m.SourceAddress = id
			return n, err
		case fieldMessageDestination:
			id, n, err := consumeUUID(typ, b)
			m.DestinationAddress = id
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func marshalConfiguration(c *Configuration) []byte {
	var b []byte
	b = appendUUID(b, fieldConfigurationIdentifier, c.Identifier)
	b = appendBytesField(b, fieldConfigurationUserInfo, c.UserInfo)
	return b
}

func unmarshalConfiguration(b []byte) (*Configuration, error) {
	c := &Configuration{}
	err := parseFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldConfigurationIdentifier:
			id, n, err := consumeUUID(typ, b)
			if id != nil {
				c.Identifier = *id
			}
			return n, err
		case fieldConfigurationUserInfo:
			v, n, err := consumeBytes(typ, b)
			c.UserInfo = append([]byte(nil), v...)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func marshalUser(u *User) []byte {
	var b []byte
	if u.Identifier != uuid.Nil {
		b = appendUUID(b, fieldUserIdentifier, u.Identifier)
	}
	b = appendStringField(b, fieldUserName, u.Name)
	return b
}

func unmarshalUser(b []byte) (*User, error) {
	u := &User{}
	err := parseFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldUserIdentifier:
			id, n, err := consumeUUID(typ, b)
			if id != nil {
				u.Identifier = *id
			}
			return n, err
		case fieldUserName:
			v, n, err := consumeBytes(typ, b)
			u.Name = string(v)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func marshalPublicMessage(p *PublicMessage) []byte {
	var b []byte
	b = appendUUID(b, fieldPublicIdentifier, p.Identifier)
	if p.SourceUser != nil {
		b = protowire.AppendTag(b, fieldPublicSourceUser, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalUser(p.SourceUser))
	}
	b = appendStringField(b, fieldPublicText, p.Text)
	return b
}

func unmarshalPublicMessage(b []byte) (*PublicMessage, error) {
	p := &PublicMessage{}
	err := parseFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldPublicIdentifier:
			id, n, err := consumeUUID(typ, b)
			if id != nil {
				p.Identifier = *id
			}
			return n, err
		case fieldPublicSourceUser:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			u, err := unmarshalUser(v)
			p.SourceUser = u
			return n, err
		case fieldPublicText:
			v, n, err := consumeBytes(typ, b)
			p.Text = string(v)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
