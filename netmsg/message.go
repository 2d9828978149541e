package netmsg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Header is the fixed-size frame header sent ahead of every body. It is
// always encoded little-endian on the wire (see WriteHeader).
type Header[T ID] struct {
	ValidationKey uint64
	InternalID    InternalID
	ID            T
	BodySize      uint64
}

// Message is a header plus an opaque body. Push and Extract operate at
// the tail of the body: pushing several values and then extracting the
// same count yields them in reverse order, the same LIFO discipline the
// framework this was ported from uses so complex values can be encoded
// field-by-field without a separate cursor.
type Message[T ID] struct {
	header Header[T]
	body   []byte
}

// New returns an empty message with the validation key already stamped.
func New[T ID]() *Message[T] {
	return &Message[T]{header: Header[T]{ValidationKey: ValidationKey}}
}

func (m *Message[T]) SetID(id T)            { m.header.ID = id }
func (m *Message[T]) GetID() T              { return m.header.ID }
func (m *Message[T]) SetInternalID(i InternalID) { m.header.InternalID = i }
func (m *Message[T]) GetInternalID() InternalID  { return m.header.InternalID }
func (m *Message[T]) BodySize() uint64      { return m.header.BodySize }
func (m *Message[T]) IsEmpty() bool         { return len(m.body) == 0 }
func (m *Message[T]) Header() Header[T]     { return m.header }

// Clear drops the body and resets bookkeeping, but keeps the
// validation key and any id already set.
func (m *Message[T]) Clear() {
	m.body = m.body[:0]
	m.header.BodySize = 0
}

// Body returns the current body bytes. Callers must not retain the
// slice past the next Push/Extract, which may reallocate it.
func (m *Message[T]) Body() []byte { return m.body }

// setBody installs b as the body and sets BodySize to its length,
// without going through Push.
func (m *Message[T]) setBody(b []byte) {
	m.body = b
	m.header.BodySize = uint64(len(b))
}

// Push appends the binary representation of v, which must have a fixed
// encoded size (see encoding/binary.Size), to the tail of the body.
func Push[T ID, D any](m *Message[T], v D) error {
	size := binary.Size(v)
	if size < 0 {
		return fmt.Errorf("netmsg: push: type %T has no fixed binary size", v)
	}

	if uint64(len(m.body)+size) > math.MaxUint32 {
		return ErrOverflow
	}

	buf := bytes.NewBuffer(make([]byte, 0, size))
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("netmsg: push: %w", err)
	}

	m.body = append(m.body, buf.Bytes()...)
	m.header.BodySize = uint64(len(m.body))
	return nil
}

// Extract reads a D-sized value from the tail of the body and shrinks
// it. Values pushed v1..vn come back extract()ed as vn..v1.
func Extract[T ID, D any](m *Message[T]) (D, error) {
	var zero D

	size := binary.Size(zero)
	if size < 0 {
		return zero, fmt.Errorf("netmsg: extract: type %T has no fixed binary size", zero)
	}

	if size > len(m.body) {
		return zero, ErrUnderflow
	}

	cut := len(m.body) - size
	if err := binary.Read(bytes.NewReader(m.body[cut:]), binary.LittleEndian, &zero); err != nil {
		return zero, fmt.Errorf("netmsg: extract: %w", err)
	}

	m.body = m.body[:cut]
	m.header.BodySize = uint64(len(m.body))
	return zero, nil
}

// PushString appends the string's bytes, then its length as a trailing
// uint64 so ExtractString can read the length first and pull exactly
// that many bytes off the new tail.
func PushString[T ID](m *Message[T], s string) error {
	if uint64(len(m.body)+len(s)) > math.MaxUint32 {
		return ErrOverflow
	}

	m.body = append(m.body, s...)
	m.header.BodySize = uint64(len(m.body))

	return Push(m, uint64(len(s)))
}

// ExtractString reverses PushString.
func ExtractString[T ID](m *Message[T]) (string, error) {
	n, err := Extract[T, uint64](m)
	if err != nil {
		return "", err
	}

	if n > uint64(len(m.body)) {
		return "", ErrUnderflow
	}

	cut := len(m.body) - int(n)
	s := string(m.body[cut:])
	m.body = m.body[:cut]
	m.header.BodySize = uint64(len(m.body))
	return s, nil
}

// HeaderSize returns the on-wire size in bytes of Header[T] for the
// concrete id type T.
func HeaderSize[T ID]() int {
	var zero T
	return 8 + 1 + binary.Size(zero) + 8
}

// WriteHeader encodes h little-endian onto w, field by field so the id
// width matches T exactly regardless of platform struct padding.
func WriteHeader[T ID](w io.Writer, h Header[T]) error {
	if err := binary.Write(w, binary.LittleEndian, h.ValidationKey); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, h.InternalID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, h.ID); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, h.BodySize)
}

// ReadHeader decodes a Header[T] from r in the same field order
// WriteHeader uses.
func ReadHeader[T ID](r io.Reader) (Header[T], error) {
	var h Header[T]
	if err := binary.Read(r, binary.LittleEndian, &h.ValidationKey); err != nil {
		return h, err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.InternalID); err != nil {
		return h, err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.ID); err != nil {
		return h, err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.BodySize); err != nil {
		return h, err
	}
	return h, nil
}

// SetBody replaces m's body with b and sets BodySize to len(b), without
// going through Push. The connection read pump does not use it; it
// builds received messages with FromHeaderAndBody.
func SetBody[T ID](m *Message[T], b []byte) {
	m.setBody(b)
}

// FromHeaderAndBody reconstructs a Message from a header already
// validated by the caller and a freshly read body.
func FromHeaderAndBody[T ID](h Header[T], body []byte) *Message[T] {
	return &Message[T]{header: h, body: body}
}
