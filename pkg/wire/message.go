package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

type MessageType uint32

const (
	TypeStart MessageType = iota
	TypeChunk
	TypeAck
	TypeFinal
)

func (t MessageType) String() string {
	switch t {
	case TypeStart:
		return "start"
	case TypeChunk:
		return "chunk"
	case TypeAck:
		return "ack"
	case TypeFinal:
		return "final"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

type AckStatus uint32

const (
	StatusSuccess AckStatus = 0
	StatusFailure AckStatus = 1
)

func (s AckStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(s))
	}
}

const (
	fieldLen = 4

	// MaxDatagram is the largest UDP payload over IPv4.
	MaxDatagram  = 65507
	ChunkHeader  = 3 * fieldLen
	MaxChunkSize = MaxDatagram - ChunkHeader

	// MaxFrameLen caps any declared variable-length field on the stream so a
	// corrupt length cannot make the reader buffer without bound.
	MaxFrameLen = 1 << 20
)

var (
	ErrMalformedMessage  = errors.New("malformed message")
	ErrIncomplete        = errors.New("incomplete message")
	ErrProtocolViolation = errors.New("protocol violation")
)

// Message is one of Start, Chunk, Ack or Final.
type Message interface {
	Type() MessageType
	encodedLen() int
	appendFields(dst []byte) []byte
}

// Start announces the data-channel port and the target filename.
type Start struct {
	Port     uint32
	Filename []byte
}

// Chunk carries one fragment of file content.
type Chunk struct {
	Sequence uint32
	Payload  []byte
}

// Ack acknowledges a single chunk sequence.
type Ack struct {
	Sequence uint32
	Status   AckStatus
}

// Final ends the transfer and carries the sender's file digest.
type Final struct {
	Digest uint32
}

func (Start) Type() MessageType { return TypeStart }
func (Chunk) Type() MessageType { return TypeChunk }
func (Ack) Type() MessageType   { return TypeAck }
func (Final) Type() MessageType { return TypeFinal }

func (m Start) encodedLen() int { return 3*fieldLen + len(m.Filename) }
func (m Chunk) encodedLen() int { return 3*fieldLen + len(m.Payload) }
func (Ack) encodedLen() int     { return 3 * fieldLen }
func (Final) encodedLen() int   { return 2 * fieldLen }

func (m Start) appendFields(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, m.Port)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(m.Filename)))
	return append(dst, m.Filename...)
}

func (m Chunk) appendFields(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, m.Sequence)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(m.Payload)))
	return append(dst, m.Payload...)
}

func (m Ack) appendFields(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, m.Sequence)
	return binary.BigEndian.AppendUint32(dst, uint32(m.Status))
}

func (m Final) appendFields(dst []byte) []byte {
	return binary.BigEndian.AppendUint32(dst, m.Digest)
}

// Encode returns the wire form of m: the type discriminant followed by the
// variant's fields, all big-endian u32, variable fields length-prefixed.
func Encode(m Message) []byte {
	return AppendEncode(make([]byte, 0, m.encodedLen()), m)
}

func AppendEncode(dst []byte, m Message) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(m.Type()))
	return m.appendFields(dst)
}

// PeekType reads the discriminant without decoding the rest of the buffer.
func PeekType(src []byte) (MessageType, error) {
	if len(src) < fieldLen {
		return 0, fmt.Errorf("%w: %d bytes, need %d for type", ErrMalformedMessage, len(src), fieldLen)
	}
	return MessageType(binary.BigEndian.Uint32(src[:fieldLen])), nil
}

// Decode parses exactly one message occupying all of src.
func Decode(src []byte) (Message, error) {
	m, n, err := DecodePrefix(src)
	if err != nil {
		if errors.Is(err, ErrIncomplete) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return nil, err
	}
	if n != len(src) {
		return nil, fmt.Errorf("%w: %d trailing bytes after %s", ErrMalformedMessage, len(src)-n, m.Type())
	}
	return m, nil
}

// FrameLen reports the encoded length of the frame at the front of src when
// its header alone determines it. ok is false for an unknown type, a
// length field not yet received, or a declared length over MaxFrameLen.
func FrameLen(src []byte) (n int, ok bool) {
	typ, err := PeekType(src)
	if err != nil {
		return 0, false
	}
	switch typ {
	case TypeAck:
		return Ack{}.encodedLen(), true
	case TypeFinal:
		return Final{}.encodedLen(), true
	case TypeStart, TypeChunk:
		if len(src) < 3*fieldLen {
			return 0, false
		}
		declared := binary.BigEndian.Uint32(src[2*fieldLen : 3*fieldLen])
		if declared > MaxFrameLen {
			return 0, false
		}
		return 3*fieldLen + int(declared), true
	}
	return 0, false
}

// DecodePrefix decodes the message at the front of src and reports how many
// bytes it used. ErrIncomplete means src holds a valid but partial message.
// Decoded byte fields are copies and do not alias src.
func DecodePrefix(src []byte) (Message, int, error) {
	if len(src) < fieldLen {
		return nil, 0, ErrIncomplete
	}
	typ, _ := PeekType(src)
	d := decoder{buf: src, off: fieldLen}

	switch typ {
	case TypeStart:
		port, err := d.uint32()
		if err != nil {
			return nil, 0, err
		}
		name, err := d.bytes()
		if err != nil {
			return nil, 0, err
		}
		return Start{Port: port, Filename: name}, d.off, nil
	case TypeChunk:
		seq, err := d.uint32()
		if err != nil {
			return nil, 0, err
		}
		payload, err := d.bytes()
		if err != nil {
			return nil, 0, err
		}
		return Chunk{Sequence: seq, Payload: payload}, d.off, nil
	case TypeAck:
		seq, err := d.uint32()
		if err != nil {
			return nil, 0, err
		}
		status, err := d.uint32()
		if err != nil {
			return nil, 0, err
		}
		if AckStatus(status) != StatusSuccess && AckStatus(status) != StatusFailure {
			return nil, 0, fmt.Errorf("%w: ack status %d", ErrMalformedMessage, status)
		}
		return Ack{Sequence: seq, Status: AckStatus(status)}, d.off, nil
	case TypeFinal:
		digest, err := d.uint32()
		if err != nil {
			return nil, 0, err
		}
		return Final{Digest: digest}, d.off, nil
	default:
		return nil, 0, fmt.Errorf("%w: unknown type %d", ErrMalformedMessage, uint32(typ))
	}
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) uint32() (uint32, error) {
	if len(d.buf)-d.off < fieldLen {
		return 0, ErrIncomplete
	}
	v := binary.BigEndian.Uint32(d.buf[d.off : d.off+fieldLen])
	d.off += fieldLen
	return v, nil
}

func (d *decoder) bytes() ([]byte, error) {
	n, err := d.uint32()
	if err != nil {
		return nil, err
	}
	if n > MaxFrameLen {
		return nil, fmt.Errorf("%w: declared length %d exceeds limit %d", ErrMalformedMessage, n, MaxFrameLen)
	}
	if uint64(len(d.buf)-d.off) < uint64(n) {
		return nil, ErrIncomplete
	}
	out := make([]byte, n)
	copy(out, d.buf[d.off:d.off+int(n)])
	d.off += int(n)
	return out, nil
}
