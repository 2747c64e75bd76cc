package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestRoundTripAllVariants(t *testing.T) {
	maxPayload := bytes.Repeat([]byte{0xab}, MaxChunkSize)

	cases := []struct {
		name string
		msg  Message
	}{
		{"start", Start{Port: 40001, Filename: []byte("hello.txt")}},
		{"start empty filename", Start{Port: 0, Filename: nil}},
		{"chunk", Chunk{Sequence: 7, Payload: []byte("payload")}},
		{"chunk empty payload", Chunk{Sequence: 0, Payload: []byte{}}},
		{"chunk max payload", Chunk{Sequence: ^uint32(0), Payload: maxPayload}},
		{"ack success", Ack{Sequence: 12, Status: StatusSuccess}},
		{"ack failure", Ack{Sequence: 13, Status: StatusFailure}},
		{"final", Final{Digest: 0xdeadbeef}},
		{"final zero", Final{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := Encode(tc.msg)
			typ, err := PeekType(buf)
			if err != nil {
				t.Fatalf("peek type: %v", err)
			}
			if typ != tc.msg.Type() {
				t.Fatalf("peek type mismatch: got %s want %s", typ, tc.msg.Type())
			}

			got, err := Decode(buf)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if !equalMessage(got, tc.msg) {
				t.Fatalf("round trip mismatch: got %+v want %+v", got, tc.msg)
			}
		})
	}
}

func TestEncodeLayout(t *testing.T) {
	buf := Encode(Start{Port: 0x01020304, Filename: []byte("ab")})
	want := []byte{
		0, 0, 0, 0,
		1, 2, 3, 4,
		0, 0, 0, 2,
		'a', 'b',
	}
	if !bytes.Equal(buf, want) {
		t.Fatalf("start layout mismatch: got % x want % x", buf, want)
	}

	buf = Encode(Ack{Sequence: 5, Status: StatusFailure})
	want = []byte{0, 0, 0, 2, 0, 0, 0, 5, 0, 0, 0, 1}
	if !bytes.Equal(buf, want) {
		t.Fatalf("ack layout mismatch: got % x want % x", buf, want)
	}

	buf = Encode(Final{Digest: 9})
	want = []byte{0, 0, 0, 3, 0, 0, 0, 9}
	if !bytes.Equal(buf, want) {
		t.Fatalf("final layout mismatch: got % x want % x", buf, want)
	}
}

func TestDecodeTruncated(t *testing.T) {
	full := Encode(Chunk{Sequence: 3, Payload: []byte("abcdef")})
	for cut := 0; cut < len(full); cut++ {
		if _, err := Decode(full[:cut]); !errors.Is(err, ErrMalformedMessage) {
			t.Fatalf("cut at %d: expected ErrMalformedMessage, got %v", cut, err)
		}
	}
}

func TestDecodeDeclaredLengthBeyondBuffer(t *testing.T) {
	buf := binary.BigEndian.AppendUint32(nil, uint32(TypeStart))
	buf = binary.BigEndian.AppendUint32(buf, 9000)
	buf = binary.BigEndian.AppendUint32(buf, 1000)
	buf = append(buf, "short"...)

	if _, err := Decode(buf); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestDecodeRejectsHugeLength(t *testing.T) {
	buf := binary.BigEndian.AppendUint32(nil, uint32(TypeChunk))
	buf = binary.BigEndian.AppendUint32(buf, 1)
	buf = binary.BigEndian.AppendUint32(buf, ^uint32(0))

	_, _, err := DecodePrefix(buf)
	if !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage for oversize length, got %v", err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	buf := binary.BigEndian.AppendUint32(nil, 42)
	buf = binary.BigEndian.AppendUint32(buf, 0)
	if _, err := Decode(buf); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestDecodeBadAckStatus(t *testing.T) {
	buf := binary.BigEndian.AppendUint32(nil, uint32(TypeAck))
	buf = binary.BigEndian.AppendUint32(buf, 1)
	buf = binary.BigEndian.AppendUint32(buf, 7)
	if _, err := Decode(buf); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestDecodeTrailingBytes(t *testing.T) {
	buf := append(Encode(Final{Digest: 1}), 0xff)
	if _, err := Decode(buf); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestPeekTypeShortBuffer(t *testing.T) {
	if _, err := PeekType([]byte{0, 0, 1}); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestDecodedFieldsDoNotAliasInput(t *testing.T) {
	buf := Encode(Chunk{Sequence: 1, Payload: []byte("xyz")})
	m, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	for i := range buf {
		buf[i] = 0
	}
	if got := m.(Chunk).Payload; !bytes.Equal(got, []byte("xyz")) {
		t.Fatalf("payload changed with input buffer: %q", got)
	}
}

func equalMessage(a, b Message) bool {
	switch x := a.(type) {
	case Start:
		y, ok := b.(Start)
		return ok && x.Port == y.Port && bytes.Equal(x.Filename, y.Filename)
	case Chunk:
		y, ok := b.(Chunk)
		return ok && x.Sequence == y.Sequence && bytes.Equal(x.Payload, y.Payload)
	case Ack:
		y, ok := b.(Ack)
		return ok && x == y
	case Final:
		y, ok := b.(Final)
		return ok && x == y
	}
	return false
}
