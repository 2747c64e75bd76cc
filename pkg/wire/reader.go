package wire

import (
	"errors"
	"io"
)

const readChunk = 4096

// FrameReader pulls whole messages off a byte stream such as the TCP control
// channel. Bytes of a partially received frame survive read errors, so a
// reader whose conn hits a read deadline can simply be called again.
//
// FrameReader is not safe for concurrent use.
type FrameReader struct {
	r       io.Reader
	pending []byte
	scratch []byte
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		r:       r,
		scratch: make([]byte, readChunk),
	}
}

// Next returns the next complete message. Errors from the underlying reader
// are returned unchanged (io.EOF on a clean close, net timeouts on deadline
// expiry). A frame that can never decode returns ErrMalformedMessage. When
// its length is known only that frame is skipped; otherwise everything
// buffered is discarded, since the stream has no resync marker.
func (fr *FrameReader) Next() (Message, error) {
	for {
		if len(fr.pending) > 0 {
			m, n, err := DecodePrefix(fr.pending)
			switch {
			case err == nil:
				fr.consume(n)
				return m, nil
			case errors.Is(err, ErrIncomplete):
			default:
				fr.discard()
				return nil, err
			}
		}

		n, err := fr.r.Read(fr.scratch)
		if n > 0 {
			fr.pending = append(fr.pending, fr.scratch[:n]...)
		}
		if err != nil {
			// a final read may carry a complete frame alongside the error
			if n > 0 {
				if m, used, derr := DecodePrefix(fr.pending); derr == nil {
					fr.consume(used)
					return m, nil
				}
			}
			return nil, err
		}
	}
}

// Buffered reports how many bytes of an unfinished frame are held.
func (fr *FrameReader) Buffered() int {
	return len(fr.pending)
}

func (fr *FrameReader) discard() {
	if n, ok := FrameLen(fr.pending); ok && n <= len(fr.pending) {
		fr.consume(n)
		return
	}
	fr.pending = fr.pending[:0]
}

func (fr *FrameReader) consume(n int) {
	rest := copy(fr.pending, fr.pending[n:])
	fr.pending = fr.pending[:rest]
}
