package transport

import (
	"fmt"
	"io"
	"sync"

	"github.com/mixx99/file-transfer/pkg/wire"
)

// SerializedWriter guards a stream shared by several goroutines so that each
// message lands on the wire as one contiguous frame.
type SerializedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewSerializedWriter(w io.Writer) *SerializedWriter {
	return &SerializedWriter{w: w}
}

func (s *SerializedWriter) WriteMessage(m wire.Message) error {
	buf := wire.Encode(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(buf))
	}
	return nil
}
