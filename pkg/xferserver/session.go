package xferserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mixx99/file-transfer/internal"
	"github.com/mixx99/file-transfer/pkg/reassembly"
	"github.com/mixx99/file-transfer/pkg/transport"
	"github.com/mixx99/file-transfer/pkg/wire"
)

// session holds the receive side of one transfer. The control goroutine
// owns the handshake fields; the data goroutine only touches the buffer,
// the ack writer and the duplicate counter.
type session struct {
	id      uuid.UUID
	opts    Options
	conn    net.Conn
	acks    *transport.SerializedWriter
	buf     *reassembly.Buffer
	started time.Time

	wg          sync.WaitGroup
	stopControl context.CancelFunc
	stopData    context.CancelFunc

	mu          sync.Mutex
	filename    string
	dataPort    uint32
	dataStarted bool
	finalSeen   bool
	expected    uint32
	duplicates  int
	fatal       error
}

func (s *session) run(parent context.Context) (*Result, error) {
	ctrlCtx, stopControl := context.WithCancel(parent)
	dataCtx, stopData := context.WithCancel(parent)
	s.stopControl = stopControl
	s.stopData = stopData
	defer stopControl()
	defer stopData()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.controlLoop(ctrlCtx, dataCtx)
	}()
	s.wg.Wait()

	s.mu.Lock()
	fatal, finalSeen, dataStarted := s.fatal, s.finalSeen, s.dataStarted
	s.mu.Unlock()

	// A peer that hangs up before Final still gets its chunks assembled and
	// checked; the result is simply unverified. Transport failures and
	// cancellation skip assembly.
	switch {
	case fatal != nil:
		return s.partialResult(), fatal
	case !finalSeen && parent.Err() != nil:
		return s.partialResult(), parent.Err()
	case !dataStarted:
		return s.partialResult(), fmt.Errorf("%w: before start", transport.ErrPeerDisconnected)
	}
	return s.assemble()
}

// stop records the first fatal error, if any, and shuts down both listeners.
func (s *session) stop(err error) {
	s.mu.Lock()
	if s.fatal == nil && err != nil {
		s.fatal = err
	}
	s.mu.Unlock()
	s.stopData()
	s.stopControl()
}

func (s *session) controlLoop(ctx, dataCtx context.Context) {
	defer context.AfterFunc(ctx, func() { _ = s.conn.SetReadDeadline(time.Now()) })()

	fr := wire.NewFrameReader(s.conn)
	for ctx.Err() == nil {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.ControlReadTimeout))
		msg, err := fr.Next()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return
			case transport.IsTimeout(err):
				continue
			case errors.Is(err, wire.ErrMalformedMessage):
				s.opts.Metrics.ObserveViolation()
				internal.Warn("malformed control message dropped", internal.Fields{
					internal.FieldSession: s.id.String(),
					internal.FieldError:   err.Error(),
				})
				continue
			case transport.IsDisconnect(err):
				internal.Warn("client disconnected before final", internal.Fields{
					internal.FieldSession: s.id.String(),
					internal.FieldError:   err.Error(),
				})
				s.stop(nil)
				return
			default:
				s.stop(fmt.Errorf("control channel: %w", err))
				return
			}
		}
		s.opts.Metrics.ObservePacketReceive()

		switch m := msg.(type) {
		case wire.Start:
			if err := s.handleStart(dataCtx, m); err != nil {
				s.stop(err)
				return
			}
		case wire.Final:
			if s.handleFinal(m) {
				s.stopData()
				return
			}
		default:
			s.violation("unexpected message on control channel", msg.Type())
		}
	}
}

func (s *session) handleStart(dataCtx context.Context, m wire.Start) error {
	name, ok := sanitizeFilename(string(m.Filename))
	if !ok {
		s.violation("start with unusable filename", m.Type())
		return nil
	}

	s.mu.Lock()
	if s.dataStarted {
		s.mu.Unlock()
		s.violation("repeated start ignored", m.Type())
		return nil
	}
	s.dataStarted = true
	s.filename = name
	s.dataPort = m.Port
	s.mu.Unlock()

	pc, err := transport.ListenData(dataCtx, s.opts.BindAddr, int(m.Port), s.opts.Transport)
	if err != nil {
		return err
	}
	internal.Info("start received", internal.Fields{
		internal.FieldSession: s.id.String(),
		internal.FieldPath:    name,
		internal.FieldPort:    m.Port,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dataLoop(dataCtx, pc)
	}()
	return nil
}

// handleFinal records the announced digest. Final before Start has nothing
// to finish and is ignored.
func (s *session) handleFinal(m wire.Final) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dataStarted {
		s.violation("final before start", m.Type())
		return false
	}
	s.finalSeen = true
	s.expected = m.Digest
	internal.Info("final received", internal.Fields{
		internal.FieldSession: s.id.String(),
		internal.FieldDigest:  fmt.Sprintf("%08x", m.Digest),
	})
	return true
}

func (s *session) dataLoop(ctx context.Context, pc net.PacketConn) {
	defer pc.Close()
	defer context.AfterFunc(ctx, func() { _ = pc.SetReadDeadline(time.Now()) })()

	buf := make([]byte, wire.MaxDatagram)
	for ctx.Err() == nil {
		_ = pc.SetReadDeadline(time.Now().Add(s.opts.DataReadTimeout))
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			switch {
			case ctx.Err() != nil, transport.IsClosed(err):
				return
			case transport.IsTimeout(err):
				continue
			default:
				internal.Warn("data read failed", internal.Fields{
					internal.FieldSession: s.id.String(),
					internal.FieldError:   err.Error(),
				})
				continue
			}
		}
		s.opts.Metrics.ObservePacketReceive()

		msg, err := wire.Decode(buf[:n])
		if err != nil {
			s.opts.Metrics.ObserveViolation()
			internal.Warn("malformed datagram dropped", internal.Fields{
				internal.FieldSession: s.id.String(),
				internal.FieldAddr:    from.String(),
				internal.FieldError:   err.Error(),
			})
			continue
		}
		chunk, ok := msg.(wire.Chunk)
		if !ok {
			s.violation("unexpected message on data channel", msg.Type())
			continue
		}
		s.receiveChunk(chunk)
	}
}

// receiveChunk buffers a chunk and acks it. Duplicates are acked again since
// the previous ack may be what went missing.
func (s *session) receiveChunk(c wire.Chunk) {
	if s.buf.Insert(c.Sequence, c.Payload) {
		s.opts.Metrics.ObserveReceive(len(c.Payload))
	} else {
		s.mu.Lock()
		s.duplicates++
		s.mu.Unlock()
		s.opts.Metrics.ObserveDuplicate()
		internal.Debug("duplicate chunk", internal.Fields{
			internal.FieldSession: s.id.String(),
			internal.FieldSeq:     c.Sequence,
		})
	}

	if err := s.acks.WriteMessage(wire.Ack{Sequence: c.Sequence, Status: wire.StatusSuccess}); err != nil {
		internal.Warn("ack write failed", internal.Fields{
			internal.FieldSession: s.id.String(),
			internal.FieldSeq:     c.Sequence,
			internal.FieldError:   err.Error(),
		})
		return
	}
	s.opts.Metrics.ObservePacketSend()
}

func (s *session) violation(msg string, t wire.MessageType) {
	s.opts.Metrics.ObserveViolation()
	internal.Warn(msg, internal.Fields{
		internal.FieldSession: s.id.String(),
		internal.FieldType:    t.String(),
		internal.FieldError:   wire.ErrProtocolViolation.Error(),
	})
}

// sanitizeFilename keeps only the final path element so a peer cannot write
// outside the destination directory.
func sanitizeFilename(name string) (string, bool) {
	base := filepath.Base(filepath.Clean("/" + filepath.ToSlash(name)))
	switch base {
	case "", ".", "..", "/":
		return "", false
	}
	if base == string(filepath.Separator) {
		return "", false
	}
	return base, true
}

func (s *session) partialResult() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Result{
		SessionID:  s.id,
		Peer:       s.conn.RemoteAddr().String(),
		Chunks:     s.buf.Len(),
		Bytes:      int64(s.buf.Size()),
		Duplicates: s.duplicates,
		Elapsed:    time.Since(s.started),
	}
}
