package xferclient

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
	"github.com/mixx99/file-transfer/pkg/checksum"
	"github.com/mixx99/file-transfer/pkg/chunker"
	"github.com/mixx99/file-transfer/pkg/retransmit"
	"github.com/mixx99/file-transfer/pkg/transport"
	"github.com/mixx99/file-transfer/pkg/wire"
)

// ErrPeerFailure is returned when the server acknowledges a chunk with a
// failure status.
var ErrPeerFailure = errors.New("peer reported failure")

type Result struct {
	TransferID      uuid.UUID
	Chunks          uint32
	Bytes           int64
	Retransmissions int
	Digest          uint32
	State           State
	Elapsed         time.Duration
}

// event is what the control receiver hands to the sender: either an ack for
// a sequence or a reason to stop.
type event struct {
	seq uint32
	err error
}

// Session drives one stop-and-wait upload over an established control
// connection and a connected UDP socket. Only the goroutine calling Run
// mutates session state; the control receiver communicates over events.
type Session struct {
	id      uuid.UUID
	control net.Conn
	data    net.Conn
	opts    Options
	file    []byte
	plan    *chunker.Plan

	events chan event
	rtx    *retransmit.Controller

	state State
	seq   uint32
}

func NewSession(control, data net.Conn, opts Options, file []byte) (*Session, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	plan, err := chunker.NewPlan(int64(len(file)), opts.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileTooLarge, err)
	}
	return &Session{
		id:      uuid.New(),
		control: control,
		data:    data,
		opts:    opts,
		file:    file,
		plan:    plan,
		events:  make(chan event, 16),
		rtx:     retransmit.New(opts.ResendDelay, opts.MaxRetries),
		state:   StateConnected,
	}, nil
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) State() State { return s.state }

// Run performs the transfer and returns once the session is Done or Failed.
// Cancelling ctx stops both goroutines.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.receiveControl(ctx)
	}()

	digest, err := s.run(ctx)

	cancel()
	// unblock the receiver's pending read instead of waiting out its timeout
	_ = s.control.SetReadDeadline(time.Now())
	wg.Wait()
	s.rtx.Disarm()

	res := &Result{
		TransferID:      s.id,
		Chunks:          s.seq,
		Bytes:           int64(len(s.file)),
		Retransmissions: s.rtx.Resends(),
		Digest:          digest,
		State:           s.state,
		Elapsed:         time.Since(started),
	}
	if err != nil {
		s.transition(StateFailed)
		res.State = s.state
		internal.Error("transfer failed", internal.Fields{
			internal.FieldSession: s.id.String(),
			internal.FieldSeq:     s.seq,
			internal.FieldError:   err.Error(),
		})
		return res, err
	}
	return res, nil
}

func (s *Session) run(ctx context.Context) (uint32, error) {
	name := filepath.Base(s.opts.FilePath)
	start := wire.Start{Port: uint32(s.opts.DataPort), Filename: []byte(name)}
	if err := s.writeControl(start); err != nil {
		return 0, fmt.Errorf("send start: %w", err)
	}
	s.transition(StateAwaitingDataChannelReady)
	internal.Info("start sent", internal.Fields{
		internal.FieldSession: s.id.String(),
		internal.FieldPath:    name,
		internal.FieldPort:    s.opts.DataPort,
		internal.FieldBytes:   len(s.file),
	})

	// The server binds its data socket on receipt of Start and never says
	// when it is ready, so chunks only go out after a grace period.
	if err := s.waitGrace(ctx); err != nil {
		return 0, err
	}

	if err := s.sendChunks(ctx); err != nil {
		return 0, err
	}
	return s.finalize()
}

func (s *Session) waitGrace(ctx context.Context) error {
	if s.opts.StartGrace <= 0 {
		return nil
	}
	grace := time.NewTimer(s.opts.StartGrace)
	defer grace.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			if ev.err != nil {
				return ev.err
			}
			internal.Debug("ack before first chunk ignored", internal.Fields{
				internal.FieldSeq: ev.seq,
			})
		case <-grace.C:
			return nil
		}
	}
}

func (s *Session) sendChunks(ctx context.Context) error {
	resend := false
	for {
		s.transition(StateSending)
		payload, ok := s.plan.Slice(s.file, s.seq)
		if !ok {
			return nil
		}

		s.sendChunk(wire.Chunk{Sequence: s.seq, Payload: payload}, resend)
		timeout := s.rtx.Arm()
		s.transition(StateAwaitingAck)

		acked, err := s.awaitAck(ctx, timeout)
		if err != nil {
			return err
		}
		if !acked {
			if err := s.rtx.RecordResend(); err != nil {
				return fmt.Errorf("chunk %d: %w", s.seq, err)
			}
			s.transition(StateResend)
			internal.Debug("ack timeout, resending", internal.Fields{
				internal.FieldSession: s.id.String(),
				internal.FieldSeq:     s.seq,
				internal.FieldAttempt: s.rtx.Attempts(),
			})
			resend = true
			continue
		}

		s.opts.Metrics.ObserveAck(time.Since(s.rtx.ArmedAt()))
		s.rtx.Advance()
		s.seq++
		resend = false
		if s.opts.OnProgress != nil {
			s.opts.OnProgress(s.seq, s.plan.Count())
		}
	}
}

// sendChunk puts one datagram on the data channel. A failed write is only
// logged: the ack timer still runs and the chunk goes out again on expiry.
func (s *Session) sendChunk(c wire.Chunk, resend bool) {
	n, err := s.data.Write(wire.Encode(c))
	if err != nil {
		internal.Warn("chunk write failed", internal.Fields{
			internal.FieldSession: s.id.String(),
			internal.FieldSeq:     c.Sequence,
			internal.FieldError:   err.Error(),
		})
		return
	}
	if !resend {
		s.opts.Metrics.ObserveDiskRead(len(c.Payload))
	}
	s.opts.Metrics.ObservePacketSend()
	s.opts.Metrics.ObserveSend(len(c.Payload), resend)
	internal.Debug("chunk sent", internal.Fields{
		internal.FieldSeq:   c.Sequence,
		internal.FieldBytes: n,
	})
}

// awaitAck blocks until the current sequence is acknowledged (true), the
// resend timer fires (false), or the session must stop (error).
func (s *Session) awaitAck(ctx context.Context, timeout <-chan time.Time) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case ev := <-s.events:
			if ev.err != nil {
				return false, ev.err
			}
			if ev.seq != s.seq {
				internal.Debug("stale ack ignored", internal.Fields{
					internal.FieldSeq: ev.seq,
				})
				continue
			}
			return true, nil
		case <-timeout:
			return false, nil
		}
	}
}

func (s *Session) finalize() (uint32, error) {
	s.transition(StateFinalizing)
	digest, err := checksum.File(s.opts.FilePath)
	if err != nil {
		return 0, fmt.Errorf("digest: %w", err)
	}
	if err := s.writeControl(wire.Final{Digest: digest}); err != nil {
		internal.Warn("final not delivered", internal.Fields{
			internal.FieldSession: s.id.String(),
			internal.FieldError:   err.Error(),
		})
	}
	s.transition(StateDone)
	internal.Info("transfer complete", internal.Fields{
		internal.FieldSession: s.id.String(),
		internal.FieldSeq:     s.seq,
		internal.FieldDigest:  fmt.Sprintf("%08x", digest),
	})
	return digest, nil
}

func (s *Session) writeControl(m wire.Message) error {
	buf := wire.Encode(m)
	if _, err := s.control.Write(buf); err != nil {
		return err
	}
	s.opts.Metrics.ObservePacketSend()
	return nil
}

// receiveControl reads acks off the control channel and forwards them to the
// sender until ctx is cancelled or the channel fails.
func (s *Session) receiveControl(ctx context.Context) {
	fr := wire.NewFrameReader(s.control)
	for ctx.Err() == nil {
		_ = s.control.SetReadDeadline(time.Now().Add(s.opts.ControlReadTimeout))
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
					internal.FieldError: err.Error(),
				})
				continue
			case transport.IsDisconnect(err):
				s.emit(ctx, event{err: fmt.Errorf("%w: %v", transport.ErrPeerDisconnected, err)})
				return
			default:
				s.emit(ctx, event{err: fmt.Errorf("control channel: %w", err)})
				return
			}
		}

		ack, ok := msg.(wire.Ack)
		if !ok {
			s.opts.Metrics.ObserveViolation()
			internal.Warn("unexpected message on control channel", internal.Fields{
				internal.FieldType:  msg.Type().String(),
				internal.FieldError: wire.ErrProtocolViolation.Error(),
			})
			continue
		}
		s.opts.Metrics.ObservePacketReceive()
		if ack.Status == wire.StatusFailure {
			s.emit(ctx, event{err: fmt.Errorf("%w: seq %d", ErrPeerFailure, ack.Sequence)})
			return
		}
		if !s.emit(ctx, event{seq: ack.Sequence}) {
			return
		}
	}
}

func (s *Session) emit(ctx context.Context, ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) transition(next State) {
	if s.state == next {
		return
	}
	internal.Debug("client state", internal.Fields{
		internal.FieldSession: s.id.String(),
		internal.FieldState:   next.String(),
		internal.FieldSeq:     s.seq,
	})
	s.state = next
}
