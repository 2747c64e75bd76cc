package xferserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mixx99/file-transfer/internal"
	"github.com/mixx99/file-transfer/pkg/reassembly"
	"github.com/mixx99/file-transfer/pkg/transport"
)

// ErrIntegrityMismatch marks a transfer whose assembled file does not hash
// to the digest announced in Final. It is reported, never returned by Run.
var ErrIntegrityMismatch = errors.New("integrity mismatch")

type Result struct {
	SessionID      uuid.UUID
	Peer           string
	Path           string
	Bytes          int64
	Chunks         int
	Duplicates     int
	Gaps           []uint32
	ExpectedDigest uint32
	ActualDigest   uint32
	FinalReceived  bool // false when the client left before Final
	Verified       bool
	ReceiptPath    string
	Elapsed        time.Duration
}

// Server receives exactly one file from one client per Run.
type Server struct {
	opts Options
}

func New(opts Options) *Server {
	return &Server{opts: opts.withDefaults()}
}

// Run listens on the control port, serves a single client and returns once
// the file is assembled or the session stops. A digest mismatch or a missing
// Final is reflected in Result.Verified; errors are reserved for transport
// failures, a peer that leaves before Start, and cancellation.
func (s *Server) Run(ctx context.Context) (*Result, error) {
	ln, err := transport.ListenControl(ctx, s.opts.BindAddr, s.opts.ControlPort)
	if err != nil {
		return nil, err
	}
	if s.opts.OnListening != nil {
		s.opts.OnListening(ln.Addr())
	}

	conn, err := accept(ctx, ln)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	sess := newSession(conn, s.opts)
	internal.Info("client connected", internal.Fields{
		internal.FieldSession: sess.id.String(),
		internal.FieldAddr:    conn.RemoteAddr().String(),
	})
	return sess.run(ctx)
}

// accept waits for one peer and closes the listener; later connection
// attempts are refused.
func accept(ctx context.Context, ln net.Listener) (net.Conn, error) {
	var once sync.Once
	closeLn := func() { once.Do(func() { _ = ln.Close() }) }
	defer closeLn()

	stop := context.AfterFunc(ctx, closeLn)
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: accept: %v", transport.ErrTransportUnavailable, err)
	}
	return conn, nil
}

func newSession(conn net.Conn, opts Options) *session {
	return &session{
		id:      uuid.New(),
		opts:    opts,
		conn:    conn,
		acks:    transport.NewSerializedWriter(conn),
		buf:     reassembly.New(),
		started: time.Now(),
	}
}
