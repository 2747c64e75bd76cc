package xferclient

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mixx99/file-transfer/pkg/checksum"
	"github.com/mixx99/file-transfer/pkg/retransmit"
	"github.com/mixx99/file-transfer/pkg/transport"
	"github.com/mixx99/file-transfer/pkg/wire"
)

// responder decides how the fake server answers one received chunk.
type responder func(c wire.Chunk) (wire.Ack, bool)

type fakeServer struct {
	ln net.Listener
	pc net.PacketConn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		ln.Close()
		t.Fatalf("listen udp: %v", err)
	}
	t.Cleanup(func() {
		ln.Close()
		pc.Close()
	})
	return &fakeServer{ln: ln, pc: pc}
}

func (f *fakeServer) dataPort() int { return transport.Port(f.pc.LocalAddr()) }

// serve accepts one client, forwards every control message to the returned
// channel and answers datagrams with respond until ctx ends.
func (f *fakeServer) serve(ctx context.Context, t *testing.T, respond responder) (<-chan wire.Message, <-chan net.Conn) {
	t.Helper()
	msgs := make(chan wire.Message, 64)
	conns := make(chan net.Conn, 1)

	go func() {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		conns <- conn
		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		go func() {
			fr := wire.NewFrameReader(conn)
			for {
				m, err := fr.Next()
				if err != nil {
					close(msgs)
					return
				}
				msgs <- m
			}
		}()

		buf := make([]byte, wire.MaxDatagram)
		for ctx.Err() == nil {
			_ = f.pc.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
			n, _, err := f.pc.ReadFrom(buf)
			if err != nil {
				continue
			}
			m, err := wire.Decode(buf[:n])
			if err != nil {
				continue
			}
			c, ok := m.(wire.Chunk)
			if !ok {
				continue
			}
			if ack, send := respond(c); send {
				_, _ = conn.Write(wire.Encode(ack))
			}
		}
	}()
	return msgs, conns
}

func (f *fakeServer) dial(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	control, err := net.Dial("tcp", f.ln.Addr().String())
	if err != nil {
		t.Fatalf("dial control: %v", err)
	}
	data, err := net.Dial("udp", f.pc.LocalAddr().String())
	if err != nil {
		control.Close()
		t.Fatalf("dial data: %v", err)
	}
	t.Cleanup(func() {
		control.Close()
		data.Close()
	})
	return control, data
}

// timedConn records chunk write times and can swallow chosen writes.
type timedConn struct {
	net.Conn
	mu     sync.Mutex
	writes []chunkWrite
	drop   func(seq uint32, nth int) bool
}

type chunkWrite struct {
	seq uint32
	at  time.Time
}

func (c *timedConn) Write(p []byte) (int, error) {
	m, err := wire.Decode(p)
	if err != nil {
		return c.Conn.Write(p)
	}
	chunk := m.(wire.Chunk)

	c.mu.Lock()
	nth := 0
	for _, w := range c.writes {
		if w.seq == chunk.Sequence {
			nth++
		}
	}
	c.writes = append(c.writes, chunkWrite{seq: chunk.Sequence, at: time.Now()})
	dropped := c.drop != nil && c.drop(chunk.Sequence, nth)
	c.mu.Unlock()

	if dropped {
		return len(p), nil
	}
	return c.Conn.Write(p)
}

func (c *timedConn) writesFor(seq uint32) []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Time
	for _, w := range c.writes {
		if w.seq == seq {
			out = append(out, w.at)
		}
	}
	return out
}

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func testPayload(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte('a' + i%26)
	}
	return out
}

func ackAll(received *sync.Map) responder {
	return func(c wire.Chunk) (wire.Ack, bool) {
		received.LoadOrStore(c.Sequence, append([]byte(nil), c.Payload...))
		return wire.Ack{Sequence: c.Sequence, Status: wire.StatusSuccess}, true
	}
}

func collect(t *testing.T, msgs <-chan wire.Message, want int) []wire.Message {
	t.Helper()
	var out []wire.Message
	deadline := time.After(2 * time.Second)
	for len(out) < want {
		select {
		case m, ok := <-msgs:
			if !ok {
				return out
			}
			out = append(out, m)
		case <-deadline:
			t.Fatalf("got %d control messages, want %d", len(out), want)
		}
	}
	return out
}

func baseOptions(path string, dataPort int) Options {
	return Options{
		FilePath:    path,
		DataPort:    dataPort,
		ChunkSize:   4096,
		ResendDelay: 50 * time.Millisecond,
		StartGrace:  10 * time.Millisecond,
	}
}

func TestSessionDeliversAllChunksAndFinal(t *testing.T) {
	payload := testPayload(10000)
	path := writeTempFile(t, "hello.txt", payload)

	srv := newFakeServer(t)
	var received sync.Map
	msgs, _ := srv.serve(t.Context(), t, ackAll(&received))
	control, data := srv.dial(t)

	var progress []uint32
	opts := baseOptions(path, srv.dataPort())
	opts.OnProgress = func(acked, total uint32) {
		if total != 3 {
			t.Errorf("total chunks = %d, want 3", total)
		}
		progress = append(progress, acked)
	}

	sess, err := NewSession(control, data, opts, payload)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	res, err := sess.Run(t.Context())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != StateDone || res.Chunks != 3 || res.Bytes != 10000 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(progress) != 3 || progress[2] != 3 {
		t.Fatalf("progress callbacks = %v", progress)
	}

	got := collect(t, msgs, 2)
	start, ok := got[0].(wire.Start)
	if !ok || string(start.Filename) != "hello.txt" || int(start.Port) != srv.dataPort() {
		t.Fatalf("first control message = %#v", got[0])
	}
	final, ok := got[1].(wire.Final)
	if !ok {
		t.Fatalf("second control message = %#v", got[1])
	}
	want, _ := checksum.File(path)
	if final.Digest != want || res.Digest != want {
		t.Fatalf("final digest %08x, result %08x, want %08x", final.Digest, res.Digest, want)
	}

	var rebuilt []byte
	for seq := uint32(0); seq < 3; seq++ {
		v, ok := received.Load(seq)
		if !ok {
			t.Fatalf("chunk %d never arrived", seq)
		}
		rebuilt = append(rebuilt, v.([]byte)...)
	}
	if !bytes.Equal(rebuilt, payload) {
		t.Fatal("reassembled payload differs from source")
	}
}

func TestSessionResendsAfterTimeout(t *testing.T) {
	payload := testPayload(5000)
	path := writeTempFile(t, "resend.bin", payload)

	srv := newFakeServer(t)
	var received sync.Map
	srv.serve(t.Context(), t, ackAll(&received))
	control, data := srv.dial(t)

	tc := &timedConn{
		Conn: data,
		drop: func(seq uint32, nth int) bool { return seq == 0 && nth == 0 },
	}

	sess, err := NewSession(control, tc, baseOptions(path, srv.dataPort()), payload)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	res, err := sess.Run(t.Context())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Retransmissions != 1 {
		t.Fatalf("retransmissions = %d, want 1", res.Retransmissions)
	}

	sends := tc.writesFor(0)
	if len(sends) != 2 {
		t.Fatalf("chunk 0 sent %d times, want 2", len(sends))
	}
	const delay, slack = 50 * time.Millisecond, 150 * time.Millisecond
	gap := sends[1].Sub(sends[0])
	if gap < delay {
		t.Fatalf("resent after %v, before the %v delay", gap, delay)
	}
	if gap > delay+slack {
		t.Fatalf("resent after %v, want within %v of the delay", gap, slack)
	}
	if n := len(tc.writesFor(1)); n != 1 {
		t.Fatalf("chunk 1 sent %d times, want 1", n)
	}
}

func TestSessionIgnoresStaleAcks(t *testing.T) {
	payload := testPayload(8192)
	path := writeTempFile(t, "stale.bin", payload)

	srv := newFakeServer(t)
	msgs, conns := srv.serve(t.Context(), t, func(c wire.Chunk) (wire.Ack, bool) {
		return wire.Ack{Sequence: c.Sequence}, true
	})
	control, data := srv.dial(t)

	// an ack for a sequence that was never sent must not advance the sender
	go func() {
		conn := <-conns
		_, _ = conn.Write(wire.Encode(wire.Ack{Sequence: 7}))
	}()

	sess, err := NewSession(control, data, baseOptions(path, srv.dataPort()), payload)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	res, err := sess.Run(t.Context())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Chunks != 2 {
		t.Fatalf("chunks = %d, want 2", res.Chunks)
	}
	collect(t, msgs, 2)
}

func TestSessionFailsOnFailureAck(t *testing.T) {
	payload := testPayload(4096 * 3)
	path := writeTempFile(t, "fail.bin", payload)

	srv := newFakeServer(t)
	srv.serve(t.Context(), t, func(c wire.Chunk) (wire.Ack, bool) {
		if c.Sequence == 1 {
			return wire.Ack{Sequence: 1, Status: wire.StatusFailure}, true
		}
		return wire.Ack{Sequence: c.Sequence}, true
	})
	control, data := srv.dial(t)

	sess, err := NewSession(control, data, baseOptions(path, srv.dataPort()), payload)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	res, err := sess.Run(t.Context())
	if !errors.Is(err, ErrPeerFailure) {
		t.Fatalf("expected ErrPeerFailure, got %v", err)
	}
	if res.State != StateFailed || res.Chunks != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSessionFailsWhenPeerDisconnects(t *testing.T) {
	payload := testPayload(4096 * 4)
	path := writeTempFile(t, "gone.bin", payload)

	srv := newFakeServer(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	_, conns := srv.serve(ctx, t, func(wire.Chunk) (wire.Ack, bool) {
		return wire.Ack{}, false
	})
	control, data := srv.dial(t)

	go func() {
		conn := <-conns
		time.Sleep(30 * time.Millisecond)
		conn.Close()
	}()

	sess, err := NewSession(control, data, baseOptions(path, srv.dataPort()), payload)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	res, err := sess.Run(t.Context())
	if !errors.Is(err, transport.ErrPeerDisconnected) {
		t.Fatalf("expected ErrPeerDisconnected, got %v", err)
	}
	if res.State != StateFailed {
		t.Fatalf("state = %s", res.State)
	}
}

func TestSessionRetryBudget(t *testing.T) {
	payload := testPayload(100)
	path := writeTempFile(t, "budget.bin", payload)

	srv := newFakeServer(t)
	srv.serve(t.Context(), t, func(wire.Chunk) (wire.Ack, bool) {
		return wire.Ack{}, false
	})
	control, data := srv.dial(t)

	opts := baseOptions(path, srv.dataPort())
	opts.ResendDelay = 10 * time.Millisecond
	opts.MaxRetries = 2

	sess, err := NewSession(control, data, opts, payload)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	res, err := sess.Run(t.Context())
	if !errors.Is(err, retransmit.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if res.Retransmissions != 2 {
		t.Fatalf("retransmissions = %d, want 2", res.Retransmissions)
	}
}

func TestSessionEmptyFileSendsOnlyStartAndFinal(t *testing.T) {
	path := writeTempFile(t, "empty.txt", nil)

	srv := newFakeServer(t)
	msgs, _ := srv.serve(t.Context(), t, func(c wire.Chunk) (wire.Ack, bool) {
		t.Errorf("unexpected chunk %d", c.Sequence)
		return wire.Ack{}, false
	})
	control, data := srv.dial(t)

	sess, err := NewSession(control, data, baseOptions(path, srv.dataPort()), nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	res, err := sess.Run(t.Context())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Chunks != 0 || res.State != StateDone {
		t.Fatalf("unexpected result %+v", res)
	}
	got := collect(t, msgs, 2)
	if f, ok := got[1].(wire.Final); !ok || f.Digest != 0 {
		t.Fatalf("final = %#v", got[1])
	}
}

func TestSessionCancelled(t *testing.T) {
	payload := testPayload(100)
	path := writeTempFile(t, "cancel.bin", payload)

	srv := newFakeServer(t)
	srv.serve(t.Context(), t, func(wire.Chunk) (wire.Ack, bool) { return wire.Ack{}, false })
	control, data := srv.dial(t)

	sess, err := NewSession(control, data, baseOptions(path, srv.dataPort()), payload)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	ctx, cancel := context.WithTimeout(t.Context(), 150*time.Millisecond)
	defer cancel()

	res, err := sess.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if res.State != StateFailed || res.Retransmissions == 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSendRejectsOversizedFile(t *testing.T) {
	path := writeTempFile(t, "big.bin", testPayload(2048))
	opts := baseOptions(path, 9)
	opts.MaxFileSize = 1024

	_, err := Send(t.Context(), opts)
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestSendUnreachableServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := transport.Port(ln.Addr())
	ln.Close()

	opts := baseOptions(writeTempFile(t, "x.bin", testPayload(10)), 9)
	opts.ServerAddr = "127.0.0.1"
	opts.ControlPort = port

	_, err = Send(t.Context(), opts)
	if !errors.Is(err, transport.ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
}

func TestStateStrings(t *testing.T) {
	if StateAwaitingAck.String() != "awaiting-ack" || State(99).String() != "unknown" {
		t.Fatal("unexpected state names")
	}
	if !StateDone.Terminal() || !StateFailed.Terminal() || StateSending.Terminal() {
		t.Fatal("terminal classification wrong")
	}
}
