package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/mixx99/file-transfer/internal"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

var (
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrPeerDisconnected     = errors.New("peer disconnected")
)

type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	// TOS marks outgoing IPv4 datagrams; 0 leaves the system default.
	TOS         int
	DialTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		ReadBufferSize:  256 * 1024,
		WriteBufferSize: 256 * 1024,
		DialTimeout:     5 * time.Second,
	}
}

func listenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
		},
	}
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ListenControl opens the TCP listener for the control channel.
func ListenControl(ctx context.Context, bindAddr string, port int) (net.Listener, error) {
	lc := listenConfig()
	ln, err := lc.Listen(ctx, "tcp", hostPort(bindAddr, port))
	if err != nil {
		internal.Error("control listener bind failed", internal.Fields{
			internal.FieldAddr:  bindAddr,
			internal.FieldPort:  port,
			internal.FieldError: err.Error(),
		})
		return nil, fmt.Errorf("%w: listen tcp %s: %v", ErrTransportUnavailable, hostPort(bindAddr, port), err)
	}
	internal.Info("control listener bound", internal.Fields{
		internal.FieldAddr: ln.Addr().String(),
	})
	return ln, nil
}

// ListenData binds the UDP socket for the data channel.
func ListenData(ctx context.Context, bindAddr string, port int, opts Options) (net.PacketConn, error) {
	lc := listenConfig()
	pc, err := lc.ListenPacket(ctx, "udp", hostPort(bindAddr, port))
	if err != nil {
		internal.Error("data listener bind failed", internal.Fields{
			internal.FieldAddr:  bindAddr,
			internal.FieldPort:  port,
			internal.FieldError: err.Error(),
		})
		return nil, fmt.Errorf("%w: listen udp %s: %v", ErrTransportUnavailable, hostPort(bindAddr, port), err)
	}
	if uc, ok := pc.(*net.UDPConn); ok {
		applyBuffers(uc, opts)
	}
	if opts.TOS > 0 {
		if err := ipv4.NewPacketConn(pc).SetTOS(opts.TOS); err != nil {
			internal.Debug("data listener tos not applied", internal.Fields{
				internal.FieldError: err.Error(),
			})
		}
	}
	internal.Info("data listener bound", internal.Fields{
		internal.FieldAddr: pc.LocalAddr().String(),
	})
	return pc, nil
}

// DialControl connects the TCP control channel.
func DialControl(ctx context.Context, host string, port int, opts Options) (net.Conn, error) {
	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", hostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("%w: dial tcp %s: %v", ErrTransportUnavailable, hostPort(host, port), err)
	}
	return conn, nil
}

// DialData returns a connected UDP socket aimed at the peer's data port.
func DialData(ctx context.Context, host string, port int, opts Options) (net.Conn, error) {
	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "udp", hostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("%w: dial udp %s: %v", ErrTransportUnavailable, hostPort(host, port), err)
	}
	if uc, ok := conn.(*net.UDPConn); ok {
		applyBuffers(uc, opts)
	}
	if opts.TOS > 0 {
		if err := ipv4.NewConn(conn).SetTOS(opts.TOS); err != nil {
			internal.Debug("data channel tos not applied", internal.Fields{
				internal.FieldError: err.Error(),
			})
		}
	}
	return conn, nil
}

func applyBuffers(uc *net.UDPConn, opts Options) {
	if opts.ReadBufferSize > 0 {
		_ = uc.SetReadBuffer(opts.ReadBufferSize)
	}
	if opts.WriteBufferSize > 0 {
		_ = uc.SetWriteBuffer(opts.WriteBufferSize)
	}
}

// IsTimeout reports a read/write deadline expiry, which callers treat as a
// poll tick rather than a failure.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsClosed reports errors caused by our own side closing the socket.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// IsDisconnect reports a peer closing the stream.
func IsDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, ErrPeerDisconnected)
}

// Port extracts the port of a UDP or TCP address, 0 otherwise.
func Port(addr net.Addr) int {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.Port
	case *net.TCPAddr:
		return a.Port
	}
	return 0
}
