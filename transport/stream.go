// Package transport provides the abstract byte-stream the monitor and pool
// packages speak the wire protocol over, replacing a tagged fd union with
// an abstract Stream interface; this package is that interface plus its
// TCP/TLS/mock implementations.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Stream is the narrow I/O surface the wire codec needs: read, write, and
// a read deadline, regardless of whether the underlying socket is TCP,
// TLS, a unix domain socket, or an in-process mock used by tests.
type Stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Options configures how Dial reaches a server.
type Options struct {
	ConnectTimeout time.Duration
	TLS            *tls.Config // nil disables TLS
}

// Dial opens a Stream to addr (host:port, or a filesystem path for a unix
// domain socket), applying ConnectTimeout and, if TLS is non-nil, wrapping
// the connection in a TLS handshake.
func Dial(ctx context.Context, addr string, opts Options) (Stream, error) {
	network := "tcp"
	dialAddr := addr
	if len(addr) > 0 && addr[0] == '/' {
		network = "unix"
	}

	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, network, dialAddr)
	if err != nil {
		return nil, err
	}

	if opts.TLS == nil {
		return conn, nil
	}

	tlsConn := tls.Client(conn, opts.TLS)
	if deadline, ok := ctx.Deadline(); ok {
		_ = tlsConn.SetDeadline(deadline)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = tlsConn.SetDeadline(time.Time{})
	return tlsConn, nil
}
