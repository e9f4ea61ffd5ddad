// Package transport unifies plaintext and TLS connections behind one
// read/write/flush contract so request handling never inspects which one it has.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
)

// Kind tags the concrete variant of a Transport.
type Kind int

const (
	KindPlain Kind = iota
	KindTLS
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindTLS:
		return "tls"
	default:
		return "unknown"
	}
}

// Transport is a single accepted connection, either plaintext or TLS.
//
// The variant set is closed: only *Plain and *TLS implement it.
//
// Writes are buffered until Flush. Close flushes nothing; callers flush first.
type Transport interface {
	// Read reads into buf and returns the number of bytes read.
	Read(buf []byte) (int, error)

	// Write buffers p for sending.
	Write(p []byte) (int, error)

	// Flush sends all buffered bytes.
	Flush() error

	// Close releases the underlying socket.
	Close() error

	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr

	// Kind reports the variant, for logging and metrics only.
	Kind() Kind

	sealed()
}

// Plain is a plaintext TCP transport.
type Plain struct {
	conn net.Conn
	w    *bufio.Writer
}

// NewPlain wraps an accepted connection without encryption.
func NewPlain(conn net.Conn) *Plain {
	return &Plain{conn: conn, w: bufio.NewWriter(conn)}
}

func (p *Plain) Read(buf []byte) (int, error) { return p.conn.Read(buf) }
func (p *Plain) Write(b []byte) (int, error)  { return p.w.Write(b) }
func (p *Plain) Flush() error                 { return p.w.Flush() }
func (p *Plain) Close() error                 { return p.conn.Close() }
func (p *Plain) RemoteAddr() net.Addr         { return p.conn.RemoteAddr() }
func (p *Plain) Kind() Kind                   { return KindPlain }
func (p *Plain) sealed()                      {}

// TLS is a transport over a completed TLS session.
type TLS struct {
	conn *tls.Conn
	w    *bufio.Writer
}

func (t *TLS) Read(buf []byte) (int, error) { return t.conn.Read(buf) }
func (t *TLS) Write(b []byte) (int, error)  { return t.w.Write(b) }
func (t *TLS) Flush() error                 { return t.w.Flush() }
func (t *TLS) Close() error                 { return t.conn.Close() }
func (t *TLS) RemoteAddr() net.Addr         { return t.conn.RemoteAddr() }
func (t *TLS) Kind() Kind                   { return KindTLS }
func (t *TLS) sealed()                      {}

// ConnectionState exposes the negotiated TLS parameters.
func (t *TLS) ConnectionState() tls.ConnectionState {
	return t.conn.ConnectionState()
}

// Handshake consumes a raw accepted socket and returns an encrypted transport.
//
// On failure the raw socket is closed; there is no retry and no plaintext
// fallback.
//
// Parameters:
//   - ctx: cancels an in-progress handshake (no deadline is applied otherwise)
//   - conn: the raw accepted socket
//   - config: server TLS configuration, must carry at least one certificate
//
// Returns:
//   - *TLS: transport ready for Read/Write
//   - error: handshake failure
func Handshake(ctx context.Context, conn net.Conn, config *tls.Config) (*TLS, error) {
	tlsConn := tls.Server(conn, config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", conn.RemoteAddr(), err)
	}

	return &TLS{conn: tlsConn, w: bufio.NewWriter(tlsConn)}, nil
}
