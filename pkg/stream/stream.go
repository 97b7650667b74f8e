// Package stream defines the byte-stream contract that the framing,
// handshake, and session layers are written against, and provides
// adapters for the transports this library actually runs on: plain
// TCP connections and TLS-wrapped TCP connections.
//
// TLS is an orthogonal wrapping: a [crypto/tls.Conn] satisfies
// [net.Conn] and is adapted exactly like a plain one.
package stream

import (
	"bufio"
	"crypto/tls"
	"io"
	"net"
)

// Direction selects which half of a duplex stream to shut down.
type Direction int

const (
	// Read shuts down the inbound direction.
	Read Direction = iota
	// Write shuts down the outbound direction.
	Write
	// Both shuts down both directions.
	Both
)

// Stream is a byte-oriented duplex transport. Reads and writes may
// block indefinitely; deadlines, if needed, must be imposed on the
// underlying connection. After a direction is shut down, outstanding
// and subsequent I/O on it fails immediately.
//
// A Stream supports one concurrent reader and one concurrent writer;
// it does not support concurrent readers or concurrent writers.
type Stream interface {
	io.Reader
	io.Writer

	// Flush forces any buffered outbound bytes onto the wire.
	Flush() error

	// Shutdown closes the given direction(s) of the stream.
	Shutdown(d Direction) error
}

// Cloner is implemented by streams that can mint an independent
// handle to the same underlying transport, so one handle can be
// read while the other is written.
type Cloner interface {
	TryClone() (Stream, error)
}

// readCloser matches connections with TCP-style read-half close
// support ([net.TCPConn] has it, [tls.Conn] does not).
type readCloser interface {
	CloseRead() error
}

// writeCloser matches connections with write-half close
// support (both [net.TCPConn] and [tls.Conn] have it).
type writeCloser interface {
	CloseWrite() error
}

// Conn adapts a [net.Conn] to the [Stream] contract with buffered
// reads and writes. [net.Conn] allows one concurrent Read and one
// concurrent Write, which is exactly the duplex contract, so cloning
// a Conn shares the network connection and the buffers.
type Conn struct {
	nc net.Conn
	br *bufio.Reader
	bw *bufio.Writer
}

// NewConn wraps a network connection. The same wrapper serves plain
// TCP and [tls.Conn] connections.
func NewConn(nc net.Conn) *Conn {
	return &Conn{
		nc: nc,
		br: bufio.NewReader(nc),
		bw: bufio.NewWriter(nc),
	}
}

func (c *Conn) Read(p []byte) (int, error) {
	return c.br.Read(p)
}

func (c *Conn) Write(p []byte) (int, error) {
	return c.bw.Write(p)
}

// Flush forces buffered outbound bytes onto the wire.
func (c *Conn) Flush() error {
	return c.bw.Flush()
}

// Shutdown half-closes or fully closes the connection. Transports
// without native half-close in the requested direction (e.g. the
// read half of a [tls.Conn]) are closed fully, which still satisfies
// the contract that subsequent I/O fails immediately.
func (c *Conn) Shutdown(d Direction) error {
	switch d {
	case Read:
		if rc, ok := c.nc.(readCloser); ok {
			return rc.CloseRead()
		}
	case Write:
		if err := c.bw.Flush(); err != nil {
			return err
		}
		if wc, ok := c.nc.(writeCloser); ok {
			return wc.CloseWrite()
		}
	case Both:
	}
	return c.nc.Close()
}

// TryClone returns the same handle, so the underlying connection and
// buffers are shared. Its two users must stick to disjoint directions.
func (c *Conn) TryClone() (Stream, error) {
	return c, nil
}

// NetConn returns the underlying network connection.
func (c *Conn) NetConn() net.Conn {
	return c.nc
}

var _ Cloner = (*Conn)(nil)

// compile-time checks that the targeted transports half-close the way
// Shutdown assumes.
var (
	_ readCloser  = (*net.TCPConn)(nil)
	_ writeCloser = (*net.TCPConn)(nil)
	_ writeCloser = (*tls.Conn)(nil)
)
