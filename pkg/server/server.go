// Package server accepts WebSocket connections: it listens on a TCP
// address (optionally TLS-wrapped), runs the server side of the
// opening handshake on each accepted connection, and hands back
// split-ready sessions.
package server

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/rs/zerolog"

	"github.com/tzrikka/duplex/pkg/handshake"
	"github.com/tzrikka/duplex/pkg/session"
	"github.com/tzrikka/duplex/pkg/stream"
)

// Server accepts TCP connections and upgrades them to WebSocket
// sessions. It holds no per-connection state: each accepted session
// is owned entirely by its caller.
type Server struct {
	ln   net.Listener
	opts handshake.Options
}

// Listen binds a plain TCP listener. The handshake options declare
// the supported subprotocols and acceptable extensions.
func Listen(addr string, opts handshake.Options) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{ln: ln, opts: opts}, nil
}

// ListenTLS binds a TLS-wrapped TCP listener for "wss" endpoints.
func ListenTLS(addr string, cfg *tls.Config, opts handshake.Options) (*Server, error) {
	ln, err := tls.Listen("tcp", addr, cfg)
	if err != nil {
		return nil, err
	}
	return &Server{ln: ln, opts: opts}, nil
}

// New wraps an existing listener, e.g. one created with
// [net.Listen] on a random port in tests.
func New(ln net.Listener, opts handshake.Options) *Server {
	return &Server{ln: ln, opts: opts}
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Accept waits for the next TCP connection and upgrades it. A failed
// handshake closes the connection and returns the validation error;
// callers serving multiple clients should log it and keep accepting.
//
// The context is used to attach a logger to the session ([zerolog.Ctx]).
func (s *Server) Accept(ctx context.Context) (*session.Session, *handshake.Result, error) {
	nc, err := s.ln.Accept()
	if err != nil {
		return nil, nil, err
	}

	sess, result, err := Upgrade(ctx, stream.NewConn(nc), s.opts)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return sess, result, nil
}

// Close stops the listener. Accepted sessions are unaffected.
func (s *Server) Close() error {
	return s.ln.Close()
}

// Upgrade runs the server side of the opening handshake over an
// already-established byte stream, and wraps it in a session.
// It's the entry point for callers with their own accept loop
// or transport.
func Upgrade(ctx context.Context, st stream.Stream, opts handshake.Options) (*session.Session, *handshake.Result, error) {
	result, err := handshake.Server(ctx, st, opts)
	if err != nil {
		return nil, nil, err
	}

	zerolog.Ctx(ctx).Debug().Msg("accepted WebSocket connection")
	sess := session.New(ctx, st, session.ServerSide, session.WithLeftover(result.Leftover))
	return sess, result, nil
}
