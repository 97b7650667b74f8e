// Package client connects to WebSocket servers: it dials the
// endpoint over TCP (TLS-wrapped for "wss"), runs the opening
// handshake, and hands back a split-ready session.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"

	"github.com/tzrikka/duplex/pkg/handshake"
	"github.com/tzrikka/duplex/pkg/session"
	"github.com/tzrikka/duplex/pkg/stream"
	"github.com/tzrikka/duplex/pkg/wserr"
)

// Options configures [Dial] beyond the URL itself.
type Options struct {
	// Handshake holds the subprotocols, extensions, origin,
	// and custom headers to offer during the handshake.
	Handshake handshake.Options

	// TLSConfig is handed to the transport when the scheme is "wss".
	// nil means sensible defaults (the endpoint's host name is always
	// filled in as the SNI server name if the config doesn't set one).
	TLSConfig *tls.Config

	// NetDialer overrides the TCP dialer, e.g. to set timeouts.
	NetDialer *net.Dialer
}

// Opt modifies the dial options, in the functional style.
type Opt func(*Options)

// WithProtocols offers subprotocol tokens, in preference order.
func WithProtocols(protocols ...string) Opt {
	return func(o *Options) {
		o.Handshake.Protocols = protocols
	}
}

// WithExtensions offers extension declarations.
func WithExtensions(exts ...handshake.Extension) Opt {
	return func(o *Options) {
		o.Handshake.Extensions = exts
	}
}

// WithOrigin sets the request's "Origin" header.
func WithOrigin(origin string) Opt {
	return func(o *Options) {
		o.Handshake.Origin = origin
	}
}

// WithTLSConfig sets the TLS configuration for "wss" endpoints.
func WithTLSConfig(cfg *tls.Config) Opt {
	return func(o *Options) {
		o.TLSConfig = cfg
	}
}

// WithNonceGen overrides the handshake's randomness
// source. For unit-testing only.
func WithNonceGen(r io.Reader) Opt {
	return func(o *Options) {
		o.Handshake.NonceGen = r
	}
}

// Dial connects to a "ws://" or "wss://" URL and runs the client side
// of the opening handshake. The returned session is open and ready to
// be split into its send and receive halves.
//
// The context is used for the TCP dial, and to attach a logger to
// the session ([zerolog.Ctx]).
func Dial(ctx context.Context, rawURL string, opts ...Opt) (*session.Session, *handshake.Result, error) {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}

	ep, err := handshake.ParseURL(rawURL)
	if err != nil {
		return nil, nil, err
	}

	nc, err := dialEndpoint(ctx, ep, o)
	if err != nil {
		return nil, nil, err
	}

	s := stream.NewConn(nc)
	result, err := handshake.Client(ctx, s, ep, o.Handshake)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	zerolog.Ctx(ctx).Debug().Str("url", rawURL).Msg("opened WebSocket connection")
	sess := session.New(ctx, s, session.ClientSide, session.WithLeftover(result.Leftover))
	return sess, result, nil
}

func dialEndpoint(ctx context.Context, ep handshake.Endpoint, o *Options) (net.Conn, error) {
	dialer := o.NetDialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	nc, err := dialer.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return nil, err
	}
	if !ep.Secure() {
		return nc, nil
	}

	cfg := o.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		cfg = cfg.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = ep.Host
	}

	tc := tls.Client(nc, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: %w", wserr.ErrTLSHandshake, err)
	}
	return tc, nil
}
