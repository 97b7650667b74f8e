package handshake

import (
	"io"
	"net/http"
)

// Options configures one side of the opening handshake.
// The zero value offers no subprotocols and no extensions.
type Options struct {
	// Protocols lists subprotocol tokens: the ones to offer, in
	// preference order (client), or the ones supported (server).
	// A server selects the first token of the client's offer that
	// appears in this list; the order of this list plays no part.
	Protocols []string

	// Extensions lists extension declarations: the ones to offer
	// (client), or the ones the local side is willing to accept
	// (server, matched by name).
	Extensions []Extension

	// Origin is the value of the request's "Origin" header (client only).
	Origin string

	// Headers holds additional request headers (client only).
	Headers http.Header

	// NonceGen overrides the randomness source for the
	// "Sec-WebSocket-Key" nonce. For unit-testing only.
	NonceGen io.Reader
}

// Result is the outcome of a successful opening handshake.
type Result struct {
	// Protocol is the selected subprotocol, or "" if none was selected.
	Protocol string

	// Extensions are the negotiated extension declarations.
	Extensions []Extension

	// Deflate is the negotiated "permessage-deflate" parameter set,
	// or nil if the extension wasn't negotiated. It is stored for a
	// compressor plug-in; the core performs no compression.
	Deflate *DeflateConfig

	// Leftover holds bytes that were read off the stream past the
	// header terminator. They must be consumed before reading from
	// the stream again, since they are the start of the frame data.
	Leftover []byte
}

func (o Options) nonceGen() io.Reader {
	if o.NonceGen != nil {
		return o.NonceGen
	}
	return defaultNonceGen
}
