// Package wserr defines the error taxonomy shared by all layers of the
// library: framing, message assembly, handshakes, and sessions.
//
// Callers are expected to match errors with [errors.Is] against the
// sentinel values defined here, e.g. to decide which close status code
// to send in response to a peer violation.
package wserr

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrProtocol indicates that the peer violated RFC 6455, e.g. an
	// unexpected continuation frame, bad fragmentation, reserved bits
	// without a negotiated extension, or invalid UTF-8 in a text message.
	// The appropriate response is a close frame with status 1002 or 1007.
	ErrProtocol = errors.New("websocket protocol error")

	// ErrDataFrame indicates invalid on-wire framing, e.g. a non-minimal
	// length encoding, an oversized control frame, or a masked/unmasked
	// frame where the opposite was expected.
	ErrDataFrame = errors.New("invalid data frame")

	// ErrRequest indicates an invalid opening-handshake request
	// (server side, answered with "400 Bad Request").
	ErrRequest = errors.New("invalid handshake request")

	// ErrResponse indicates an invalid opening-handshake response
	// (client side, e.g. a bad "Sec-WebSocket-Accept" value).
	ErrResponse = errors.New("invalid handshake response")

	// ErrNoData indicates that the peer closed the underlying
	// transport cleanly, without sending a close frame first.
	ErrNoData = errors.New("no data available")

	// ErrHTTP indicates a failure to parse handshake headers.
	ErrHTTP = errors.New("HTTP parsing error")

	// ErrURL indicates a malformed endpoint URL.
	ErrURL = errors.New("URL parsing error")

	// ErrInvalidScheme indicates an endpoint URL scheme other than "ws" or "wss".
	ErrInvalidScheme = errors.New("invalid WebSocket URL scheme")

	// ErrNoHostName indicates an endpoint URL without a host name or IP address.
	ErrNoHostName = errors.New("no host name in WebSocket URL")

	// ErrFragment indicates an endpoint URL with a fragment,
	// which is not allowed in WebSocket URLs.
	ErrFragment = errors.New("fragment in WebSocket URL")

	// ErrUTF8 indicates invalid UTF-8 in a text message or close reason.
	// The appropriate response is a close frame with status 1007.
	ErrUTF8 = errors.New("invalid UTF-8")

	// ErrTLSHandshake indicates a TLS handshake
	// failure reported by the transport.
	ErrTLSHandshake = errors.New("TLS handshake failure")
)

// Protocol reports an RFC 6455 violation by the peer.
func Protocol(msg string) error {
	return fmt.Errorf("%w: %s", ErrProtocol, msg)
}

// DataFrame reports invalid on-wire framing.
func DataFrame(msg string) error {
	return fmt.Errorf("%w: %s", ErrDataFrame, msg)
}

// Request reports an invalid opening-handshake request.
func Request(msg string) error {
	return fmt.Errorf("%w: %s", ErrRequest, msg)
}

// Response reports an invalid opening-handshake response.
func Response(msg string) error {
	return fmt.Errorf("%w: %s", ErrResponse, msg)
}

// IO translates errors from the underlying transport: a clean EOF
// becomes [ErrNoData], anything else is surfaced verbatim.
func IO(err error) error {
	if errors.Is(err, io.EOF) {
		return ErrNoData
	}
	return err
}
