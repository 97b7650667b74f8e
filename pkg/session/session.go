// Package session exposes an open WebSocket connection as a pair of
// send and receive halves that independent goroutines can drive
// concurrently without corrupting the protocol stream.
//
// A [Session] supports exactly one concurrent reader and one
// concurrent writer. [Session.Split] hands out exclusive ownership
// of each half; neither half supports concurrent use of itself.
package session

import (
	"context"
	"sync"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"

	"github.com/tzrikka/duplex/pkg/message"
	"github.com/tzrikka/duplex/pkg/stream"
)

// Side distinguishes the two ends of a connection: clients mask every
// outgoing frame and expect unmasked incoming ones, servers do the
// exact opposite.
type Side int

const (
	// ClientSide is the endpoint that initiated the opening handshake.
	ClientSide Side = iota
	// ServerSide is the endpoint that accepted the opening handshake.
	ServerSide
)

// State is the lifecycle position of a session.
type State int

const (
	// Open means no close frame was sent or received yet.
	Open State = iota
	// ClosingLocal means the local side has sent a close frame
	// and is waiting for the peer's.
	ClosingLocal
	// ClosingPeer means the peer has sent a close frame
	// and the local side hasn't answered it yet.
	ClosingPeer
	// Closed means both sides have observed the closing handshake.
	Closed
)

// connState is the only state the two halves share after a split:
// the closing handshake must be coordinated across both directions,
// since close frames travel in each of them.
type connState struct {
	mu            sync.Mutex
	closeSent     bool
	closeReceived bool
}

func (cs *connState) state() State {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch {
	case cs.closeSent && cs.closeReceived:
		return Closed
	case cs.closeSent:
		return ClosingLocal
	case cs.closeReceived:
		return ClosingPeer
	default:
		return Open
	}
}

// markCloseSent records an outgoing close frame. It reports false if
// one was already sent: the closing handshake allows exactly one close
// frame per direction, so callers must skip the send in that case.
func (cs *connState) markCloseSent() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.closeSent {
		return false
	}
	cs.closeSent = true
	return true
}

func (cs *connState) markCloseReceived() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.closeReceived = true
}

// Session is an open WebSocket connection, created by a successful
// client or server handshake.
type Session struct {
	sender   *Sender
	receiver *Receiver
}

// Option configures a new [Session].
type Option func(*config)

type config struct {
	leftover   []byte
	extensions []Extension
}

// WithLeftover prepends bytes to the read half of the session. The
// handshake may have consumed the beginning of the peer's frame data
// while parsing headers; this hands those bytes back.
func WithLeftover(b []byte) Option {
	return func(c *config) {
		c.leftover = b
	}
}

// WithExtensions installs the extension pipeline negotiated during
// the handshake, in negotiation order.
func WithExtensions(exts ...Extension) Option {
	return func(c *config) {
		c.extensions = exts
	}
}

// New wraps an open byte stream, right after a successful handshake,
// in a Session. The context is used only to extract the logger that
// the session (and its two halves) will log with.
func New(ctx context.Context, s stream.Stream, side Side, opts ...Option) *Session {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	logger := zerolog.Ctx(ctx).With().Str("conn_id", shortuuid.New()).Logger()
	cs := &connState{}

	// When the transport can mint independent handles, each
	// half gets its own, so one can be shut down or read while
	// the other is written.
	writeHalf := s
	if c, ok := s.(stream.Cloner); ok {
		if clone, err := c.TryClone(); err == nil {
			writeHalf = clone
		}
	}

	return &Session{
		sender:   newSender(&logger, writeHalf, side, cs, cfg.extensions),
		receiver: newReceiver(&logger, s, side, cs, cfg.leftover, cfg.extensions),
	}
}

// Split consumes the session and returns its two halves, which may be
// moved to separate goroutines. The session itself must not be used
// after this call.
func (s *Session) Split() (*Sender, *Receiver) {
	return s.sender, s.receiver
}

// SendMessage writes one message, see [Sender.SendMessage].
func (s *Session) SendMessage(m message.Message) error {
	return s.sender.SendMessage(m)
}

// SendClose sends a close frame at most once, see [Sender.SendClose].
func (s *Session) SendClose(status message.StatusCode, reason string) error {
	return s.sender.SendClose(status, reason)
}

// RecvMessage reads one complete message, see [Receiver.RecvMessage].
func (s *Session) RecvMessage() (message.Message, error) {
	return s.receiver.RecvMessage()
}

// ShutdownAll closes both directions of the transport.
func (s *Session) ShutdownAll() error {
	return s.sender.ShutdownAll()
}

// State returns the session's lifecycle position.
func (s *Session) State() State {
	return s.sender.st.state()
}
