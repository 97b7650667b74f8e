package session

import (
	"github.com/rs/zerolog"

	"github.com/tzrikka/duplex/pkg/frame"
	"github.com/tzrikka/duplex/pkg/message"
	"github.com/tzrikka/duplex/pkg/stream"
	"github.com/tzrikka/duplex/pkg/wserr"
)

// Sender is the write half of a session. It is not safe for
// concurrent use: a session supports exactly one writer.
type Sender struct {
	logger *zerolog.Logger
	s      stream.Stream
	side   Side
	st     *connState
	exts   []Extension
}

func newSender(logger *zerolog.Logger, s stream.Stream, side Side, st *connState, exts []Extension) *Sender {
	return &Sender{logger: logger, s: s, side: side, st: st, exts: exts}
}

// SendFrame writes one frame and blocks until it is flushed. The
// frame is masked exactly when the local side is the client.
//
// Most callers should use [Sender.SendMessage]; this is the escape
// hatch for manual fragmentation: clear Fin on every non-final
// fragment, and use the continuation opcode after the first.
// Control frames must never be fragmented.
func (s *Sender) SendFrame(f frame.Frame) error {
	if err := applyOutgoing(s.exts, &f); err != nil {
		return err
	}

	if err := frame.Write(s.s, f, s.side == ClientSide); err != nil {
		return err
	}
	if err := s.s.Flush(); err != nil {
		return err
	}

	s.logger.Trace().Str("opcode", f.Opcode.String()).Int("length", len(f.Payload)).
		Bool("fin", f.Fin).Msg("sent WebSocket frame")
	return nil
}

// SendMessage writes one message as a single final frame.
//
// Close messages participate in the closing handshake: only the first
// one is written (subsequent ones are silently dropped, since the
// protocol allows exactly one close frame per direction), and status
// codes that are reserved for local signaling (1005, 1006, 1015) are
// rejected before they can reach the wire.
func (s *Sender) SendMessage(m message.Message) error {
	if m.Opcode == frame.OpcodeClose {
		return s.sendClose(m)
	}

	if err := s.SendFrame(m.Frame()); err != nil {
		return err
	}

	s.logger.Debug().Str("opcode", m.Opcode.String()).Int("length", len(m.Data)).
		Msg("sent WebSocket message")
	return nil
}

// SendClose sends a close frame with the given status code and
// reason (truncated to 123 bytes). Like [Sender.SendMessage] with
// a close message, it's a no-op if a close frame was already sent.
func (s *Sender) SendClose(status message.StatusCode, reason string) error {
	return s.sendClose(message.Close(status, reason))
}

func (s *Sender) sendClose(m message.Message) error {
	status, reason, err := m.CloseStatus()
	if err != nil {
		return err
	}
	// An empty payload is fine, an explicit reserved code is not.
	if len(m.Data) > 0 && !status.WireAllowed() {
		return wserr.Protocol("close status code is reserved and must not be sent")
	}

	if !s.st.markCloseSent() {
		return nil
	}

	if err := s.SendFrame(m.Frame()); err != nil {
		return err
	}

	s.logger.Debug().Str("close_status", status.String()).Str("close_reason", reason).
		Msg("sent WebSocket close frame")
	return nil
}

// Shutdown half-closes the outbound direction of the transport.
// Outstanding and subsequent writes fail immediately.
func (s *Sender) Shutdown() error {
	return s.s.Shutdown(stream.Write)
}

// ShutdownAll closes both directions of the transport, on
// behalf of the receive half too.
func (s *Sender) ShutdownAll() error {
	return s.s.Shutdown(stream.Both)
}

// State returns the session's lifecycle position.
func (s *Sender) State() State {
	return s.st.state()
}
