package session

import (
	"bytes"
	"io"
	"iter"

	"github.com/rs/zerolog"

	"github.com/tzrikka/duplex/pkg/frame"
	"github.com/tzrikka/duplex/pkg/message"
	"github.com/tzrikka/duplex/pkg/stream"
	"github.com/tzrikka/duplex/pkg/wserr"
)

// Receiver is the read half of a session. It is not safe for
// concurrent use: a session supports exactly one reader.
type Receiver struct {
	logger *zerolog.Logger
	s      stream.Stream
	r      io.Reader
	side   Side
	st     *connState
	exts   []Extension

	// fragments buffers the data frames of a partially-received
	// message. It lives here rather than on the call stack so that
	// control frames interleaved mid-message can be surfaced
	// immediately without losing reassembly progress.
	fragments []frame.Frame
}

func newReceiver(logger *zerolog.Logger, s stream.Stream, side Side, st *connState, leftover []byte, exts []Extension) *Receiver {
	r := io.Reader(s)
	if len(leftover) > 0 {
		r = io.MultiReader(bytes.NewReader(leftover), s)
	}
	return &Receiver{logger: logger, s: s, r: r, side: side, st: st, exts: exts}
}

// RecvFrame reads one frame, blocking until its header and payload
// have arrived in full. Servers expect masked frames, clients expect
// unmasked ones; the returned frame is always unmasked.
func (r *Receiver) RecvFrame() (frame.Frame, error) {
	f, err := frame.Read(r.r, r.side == ServerSide)
	if err != nil {
		return frame.Frame{}, err
	}

	if err := applyIncoming(r.exts, &f); err != nil {
		return frame.Frame{}, err
	}

	r.logger.Trace().Str("opcode", f.Opcode.String()).Int("length", len(f.Payload)).
		Bool("fin", f.Fin).Msg("received WebSocket frame")
	return f, nil
}

// RecvMessage reads frames until one complete message is available.
//
// Control frames interleaved between the fragments of a data message
// are returned immediately, ahead of the message they interrupt; the
// partial reassembly state is kept for subsequent calls. Ping frames
// are NOT answered automatically - the caller is responsible for
// sending a pong with an identical payload.
//
// Protocol violations (unexpected continuation, a new data frame
// mid-message, invalid UTF-8 in a text message) are fatal for the
// read direction; the appropriate reaction is to send a close frame
// with status 1002 (or 1007 for [wserr.ErrUTF8]) and shut down.
func (r *Receiver) RecvMessage() (message.Message, error) {
	for {
		f, err := r.RecvFrame()
		if err != nil {
			return message.Message{}, err
		}

		if f.Opcode.IsControl() {
			m, err := r.controlMessage(f)
			if err != nil {
				return message.Message{}, err
			}
			return m, nil
		}

		switch f.Opcode {
		case frame.OpcodeContinuation:
			if len(r.fragments) == 0 {
				return message.Message{}, wserr.Protocol("unexpected continuation data frame")
			}
		case frame.OpcodeText, frame.OpcodeBinary:
			if len(r.fragments) > 0 {
				return message.Message{}, wserr.Protocol("unexpected non-continuation data frame")
			}
		default:
			return message.Message{}, wserr.Protocol("unsupported data frame opcode")
		}

		r.fragments = append(r.fragments, f)
		if !f.Fin {
			continue
		}

		frames := r.fragments
		r.fragments = nil
		m, err := message.FromFrames(frames)
		if err != nil {
			return message.Message{}, err
		}

		r.logger.Debug().Str("opcode", m.Opcode.String()).Int("length", len(m.Data)).
			Int("frames", len(frames)).Msg("received WebSocket message")
		return m, nil
	}
}

// controlMessage converts a single control frame into a message,
// and tracks close frames in the session state.
func (r *Receiver) controlMessage(f frame.Frame) (message.Message, error) {
	if f.Opcode.IsReserved() {
		return message.Message{}, wserr.Protocol("unsupported control frame opcode")
	}

	m, err := message.FromFrames([]frame.Frame{f})
	if err != nil {
		return message.Message{}, err
	}

	if f.Opcode == frame.OpcodeClose {
		r.st.markCloseReceived()
		status, reason, _ := m.CloseStatus()
		r.logger.Debug().Str("close_status", status.String()).Str("close_reason", reason).
			Msg("received WebSocket close frame")
	}

	return m, nil
}

// IncomingFrames returns a lazy iterator over incoming frames.
//
// Errors are yielded as items, never swallowed: each error ends the
// current iteration, but the iterator is restartable - ranging again
// resumes reading from the stream, which is meaningful only if the
// error wasn't fatal for the transport.
func (r *Receiver) IncomingFrames() iter.Seq2[frame.Frame, error] {
	return func(yield func(frame.Frame, error) bool) {
		for {
			f, err := r.RecvFrame()
			if !yield(f, err) || err != nil {
				return
			}
		}
	}
}

// IncomingMessages returns a lazy iterator over incoming messages.
//
// Errors are yielded as items, never swallowed: an error (or a close
// message) ends the current iteration, but the iterator is
// restartable - ranging again resumes reading from the stream, which
// is meaningful only if the error wasn't fatal for the transport.
func (r *Receiver) IncomingMessages() iter.Seq2[message.Message, error] {
	return func(yield func(message.Message, error) bool) {
		for {
			m, err := r.RecvMessage()
			if !yield(m, err) || err != nil || m.Opcode == frame.OpcodeClose {
				return
			}
		}
	}
}

// Shutdown half-closes the inbound direction of the transport.
// Outstanding and subsequent reads fail immediately.
func (r *Receiver) Shutdown() error {
	return r.s.Shutdown(stream.Read)
}

// ShutdownAll closes both directions of the transport, on
// behalf of the send half too.
func (r *Receiver) ShutdownAll() error {
	return r.s.Shutdown(stream.Both)
}

// State returns the session's lifecycle position.
func (r *Receiver) State() State {
	return r.st.state()
}
