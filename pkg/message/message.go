// Package message defines the logical application-level unit of a
// WebSocket conversation, and its conversion to and from wire frames.
//
// Text and binary messages may span multiple frames; control messages
// (close, ping, pong) always occupy exactly one. The fragmentation
// state machine that collects frame sequences off a live stream lives
// in the session layer; this package only validates and converts
// already-collected sequences.
package message

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/tzrikka/duplex/pkg/frame"
	"github.com/tzrikka/duplex/pkg/wserr"
)

// Message is a logical application-level unit: a text, binary,
// close, ping, or pong payload.
type Message struct {
	// Opcode is one of [frame.OpcodeText], [frame.OpcodeBinary],
	// [frame.OpcodeClose], [frame.OpcodePing], or [frame.OpcodePong]
	// (never a continuation).
	Opcode frame.Opcode
	// Data is the message payload. For close
	// messages it's the encoded status + reason.
	Data []byte
}

// Text returns a UTF-8 text message.
func Text(s string) Message {
	return Message{Opcode: frame.OpcodeText, Data: []byte(s)}
}

// Binary returns a binary message.
func Binary(data []byte) Message {
	return Message{Opcode: frame.OpcodeBinary, Data: data}
}

// Ping returns a ping message. The payload is limited to 125 bytes.
func Ping(data []byte) Message {
	return Message{Opcode: frame.OpcodePing, Data: data}
}

// Pong returns a pong message, usually carrying
// the same payload as the ping it answers.
func Pong(data []byte) Message {
	return Message{Opcode: frame.OpcodePong, Data: data}
}

// Close returns a close message with a status code and an optional
// reason. Use [CloseEmpty] for a close frame without a status code.
func Close(s StatusCode, reason string) Message {
	return Message{Opcode: frame.OpcodeClose, Data: EncodeClose(s, reason)}
}

// CloseEmpty returns a close message with an empty payload,
// signaling closure without a status code.
func CloseEmpty() Message {
	return Message{Opcode: frame.OpcodeClose}
}

// CloseStatus parses the status code and reason of a close message.
// Messages with other opcodes yield [StatusNotReceived].
func (m Message) CloseStatus() (StatusCode, string, error) {
	if m.Opcode != frame.OpcodeClose {
		return StatusNotReceived, "", nil
	}
	return ParseClose(m.Data)
}

// Frame returns the message as a single final frame, which is how the
// send path emits messages by default: senders that fragment instead
// must clear Fin on all but the last frame, and switch the opcode to
// continuation after the first.
func (m Message) Frame() frame.Frame {
	return frame.New(true, m.Opcode, m.Data)
}

// FromFrames assembles one message from the given frame sequence:
// a first frame carrying the opcode, optionally followed by
// continuation frames, with the last frame marked final.
//
// Control frames must not be interleaved in the sequence; the caller
// is expected to have surfaced them already. Assembled text payloads
// must be valid UTF-8.
func FromFrames(frames []frame.Frame) (Message, error) {
	if len(frames) == 0 {
		return Message{}, wserr.Protocol("no data frames provided")
	}

	first := frames[0]
	if first.Opcode == frame.OpcodeContinuation {
		return Message{}, wserr.Protocol("unexpected continuation data frame")
	}

	var buf bytes.Buffer
	for i, f := range frames {
		if i > 0 && f.Opcode != frame.OpcodeContinuation {
			return Message{}, wserr.Protocol("unexpected non-continuation data frame")
		}
		if f.Rsv != [3]bool{} {
			return Message{}, wserr.Protocol("unsupported reserved bits received")
		}
		buf.Write(f.Payload)
	}

	m := Message{Opcode: first.Opcode, Data: buf.Bytes()}
	if m.Opcode == frame.OpcodeText && !utf8.Valid(m.Data) {
		return Message{}, fmt.Errorf("%w: %w", wserr.ErrProtocol, wserr.ErrUTF8)
	}
	if m.Opcode == frame.OpcodeClose {
		if _, _, err := ParseClose(m.Data); err != nil {
			return Message{}, err
		}
	}

	return m, nil
}
