package frame

import (
	"encoding/binary"
	"io"

	"github.com/tzrikka/duplex/pkg/wserr"
)

// Payload length markers in the second header byte
// (https://datatracker.ietf.org/doc/html/rfc6455#section-5.2).
const (
	payloadLen7Bit  = 125 // 0-125: the length itself
	payloadLen16Bit = 126 // followed by a 16-bit big-endian length
	payloadLen64Bit = 127 // followed by a 64-bit big-endian length
)

// MaxControlPayload is the maximum payload length of control frames
// (https://datatracker.ietf.org/doc/html/rfc6455#section-5.5).
const MaxControlPayload = 125

// Header is the decoded form of the 2-14 byte WebSocket frame header:
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-------+-+-------------+-------------------------------+
//	|F|R|R|R| opcode|M| Payload len |    Extended payload length    |
//	|I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
//	|N|V|V|V|       |S|             |   (if payload len==126/127)   |
//	| |1|2|3|       |K|             |                               |
//	+-+-+-+-+-------+-+-------------+ - - - - - - - - - - - - - - - +
//	|     Extended payload length continued, if payload len == 127  |
//	+ - - - - - - - - - - - - - - - +-------------------------------+
//	|                               |Masking-key, if MASK set to 1  |
//	+-------------------------------+-------------------------------+
type Header struct {
	// Fin indicates the final fragment of a message.
	Fin bool
	// Rsv carries the 3 reserved bits, which must be 0
	// unless an extension was negotiated to define them.
	Rsv [3]bool
	// Opcode is the frame's 4-bit interpretation tag.
	Opcode Opcode
	// Mask is the 4-byte masking key, or nil when the payload is unmasked.
	// Client-to-server frames must be masked, server-to-client ones must not.
	Mask *[4]byte
	// Length is the payload length in bytes (must fit in 63 bits).
	Length uint64
}

// WriteHeader writes a frame header in the exact RFC 6455 layout,
// choosing the minimal payload length encoding.
func WriteHeader(w io.Writer, h Header) error {
	if h.Opcode > 0xF {
		return wserr.DataFrame("invalid data frame opcode")
	}
	if h.Opcode.IsControl() {
		if h.Length > MaxControlPayload {
			return wserr.DataFrame("control frame length too long")
		}
		if !h.Fin {
			return wserr.Protocol("illegal fragmented control frame")
		}
	}
	if h.Length > 1<<63-1 {
		return wserr.DataFrame("data frame length exceeds 63 bits")
	}

	buf := make([]byte, 2, 14)
	if h.Fin {
		buf[0] |= 0x80
	}
	if h.Rsv[0] {
		buf[0] |= 0x40
	}
	if h.Rsv[1] {
		buf[0] |= 0x20
	}
	if h.Rsv[2] {
		buf[0] |= 0x10
	}
	buf[0] |= byte(h.Opcode)

	if h.Mask != nil {
		buf[1] |= 0x80
	}
	switch {
	case h.Length <= payloadLen7Bit:
		buf[1] |= byte(h.Length)
	case h.Length <= 0xFFFF:
		buf[1] |= payloadLen16Bit
		buf = binary.BigEndian.AppendUint16(buf, uint16(h.Length))
	default:
		buf[1] |= payloadLen64Bit
		buf = binary.BigEndian.AppendUint64(buf, h.Length)
	}

	if h.Mask != nil {
		buf = append(buf, h.Mask[:]...)
	}

	if _, err := w.Write(buf); err != nil {
		return err
	}
	return nil
}

// ReadHeader reads and validates a frame header.
//
// It rejects non-minimal length encodings, oversized control frames,
// and fragmented control frames. A clean EOF before the first header
// byte is reported as [wserr.ErrNoData], an EOF inside the header as
// [io.ErrUnexpectedEOF]; any other transport failure is surfaced verbatim.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header

	var b [2]byte
	if _, err := io.ReadFull(r, b[:1]); err != nil {
		return h, wserr.IO(err)
	}
	if _, err := io.ReadFull(r, b[1:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return h, err
	}

	h.Fin = b[0]&0x80 != 0
	h.Rsv = [3]bool{b[0]&0x40 != 0, b[0]&0x20 != 0, b[0]&0x10 != 0}
	h.Opcode = Opcode(b[0] & 0x0F)

	switch lenMarker := b[1] & 0x7F; lenMarker {
	case payloadLen16Bit:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return h, err
		}
		h.Length = uint64(binary.BigEndian.Uint16(ext[:]))
		if h.Length <= payloadLen7Bit {
			return h, wserr.DataFrame("invalid data frame length")
		}
	case payloadLen64Bit:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return h, err
		}
		h.Length = binary.BigEndian.Uint64(ext[:])
		if h.Length <= 0xFFFF {
			return h, wserr.DataFrame("invalid data frame length")
		}
		if h.Length&(1<<63) != 0 {
			return h, wserr.DataFrame("data frame length exceeds 63 bits")
		}
	default:
		h.Length = uint64(lenMarker)
	}

	if h.Opcode.IsControl() {
		if h.Length >= payloadLen16Bit {
			return h, wserr.DataFrame("control frame length too long")
		}
		if !h.Fin {
			return h, wserr.Protocol("illegal fragmented control frame")
		}
	}

	if b[1]&0x80 != 0 {
		var key [4]byte
		if _, err := io.ReadFull(r, key[:]); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return h, err
		}
		h.Mask = &key
	}

	return h, nil
}
