package frame

import (
	"io"

	"github.com/tzrikka/duplex/pkg/wserr"
)

// Frame is one atomic unit on the wire. Its payload is never masked:
// masking and unmasking happen during [Write] and [Read].
type Frame struct {
	// Fin indicates the final fragment of a message.
	Fin bool
	// Rsv carries the 3 extension-reserved bits.
	Rsv [3]bool
	// Opcode is the frame's 4-bit interpretation tag.
	Opcode Opcode
	// Payload is the frame's unmasked payload data.
	Payload []byte
}

// New returns a data frame with no reserved bits set.
func New(fin bool, opcode Opcode, payload []byte) Frame {
	return Frame{Fin: fin, Opcode: opcode, Payload: payload}
}

// Read reads one complete frame: a header followed by exactly
// as many payload bytes as the header announces.
//
// expectMasked asserts the direction of the frame: servers expect
// masked frames from clients, clients expect unmasked frames from
// servers. A mismatch with the header's MASK bit is reported as a
// [wserr.ErrDataFrame]. Masked payloads are unmasked in place, so
// the returned frame is always unmasked.
func Read(r io.Reader, expectMasked bool) (Frame, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Frame{}, err
	}

	if expectMasked && h.Mask == nil {
		return Frame{}, wserr.DataFrame("expected masked data frame")
	}
	if !expectMasked && h.Mask != nil {
		return Frame{}, wserr.DataFrame("expected unmasked data frame")
	}

	f := Frame{Fin: h.Fin, Rsv: h.Rsv, Opcode: h.Opcode}
	if h.Length > 0 {
		f.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return Frame{}, err
		}
		if h.Mask != nil {
			Mask(f.Payload, *h.Mask)
		}
	}

	return f, nil
}

// Write writes one complete frame. When mask is true (client side),
// the payload is sent XORed with a fresh masking key; f.Payload
// itself is left untouched.
func Write(w io.Writer, f Frame, mask bool) error {
	h := Header{
		Fin:    f.Fin,
		Rsv:    f.Rsv,
		Opcode: f.Opcode,
		Length: uint64(len(f.Payload)),
	}

	payload := f.Payload
	if mask {
		key := NewMaskingKey()
		h.Mask = &key
		payload = make([]byte, len(f.Payload))
		copy(payload, f.Payload)
		Mask(payload, key)
	}

	if err := WriteHeader(w, h); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}
