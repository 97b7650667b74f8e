package session

import (
	"github.com/tzrikka/duplex/pkg/frame"
	"github.com/tzrikka/duplex/pkg/wserr"
)

// Extension is one stage of the frame transform pipeline negotiated
// during the opening handshake. Incoming frames pass through every
// stage in negotiation order before reassembly; outgoing frames pass
// through in reverse order before hitting the wire.
//
// An extension owns the reserved header bits it declares: it sets
// them on outgoing frames, and must consume (clear) them on incoming
// ones. Reserved bits that no extension claims are a protocol
// violation when set by the peer.
//
// The core ships no payload-transforming extensions: compression
// ("permessage-deflate") is a plug-in implementing this interface
// on top of the negotiated parameters.
type Extension interface {
	// Name is the extension's token in "Sec-WebSocket-Extensions".
	Name() string

	// Reserved declares which of the 3 reserved
	// header bits this extension owns.
	Reserved() [3]bool

	// OnIncoming transforms a frame read off the wire,
	// clearing the reserved bits it consumed.
	OnIncoming(f *frame.Frame) error

	// OnOutgoing transforms a frame about to be written,
	// setting reserved bits as needed.
	OnOutgoing(f *frame.Frame) error
}

// applyIncoming runs a frame through the pipeline and verifies that
// no unclaimed reserved bits survive it.
func applyIncoming(exts []Extension, f *frame.Frame) error {
	for _, ext := range exts {
		if err := ext.OnIncoming(f); err != nil {
			return err
		}
	}

	if f.Rsv != [3]bool{} {
		return wserr.Protocol("unsupported reserved bits received")
	}
	return nil
}

func applyOutgoing(exts []Extension, f *frame.Frame) error {
	for i := len(exts) - 1; i >= 0; i-- {
		if err := exts[i].OnOutgoing(f); err != nil {
			return err
		}
	}
	return nil
}
