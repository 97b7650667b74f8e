package message

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tzrikka/duplex/pkg/frame"
	"github.com/tzrikka/duplex/pkg/wserr"
)

func TestFromFrames(t *testing.T) {
	tests := []struct {
		name    string
		frames  []frame.Frame
		want    Message
		wantErr error
	}{
		{
			name:    "no_frames",
			wantErr: wserr.ErrProtocol,
		},
		{
			name:   "single_text",
			frames: []frame.Frame{frame.New(true, frame.OpcodeText, []byte("Hello"))},
			want:   Text("Hello"),
		},
		{
			name: "fragmented_binary",
			frames: []frame.Frame{
				frame.New(false, frame.OpcodeBinary, []byte{1, 2, 3}),
				frame.New(false, frame.OpcodeContinuation, nil),
				frame.New(true, frame.OpcodeContinuation, []byte{4, 5}),
			},
			want: Binary([]byte{1, 2, 3, 4, 5}),
		},
		{
			name: "fragmented_text_split_rune",
			frames: []frame.Frame{
				frame.New(false, frame.OpcodeText, []byte{0xD7, 0xA9, 0xD7}),
				frame.New(true, frame.OpcodeContinuation, []byte{0x9C, 0xD7, 0x95, 0xD7, 0x9D}),
			},
			want: Text("שלום"),
		},
		{
			name:    "leading_continuation",
			frames:  []frame.Frame{frame.New(true, frame.OpcodeContinuation, []byte("x"))},
			wantErr: wserr.ErrProtocol,
		},
		{
			name: "non_continuation_follow_up",
			frames: []frame.Frame{
				frame.New(false, frame.OpcodeText, []byte("a")),
				frame.New(true, frame.OpcodeText, []byte("b")),
			},
			wantErr: wserr.ErrProtocol,
		},
		{
			name: "reserved_bits",
			frames: []frame.Frame{
				{Fin: true, Rsv: [3]bool{true, false, false}, Opcode: frame.OpcodeText, Payload: []byte("a")},
			},
			wantErr: wserr.ErrProtocol,
		},
		{
			name:    "invalid_utf8_text",
			frames:  []frame.Frame{frame.New(true, frame.OpcodeText, []byte{0xC0, 0xC1})},
			wantErr: wserr.ErrUTF8,
		},
		{
			name:   "ping",
			frames: []frame.Frame{frame.New(true, frame.OpcodePing, []byte("ping"))},
			want:   Ping([]byte("ping")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromFrames(tt.frames)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("FromFrames() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("FromFrames() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMessageFrameRoundtrip(t *testing.T) {
	msgs := []Message{
		Text("Hello"),
		Binary([]byte{0, 1, 2, 3}),
		Ping([]byte("ping")),
		Pong(nil),
		Close(StatusNormalClosure, "bye"),
	}

	for _, m := range msgs {
		f := m.Frame()
		if !f.Fin {
			t.Errorf("Message(%v).Frame().Fin = false, want true", m.Opcode)
		}

		got, err := FromFrames([]frame.Frame{f})
		if err != nil {
			t.Fatalf("FromFrames(%v) error = %v", m.Opcode, err)
		}
		if diff := cmp.Diff(m, got); diff != "" {
			t.Errorf("message roundtrip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestParseClose(t *testing.T) {
	tests := []struct {
		name       string
		payload    []byte
		wantStatus StatusCode
		wantReason string
		wantErr    error
	}{
		{
			name:       "empty",
			payload:    nil,
			wantStatus: StatusNotReceived,
		},
		{
			name:    "one_byte",
			payload: []byte{0x03},
			wantErr: wserr.ErrProtocol,
		},
		{
			name:       "code_only",
			payload:    []byte{0x03, 0xE8},
			wantStatus: StatusNormalClosure,
		},
		{
			name:       "code_and_reason",
			payload:    append([]byte{0x03, 0xEA}, "bad frame"...),
			wantStatus: StatusProtocolError,
			wantReason: "bad frame",
		},
		{
			name:    "invalid_utf8_reason",
			payload: []byte{0x03, 0xE8, 0xC0, 0xC1},
			wantErr: wserr.ErrUTF8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, reason, err := ParseClose(tt.payload)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseClose() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if status != tt.wantStatus {
				t.Errorf("ParseClose() status = %v, want %v", status, tt.wantStatus)
			}
			if reason != tt.wantReason {
				t.Errorf("ParseClose() reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestEncodeClose(t *testing.T) {
	got := EncodeClose(StatusNormalClosure, "done")
	want := append([]byte{0x03, 0xE8}, "done"...)
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeClose() = %x, want %x", got, want)
	}

	long := string(bytes.Repeat([]byte{'r'}, 200))
	got = EncodeClose(StatusGoingAway, long)
	if len(got) != 2+MaxCloseReason {
		t.Errorf("EncodeClose() length = %d, want %d", len(got), 2+MaxCloseReason)
	}
}

func TestStatusCodeWireAllowed(t *testing.T) {
	for _, s := range []StatusCode{StatusNotReceived, StatusClosedAbnormally, StatusTLSHandshake} {
		if s.WireAllowed() {
			t.Errorf("StatusCode(%d).WireAllowed() = true, want false", uint16(s))
		}
	}
	for _, s := range []StatusCode{StatusNormalClosure, StatusProtocolError, StatusInvalidData, 3000, 4999} {
		if !s.WireAllowed() {
			t.Errorf("StatusCode(%d).WireAllowed() = false, want true", uint16(s))
		}
	}
}
