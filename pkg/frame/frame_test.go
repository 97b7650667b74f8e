package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tzrikka/duplex/pkg/wserr"
)

func TestRead(t *testing.T) {
	tests := []struct {
		name         string
		input        []byte
		expectMasked bool
		want         Frame
		wantErr      error
	}{
		{
			name:  "unmasked_text_hello",
			input: []byte{0x81, 0x05, 0x48, 0x65, 0x6C, 0x6C, 0x6F},
			want:  Frame{Fin: true, Opcode: OpcodeText, Payload: []byte("Hello")},
		},
		{
			name: "masked_text_hello",
			input: []byte{
				0x81, 0x85, 0x10, 0x20, 0x30, 0x40,
				0x48 ^ 0x10, 0x65 ^ 0x20, 0x6C ^ 0x30, 0x6C ^ 0x40, 0x6F ^ 0x10,
			},
			expectMasked: true,
			want:         Frame{Fin: true, Opcode: OpcodeText, Payload: []byte("Hello")},
		},
		{
			name:  "empty_close",
			input: []byte{0x88, 0x00},
			want:  Frame{Fin: true, Opcode: OpcodeClose},
		},
		{
			name:         "unmasked_but_expected_masked",
			input:        []byte{0x81, 0x05, 0x48, 0x65, 0x6C, 0x6C, 0x6F},
			expectMasked: true,
			wantErr:      wserr.ErrDataFrame,
		},
		{
			name:    "masked_but_expected_unmasked",
			input:   []byte{0x81, 0x85, 1, 2, 3, 4, 0, 0, 0, 0, 0},
			wantErr: wserr.ErrDataFrame,
		},
		{
			name:    "truncated_payload",
			input:   []byte{0x82, 0x05, 0x01, 0x02},
			wantErr: io.ErrUnexpectedEOF,
		},
		{
			name:    "oversized_ping",
			input:   []byte{0x89, 0x7E, 0x00, 0x7E},
			wantErr: wserr.ErrDataFrame,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bytes.NewReader(tt.input)
			got, err := Read(r, tt.expectMasked)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Read() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Read() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// An oversized control frame must be rejected from its header alone,
// without attempting to consume its announced payload.
func TestReadOversizedControlLeavesPayloadUnread(t *testing.T) {
	input := []byte{0x89, 0x7E, 0x00, 0x7E, 0xAA, 0xBB, 0xCC}
	r := bytes.NewReader(input)

	if _, err := Read(r, false); !errors.Is(err, wserr.ErrDataFrame) {
		t.Fatalf("Read() error = %v, want %v", err, wserr.ErrDataFrame)
	}
	if r.Len() != 3 {
		t.Errorf("Read() consumed %d payload bytes, want 0", 3-r.Len())
	}
}

func TestWriteUnmasked(t *testing.T) {
	var buf bytes.Buffer
	f := New(true, OpcodeText, []byte("Hello"))
	if err := Write(&buf, f, false); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	want := []byte{0x81, 0x05, 0x48, 0x65, 0x6C, 0x6C, 0x6F}
	if got := buf.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("Write() wrote %x, want %x", got, want)
	}
}

func TestWriteMasked(t *testing.T) {
	payload := []byte("Hello")
	var buf bytes.Buffer
	if err := Write(&buf, New(true, OpcodeText, payload), true); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	b := buf.Bytes()
	if len(b) != 2+4+len(payload) {
		t.Fatalf("Write() wrote %d bytes, want %d", len(b), 2+4+len(payload))
	}
	if b[0] != 0x81 || b[1] != 0x85 {
		t.Errorf("Write() header = %x %x, want 81 85", b[0], b[1])
	}

	key := [4]byte(b[2:6])
	data := bytes.Clone(b[6:])
	Mask(data, key)
	if !bytes.Equal(data, payload) {
		t.Errorf("unmasked payload = %x, want %x", data, payload)
	}

	if !bytes.Equal(payload, []byte("Hello")) {
		t.Errorf("Write() modified the caller's payload: %x", payload)
	}
}

func TestWriteReadRoundtrip(t *testing.T) {
	frames := []Frame{
		New(true, OpcodeText, []byte("short")),
		New(false, OpcodeBinary, bytes.Repeat([]byte{7}, 300)),
		New(true, OpcodeContinuation, bytes.Repeat([]byte{8}, 70000)),
		New(true, OpcodePing, []byte("ping")),
		New(true, OpcodeClose, nil),
	}

	for _, masked := range []bool{false, true} {
		for _, f := range frames {
			var buf bytes.Buffer
			if err := Write(&buf, f, masked); err != nil {
				t.Fatalf("Write(%v, masked=%t) error = %v", f.Opcode, masked, err)
			}
			got, err := Read(&buf, masked)
			if err != nil {
				t.Fatalf("Read(%v, masked=%t) error = %v", f.Opcode, masked, err)
			}
			if diff := cmp.Diff(f, got); diff != "" {
				t.Errorf("frame roundtrip (masked=%t) mismatch (-want +got):\n%s", masked, diff)
			}
		}
	}
}
