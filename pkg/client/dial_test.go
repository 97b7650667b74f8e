package client

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tzrikka/duplex/pkg/frame"
	"github.com/tzrikka/duplex/pkg/handshake"
	"github.com/tzrikka/duplex/pkg/message"
	"github.com/tzrikka/duplex/pkg/server"
	"github.com/tzrikka/duplex/pkg/wserr"
)

// echoServer accepts one session and echoes every data message.
func echoServer(t *testing.T, opts handshake.Options) string {
	t.Helper()

	srv, err := server.Listen("127.0.0.1:0", opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })

	go func() {
		sess, _, err := srv.Accept(t.Context())
		if err != nil {
			return
		}
		send, recv := sess.Split()
		for m, err := range recv.IncomingMessages() {
			if err != nil {
				return
			}
			if m.Opcode == frame.OpcodePing {
				m = message.Pong(m.Data)
			}
			if err := send.SendMessage(m); err != nil {
				return
			}
		}
	}()

	return "ws://" + srv.Addr().String()
}

func TestDialEcho(t *testing.T) {
	url := echoServer(t, handshake.Options{})

	sess, _, err := Dial(t.Context(), url)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	if err := sess.SendMessage(message.Text("Hello")); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	m, err := sess.RecvMessage()
	if err != nil {
		t.Fatalf("RecvMessage() error = %v", err)
	}
	if diff := cmp.Diff(message.Text("Hello"), m); diff != "" {
		t.Errorf("echo mismatch (-want +got):\n%s", diff)
	}

	if err := sess.SendClose(message.StatusNormalClosure, ""); err != nil {
		t.Fatalf("SendClose() error = %v", err)
	}
	m, err = sess.RecvMessage()
	if err != nil {
		t.Fatalf("RecvMessage() after close error = %v", err)
	}
	if m.Opcode != frame.OpcodeClose {
		t.Errorf("final message opcode = %v, want close", m.Opcode)
	}
	if err := sess.ShutdownAll(); err != nil {
		t.Errorf("ShutdownAll() error = %v", err)
	}
}

func TestDialSubprotocolNegotiation(t *testing.T) {
	url := echoServer(t, handshake.Options{Protocols: []string{"chat.v1", "chat.v2"}})

	sess, result, err := Dial(t.Context(), url, WithProtocols("chat.v2"))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer sess.ShutdownAll()

	if result.Protocol != "chat.v2" {
		t.Errorf("Result.Protocol = %q, want %q", result.Protocol, "chat.v2")
	}
}

func TestDialDeflateNegotiation(t *testing.T) {
	url := echoServer(t, handshake.Options{
		Extensions: []handshake.Extension{{Name: handshake.PermessageDeflate}},
	})

	offer := handshake.Extension{
		Name:   handshake.PermessageDeflate,
		Params: []handshake.Param{{Name: "client_max_window_bits"}},
	}
	sess, result, err := Dial(t.Context(), url, WithExtensions(offer))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer sess.ShutdownAll()

	if result.Deflate == nil {
		t.Fatal("Result.Deflate = nil, want a negotiated config")
	}
	if result.Deflate.ClientMaxWindowBits != 15 {
		t.Errorf("Deflate.ClientMaxWindowBits = %d, want 15", result.Deflate.ClientMaxWindowBits)
	}
}

func TestDialErrors(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		wantErr error
	}{
		{
			name:    "https_scheme",
			rawURL:  "https://example.com",
			wantErr: wserr.ErrInvalidScheme,
		},
		{
			name:    "no_host",
			rawURL:  "ws://",
			wantErr: wserr.ErrNoHostName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Dial(t.Context(), tt.rawURL); !errors.Is(err, tt.wantErr) {
				t.Errorf("Dial() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
