package server

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"testing"

	"github.com/tzrikka/duplex/pkg/frame"
	"github.com/tzrikka/duplex/pkg/handshake"
	"github.com/tzrikka/duplex/pkg/wserr"
)

// rawDial opens a plain TCP connection to the server and writes a
// hand-rolled handshake request, to exercise the server side without
// involving this library's own client.
func rawDial(t *testing.T, addr, request string) net.Conn {
	t.Helper()

	nc, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { nc.Close() })

	if _, err := nc.Write([]byte(request)); err != nil {
		t.Fatal(err)
	}
	return nc
}

const sampleRequest = "GET /chat HTTP/1.1\r\n" +
	"Host: server.example.com\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n\r\n"

func TestAcceptAndEcho(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", handshake.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	nc := rawDial(t, srv.Addr().String(), sampleRequest)

	sess, _, err := srv.Accept(t.Context())
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	br := bufio.NewReader(nc)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("reading handshake response: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("response status = %d, want 101", resp.StatusCode)
	}
	if got := resp.Header.Get("Sec-WebSocket-Accept"); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Errorf("accept header = %q, want %q", got, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=")
	}

	// A masked "Hello" text frame, echoed back unmasked.
	key := [4]byte{0x10, 0x20, 0x30, 0x40}
	payload := []byte("Hello")
	frame.Mask(payload, key)
	clientFrame := append([]byte{0x81, 0x85, 0x10, 0x20, 0x30, 0x40}, payload...)
	if _, err := nc.Write(clientFrame); err != nil {
		t.Fatal(err)
	}

	m, err := sess.RecvMessage()
	if err != nil {
		t.Fatalf("RecvMessage() error = %v", err)
	}
	if string(m.Data) != "Hello" {
		t.Errorf("received %q, want %q", m.Data, "Hello")
	}
	if err := sess.SendMessage(m); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	echo := make([]byte, 7)
	if _, err := nc.Read(echo); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x81, 0x05, 0x48, 0x65, 0x6C, 0x6C, 0x6F}
	if string(echo) != string(want) {
		t.Errorf("echoed bytes = %x, want %x", echo, want)
	}
}

func TestAcceptRejectsBadHandshake(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", handshake.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	badRequest := "GET /chat HTTP/1.1\r\n" +
		"Host: server.example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n" // No key.
	nc := rawDial(t, srv.Addr().String(), badRequest)

	if _, _, err := srv.Accept(t.Context()); !errors.Is(err, wserr.ErrRequest) {
		t.Fatalf("Accept() error = %v, want %v", err, wserr.ErrRequest)
	}

	br := bufio.NewReader(nc)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("reading rejection response: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("response status = %d, want 400", resp.StatusCode)
	}
}

func TestAcceptPreservesPipelinedFrames(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", handshake.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	// The first frame rides in the same segment as the request.
	key := [4]byte{1, 2, 3, 4}
	payload := []byte("hi")
	frame.Mask(payload, key)
	pipelined := sampleRequest + string([]byte{0x81, 0x82, 1, 2, 3, 4}) + string(payload)
	rawDial(t, srv.Addr().String(), pipelined)

	sess, _, err := srv.Accept(t.Context())
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	m, err := sess.RecvMessage()
	if err != nil {
		t.Fatalf("RecvMessage() error = %v", err)
	}
	if string(m.Data) != "hi" {
		t.Errorf("received %q, want %q", m.Data, "hi")
	}
}
