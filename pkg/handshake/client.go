package handshake

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tzrikka/duplex/pkg/stream"
	"github.com/tzrikka/duplex/pkg/wserr"
)

// Client performs the client side of the opening handshake over an
// established byte stream: it writes the upgrade request, and parses
// and validates the server's response, per
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.1.
//
// On success the stream is ready for frame I/O, except that the
// returned [Result.Leftover] bytes must be consumed first.
func Client(ctx context.Context, s stream.Stream, ep Endpoint, opts Options) (*Result, error) {
	logger := zerolog.Ctx(ctx)

	nonce, err := generateNonce(opts.nonceGen())
	if err != nil {
		return nil, err
	}

	if err := writeRequest(s, ep, nonce, opts); err != nil {
		return nil, err
	}
	logger.Trace().Str("host", ep.HostHeader()).Str("resource", ep.Resource).
		Msg("sent WebSocket handshake request")

	br := bufio.NewReader(s)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", wserr.ErrHTTP, err)
	}
	defer resp.Body.Close()

	result, err := checkResponse(resp, nonce, opts)
	if err != nil {
		return nil, err
	}

	// Bytes already consumed past the header terminator are the
	// beginning of the server's frame data - hand them back.
	if n := br.Buffered(); n > 0 {
		result.Leftover = make([]byte, n)
		if _, err := io.ReadFull(br, result.Leftover); err != nil {
			return nil, err
		}
	}

	logger.Debug().Str("subprotocol", result.Protocol).Int("extensions", len(result.Extensions)).
		Msg("completed WebSocket handshake")
	return result, nil
}

// writeRequest writes the upgrade request line and headers.
func writeRequest(s stream.Stream, ep Endpoint, nonce string, opts Options) error {
	var b strings.Builder
	b.WriteString("GET " + ep.Resource + " HTTP/1.1\r\n")
	b.WriteString("Host: " + ep.HostHeader() + "\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Key: " + nonce + "\r\n")
	b.WriteString("Sec-WebSocket-Version: 13\r\n")

	if len(opts.Protocols) > 0 {
		b.WriteString("Sec-WebSocket-Protocol: " + strings.Join(opts.Protocols, ", ") + "\r\n")
	}
	if len(opts.Extensions) > 0 {
		b.WriteString("Sec-WebSocket-Extensions: " + FormatExtensions(opts.Extensions) + "\r\n")
	}
	if opts.Origin != "" {
		b.WriteString("Origin: " + opts.Origin + "\r\n")
	}
	for key, values := range opts.Headers {
		for _, v := range values {
			b.WriteString(key + ": " + v + "\r\n")
		}
	}
	b.WriteString("\r\n")

	if _, err := s.Write([]byte(b.String())); err != nil {
		return err
	}
	return s.Flush()
}

// checkResponse validates the server's handshake response, including
// that every returned subprotocol and extension was actually offered.
func checkResponse(resp *http.Response, nonce string, opts Options) (*Result, error) {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return nil, wserr.Response("unexpected handshake response status code")
	}
	if err := checkHTTPHeader(resp.Header, "Upgrade", "websocket"); err != nil {
		return nil, err
	}
	if !headerHasToken(resp.Header, "Connection", "upgrade") {
		return nil, wserr.Response(`no "Upgrade" token in the "Connection" header`)
	}
	if resp.Header.Get("Sec-WebSocket-Accept") != AcceptKey(nonce) {
		return nil, wserr.Response(`incorrect "Sec-WebSocket-Accept" header value`)
	}

	result := &Result{}
	if p := resp.Header.Get("Sec-WebSocket-Protocol"); p != "" {
		if !slices.Contains(opts.Protocols, p) {
			return nil, wserr.Response("server selected a subprotocol that wasn't offered")
		}
		result.Protocol = p
	}

	exts, err := ParseExtensions(resp.Header.Values("Sec-WebSocket-Extensions"))
	if err != nil {
		return nil, err
	}
	for _, ext := range exts {
		if !slices.ContainsFunc(opts.Extensions, func(o Extension) bool { return o.Name == ext.Name }) {
			return nil, wserr.Response("server selected an extension that wasn't offered")
		}
		if ext.Name == PermessageDeflate {
			cfg, err := ParseDeflate(ext)
			if err != nil {
				return nil, err
			}
			result.Deflate = cfg
		}
	}
	result.Extensions = exts

	return result, nil
}

// checkHTTPHeader verifies the value of a specific HTTP header
// (case-insensitively, since servers don't have to respect the
// letter casing in our requests).
func checkHTTPHeader(h http.Header, key, want string) error {
	if got := h.Get(key); !strings.EqualFold(got, want) {
		return wserr.Response(fmt.Sprintf("bad %q header value: %q", key, got))
	}
	return nil
}

// headerHasToken reports whether a comma-separated header
// contains the given token, ASCII-case-insensitively.
func headerHasToken(h http.Header, key, token string) bool {
	for _, v := range h.Values(key) {
		for t := range strings.SplitSeq(v, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}
