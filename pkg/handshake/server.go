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

// Server performs the server side of the opening handshake over an
// accepted byte stream: it parses and validates the client's upgrade
// request, negotiates a subprotocol and extensions, and writes either
// a "101 Switching Protocols" or a "400 Bad Request" response, per
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.2.
//
// On success the stream is ready for frame I/O, except that the
// returned [Result.Leftover] bytes must be consumed first.
func Server(ctx context.Context, s stream.Stream, opts Options) (*Result, error) {
	logger := zerolog.Ctx(ctx)

	br := bufio.NewReader(s)
	req, err := http.ReadRequest(br)
	if err != nil {
		respondBadRequest(s)
		return nil, fmt.Errorf("%w: %w", wserr.ErrHTTP, err)
	}
	defer req.Body.Close()

	if err := checkRequest(req); err != nil {
		respondBadRequest(s)
		return nil, err
	}

	result, err := negotiate(req, opts)
	if err != nil {
		respondBadRequest(s)
		return nil, err
	}

	key := req.Header.Get("Sec-WebSocket-Key")
	if err := writeResponse(s, AcceptKey(key), result.Protocol, result.Extensions); err != nil {
		return nil, err
	}

	// A pipelined client may have sent frames right after the request.
	if n := br.Buffered(); n > 0 {
		result.Leftover = make([]byte, n)
		if _, err := io.ReadFull(br, result.Leftover); err != nil {
			return nil, err
		}
	}

	logger.Debug().Str("subprotocol", result.Protocol).Int("extensions", len(result.Extensions)).
		Msg("accepted WebSocket handshake")
	return result, nil
}

// checkRequest validates the upgrade request per RFC 6455 section 4.2.1.
func checkRequest(req *http.Request) error {
	if req.Method != http.MethodGet {
		return wserr.Request("handshake request method isn't GET")
	}
	if !req.ProtoAtLeast(1, 1) {
		return wserr.Request("handshake request isn't HTTP/1.1")
	}
	if req.Host == "" {
		return wserr.Request(`missing "Host" header`)
	}
	if !headerHasToken(req.Header, "Upgrade", "websocket") {
		return wserr.Request(`no "websocket" token in the "Upgrade" header`)
	}
	if !headerHasToken(req.Header, "Connection", "upgrade") {
		return wserr.Request(`no "Upgrade" token in the "Connection" header`)
	}
	if req.Header.Get("Sec-WebSocket-Version") != "13" {
		return wserr.Request(`unsupported "Sec-WebSocket-Version" header value`)
	}
	if !validNonce(req.Header.Get("Sec-WebSocket-Key")) {
		return wserr.Request(`missing or invalid "Sec-WebSocket-Key" header`)
	}
	return nil
}

// negotiate selects at most one subprotocol from the intersection of
// the client's offer and the locally supported list, and the subset
// of offered extensions that the local side accepts.
func negotiate(req *http.Request, opts Options) (*Result, error) {
	result := &Result{}

	for _, v := range req.Header.Values("Sec-WebSocket-Protocol") {
		for p := range strings.SplitSeq(v, ",") {
			p = strings.TrimSpace(p)
			if slices.Contains(opts.Protocols, p) {
				result.Protocol = p
				break
			}
		}
		if result.Protocol != "" {
			break
		}
	}

	offered, err := ParseExtensions(req.Header.Values("Sec-WebSocket-Extensions"))
	if err != nil {
		return nil, err
	}

	var accepted []Extension
	for _, ext := range offered {
		if !slices.ContainsFunc(opts.Extensions, func(o Extension) bool { return o.Name == ext.Name }) {
			continue
		}

		if ext.Name == PermessageDeflate {
			if result.Deflate != nil {
				continue // Already agreed to an earlier offer.
			}
			cfg, err := ParseDeflate(ext)
			if err != nil {
				// A malformed offer fails the handshake per RFC 7692.
				return nil, err
			}
			result.Deflate = cfg
			accepted = append(accepted, cfg.Extension())
			continue
		}

		accepted = append(accepted, ext)
	}

	result.Extensions = accepted
	return result, nil
}

// writeResponse writes the "101 Switching Protocols" response.
func writeResponse(s stream.Stream, accept, protocol string, exts []Extension) error {
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Accept: " + accept + "\r\n")
	if protocol != "" {
		b.WriteString("Sec-WebSocket-Protocol: " + protocol + "\r\n")
	}
	if len(exts) > 0 {
		b.WriteString("Sec-WebSocket-Extensions: " + FormatExtensions(exts) + "\r\n")
	}
	b.WriteString("\r\n")

	if _, err := s.Write([]byte(b.String())); err != nil {
		return err
	}
	return s.Flush()
}

// respondBadRequest rejects an invalid handshake request.
// Write errors are ignored: the request error is the one
// that matters, and the connection is going away either way.
func respondBadRequest(s stream.Stream) {
	_, _ = s.Write([]byte("HTTP/1.1 400 Bad Request\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"))
	_ = s.Flush()
}
