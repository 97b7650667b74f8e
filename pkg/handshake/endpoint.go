package handshake

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/tzrikka/duplex/pkg/wserr"
)

// Endpoint is a parsed WebSocket endpoint descriptor.
type Endpoint struct {
	// Scheme is "ws" or "wss".
	Scheme string
	// Host is a host name or IP address.
	Host string
	// Port is the TCP port (80 for "ws" and 443 for "wss" by default).
	Port int
	// Resource is the request target: a path starting
	// with "/", plus an optional "?query".
	Resource string
}

// ParseURL parses a "ws://" or "wss://" URL into an [Endpoint],
// filling in the scheme's default port if none is given. Fragments
// are not valid in WebSocket URLs.
func ParseURL(rawURL string) (Endpoint, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %w", wserr.ErrURL, err)
	}

	ep := Endpoint{Scheme: u.Scheme, Host: u.Hostname()}
	switch u.Scheme {
	case "ws":
		ep.Port = 80
	case "wss":
		ep.Port = 443
	default:
		return Endpoint{}, fmt.Errorf("%w: %q", wserr.ErrInvalidScheme, u.Scheme)
	}

	if ep.Host == "" {
		return Endpoint{}, wserr.ErrNoHostName
	}
	if u.Fragment != "" {
		return Endpoint{}, wserr.ErrFragment
	}

	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return Endpoint{}, fmt.Errorf("%w: invalid port %q", wserr.ErrURL, p)
		}
		ep.Port = n
	}

	ep.Resource = u.EscapedPath()
	if ep.Resource == "" {
		ep.Resource = "/"
	}
	if u.RawQuery != "" {
		ep.Resource += "?" + u.RawQuery
	}

	return ep, nil
}

// Secure reports whether the endpoint requires a TLS-wrapped transport.
func (e Endpoint) Secure() bool {
	return e.Scheme == "wss"
}

// Addr returns the endpoint's dial address in "host:port" form.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// HostHeader returns the value for the handshake's "Host" header:
// "host:port", with the port omitted when it's the scheme's default.
func (e Endpoint) HostHeader() string {
	if (e.Scheme == "ws" && e.Port == 80) || (e.Scheme == "wss" && e.Port == 443) {
		return e.Host
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}
