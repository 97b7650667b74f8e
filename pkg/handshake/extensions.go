package handshake

import (
	"strconv"
	"strings"

	"github.com/tzrikka/duplex/pkg/wserr"
)

// Param is a single "name" or "name=value" extension parameter.
type Param struct {
	Name  string
	Value string
}

// Extension is one entry of a "Sec-WebSocket-Extensions" header:
// an extension token with optional parameters.
type Extension struct {
	Name   string
	Params []Param
}

// Param returns the value of the named parameter,
// and whether the parameter is present at all.
func (e Extension) Param(name string) (string, bool) {
	for _, p := range e.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

func (e Extension) String() string {
	var b strings.Builder
	b.WriteString(e.Name)
	for _, p := range e.Params {
		b.WriteString("; ")
		b.WriteString(p.Name)
		if p.Value != "" {
			b.WriteString("=")
			b.WriteString(p.Value)
		}
	}
	return b.String()
}

// ParseExtensions parses the values of one or more
// "Sec-WebSocket-Extensions" headers, which are comma-separated
// lists of semicolon-separated extension declarations.
func ParseExtensions(values []string) ([]Extension, error) {
	var exts []Extension
	for _, v := range values {
		for entry := range strings.SplitSeq(v, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}

			parts := strings.Split(entry, ";")
			ext := Extension{Name: strings.TrimSpace(parts[0])}
			if ext.Name == "" {
				return nil, wserr.Protocol("invalid Sec-WebSocket-Extensions extension name")
			}

			for _, param := range parts[1:] {
				name, value, _ := strings.Cut(param, "=")
				p := Param{
					Name:  strings.TrimSpace(name),
					Value: strings.Trim(strings.TrimSpace(value), `"`),
				}
				if p.Name == "" {
					return nil, wserr.Protocol("invalid Sec-WebSocket-Extensions parameter")
				}
				ext.Params = append(ext.Params, p)
			}

			exts = append(exts, ext)
		}
	}
	return exts, nil
}

// FormatExtensions renders extensions as a
// single "Sec-WebSocket-Extensions" value.
func FormatExtensions(exts []Extension) string {
	entries := make([]string, len(exts))
	for i, e := range exts {
		entries[i] = e.String()
	}
	return strings.Join(entries, ", ")
}

// PermessageDeflate is the registered name of the compression
// extension defined in https://datatracker.ietf.org/doc/html/rfc7692.
const PermessageDeflate = "permessage-deflate"

// DeflateConfig is the negotiated parameter set of the
// "permessage-deflate" extension. The handshake layer only
// negotiates and stores it; compression itself is a plug-in
// above the core.
type DeflateConfig struct {
	// ServerNoContextTakeover disallows the server from
	// retaining its LZ77 sliding window between messages.
	ServerNoContextTakeover bool
	// ClientNoContextTakeover disallows the client from
	// retaining its LZ77 sliding window between messages.
	ClientNoContextTakeover bool
	// ServerMaxWindowBits caps the base-2 logarithm of the server's
	// LZ77 sliding window size, 8-15. Zero means no cap was set.
	ServerMaxWindowBits int
	// ClientMaxWindowBits caps the base-2 logarithm of the client's
	// LZ77 sliding window size, 8-15. Zero means no cap was set.
	ClientMaxWindowBits int
}

// ParseDeflate parses a "permessage-deflate" extension declaration
// per https://datatracker.ietf.org/doc/html/rfc7692#section-7.1:
// each parameter may appear at most once, "server_max_window_bits"
// requires a value of 8-15, and "client_max_window_bits" accepts
// an optional value of 8-15.
func ParseDeflate(ext Extension) (*DeflateConfig, error) {
	if ext.Name != PermessageDeflate {
		return nil, wserr.Protocol("not a permessage-deflate extension")
	}

	cfg := &DeflateConfig{}
	seen := map[string]bool{}
	for _, p := range ext.Params {
		if seen[p.Name] {
			return nil, wserr.Protocol("duplicate permessage-deflate parameter")
		}
		seen[p.Name] = true

		switch p.Name {
		case "server_no_context_takeover":
			if p.Value != "" {
				return nil, wserr.Protocol("unexpected permessage-deflate parameter value")
			}
			cfg.ServerNoContextTakeover = true
		case "client_no_context_takeover":
			if p.Value != "" {
				return nil, wserr.Protocol("unexpected permessage-deflate parameter value")
			}
			cfg.ClientNoContextTakeover = true
		case "server_max_window_bits":
			n, err := parseWindowBits(p.Value)
			if err != nil {
				return nil, err
			}
			cfg.ServerMaxWindowBits = n
		case "client_max_window_bits":
			// The value is optional in a client offer: without one, the
			// client merely advertises support for the parameter. The
			// default cap is the maximum.
			n := 15
			if p.Value != "" {
				var err error
				if n, err = parseWindowBits(p.Value); err != nil {
					return nil, err
				}
			}
			cfg.ClientMaxWindowBits = n
		default:
			return nil, wserr.Protocol("unknown permessage-deflate parameter")
		}
	}

	return cfg, nil
}

func parseWindowBits(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 8 || n > 15 {
		return 0, wserr.Protocol("invalid permessage-deflate window bits")
	}
	return n, nil
}

// Extension renders the config back into an extension declaration,
// for the server's side of the negotiation.
func (c *DeflateConfig) Extension() Extension {
	ext := Extension{Name: PermessageDeflate}
	if c.ServerNoContextTakeover {
		ext.Params = append(ext.Params, Param{Name: "server_no_context_takeover"})
	}
	if c.ClientNoContextTakeover {
		ext.Params = append(ext.Params, Param{Name: "client_no_context_takeover"})
	}
	if c.ServerMaxWindowBits != 0 {
		ext.Params = append(ext.Params, Param{Name: "server_max_window_bits", Value: strconv.Itoa(c.ServerMaxWindowBits)})
	}
	if c.ClientMaxWindowBits != 0 {
		ext.Params = append(ext.Params, Param{Name: "client_max_window_bits", Value: strconv.Itoa(c.ClientMaxWindowBits)})
	}
	return ext
}
