package meshnet

import (
	"fmt"
	"strconv"
	"strings"
)

// Multiaddr is a self-describing, path-like network address, e.g.
// "/ip4/1.2.3.4/tcp/443" or "/ip4/1.2.3.4/tcp/443/p2p/<peer-id>". It is kept
// as a thin string type with segment parsing rather than a full multiaddr
// library - none of the retrieved examples vendor one, and the grammar this
// system needs (scheme/value pairs plus an optional trailing p2p component)
// is small enough that hand-rolled parsing is the honest choice; see
// DESIGN.md for why this is the one standard-library-only data-model piece.
type Multiaddr string

// Protocol is one /name/value segment of a Multiaddr.
type Protocol struct {
	Name  string
	Value string
}

// Segments splits the multiaddress into its /name/value pairs. A malformed
// address (odd number of path components, or a leading component that is
// not empty) yields an error.
func (m Multiaddr) Segments() ([]Protocol, error) {
	s := string(m)
	if !strings.HasPrefix(s, "/") {
		return nil, fmt.Errorf("multiaddr %q: must start with /", s)
	}
	parts := strings.Split(strings.TrimPrefix(s, "/"), "/")
	if len(parts) == 0 || len(parts)%2 != 0 {
		return nil, fmt.Errorf("multiaddr %q: expected name/value pairs", s)
	}
	segs := make([]Protocol, 0, len(parts)/2)
	for i := 0; i < len(parts); i += 2 {
		segs = append(segs, Protocol{Name: parts[i], Value: parts[i+1]})
	}
	return segs, nil
}

// NetworkAddr extracts the (network, address) pair a Transport needs to
// dial or listen, e.g. ("tcp", "1.2.3.4:443") from "/ip4/1.2.3.4/tcp/443".
// The "ws" suffix, if present, is reported via the ws return value.
func (m Multiaddr) NetworkAddr() (network, addr string, ws bool, err error) {
	segs, err := m.Segments()
	if err != nil {
		return "", "", false, err
	}

	var host, port string
	for _, seg := range segs {
		switch seg.Name {
		case "ip4", "ip6", "dns4", "dns6", "dns":
			host = seg.Value
		case "tcp":
			port = seg.Value
		case "ws":
			ws = true
		case "p2p":
			// peer-id component, consumed by PeerId()
		default:
			return "", "", false, fmt.Errorf("multiaddr %q: unsupported segment %q", string(m), seg.Name)
		}
	}
	if host == "" || port == "" {
		return "", "", false, fmt.Errorf("multiaddr %q: missing host or tcp port", string(m))
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", "", false, fmt.Errorf("multiaddr %q: invalid port %q", string(m), port)
	}
	return "tcp", host + ":" + port, ws, nil
}

// PeerId returns the value of a trailing /p2p/<id> component, if present.
func (m Multiaddr) PeerId() (string, bool) {
	segs, err := m.Segments()
	if err != nil {
		return "", false
	}
	for _, seg := range segs {
		if seg.Name == "p2p" {
			return seg.Value, true
		}
	}
	return "", false
}

// WithPeerId appends a /p2p/<id> component, used when a handshake discovers
// a remote identity that the dialed address did not itself carry.
func (m Multiaddr) WithPeerId(id string) Multiaddr {
	if _, ok := m.PeerId(); ok {
		return m
	}
	return Multiaddr(string(m) + "/p2p/" + id)
}
