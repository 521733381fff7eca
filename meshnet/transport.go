package meshnet

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anyhost/meshnet/internal/common"
)

// IncomingStream is one accepted connection from a listener, paired with
// the remote address the Transport observed.
type IncomingStream struct {
	Conn       net.Conn
	RemoteAddr Multiaddr
}

// Transport is the pluggable collaborator contract: given a Multiaddr,
// produce a bound listener (yielding an IncomingStream per accepted
// connection) or dial one. Supported schemes at minimum TCP, optionally
// WebSocket.
type Transport interface {
	Listen(addr Multiaddr) (boundAddr Multiaddr, incoming <-chan IncomingStream, closeFn func() error, err error)
	Dial(addr Multiaddr, timeout time.Duration) (resolvedAddr Multiaddr, conn net.Conn, err error)
}

// TCPTransport implements Transport over net.Listen("tcp", ...)/net.DialTimeout,
// grounded on the teacher's plain net.Listen/Accept control-plane loop in
// internal/server/control.go.
type TCPTransport struct{}

// Listen binds addr and returns a channel of accepted connections. The
// channel closes when closeFn is called or the listener errors out.
func (TCPTransport) Listen(addr Multiaddr) (Multiaddr, <-chan IncomingStream, func() error, error) {
	_, hostport, _, err := addr.NetworkAddr()
	if err != nil {
		return "", nil, nil, err
	}

	ln, err := net.Listen("tcp", hostport)
	if err != nil {
		return "", nil, nil, fmt.Errorf("tcp listen %s: %w", hostport, err)
	}

	out := make(chan IncomingStream)
	go func() {
		defer close(out)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			remote := Multiaddr(fmt.Sprintf("/ip4/%s", conn.RemoteAddr().String()))
			out <- IncomingStream{Conn: conn, RemoteAddr: remote}
		}
	}()

	bound := Multiaddr(fmt.Sprintf("/ip4/%s", ln.Addr().String()))
	return bound, out, ln.Close, nil
}

// Dial connects to addr over TCP within timeout.
func (TCPTransport) Dial(addr Multiaddr, timeout time.Duration) (Multiaddr, net.Conn, error) {
	_, hostport, _, err := addr.NetworkAddr()
	if err != nil {
		return "", nil, err
	}
	conn, err := net.DialTimeout("tcp", hostport, timeout)
	if err != nil {
		return "", nil, fmt.Errorf("tcp dial %s: %w", hostport, err)
	}
	return addr, conn, nil
}

// WebSocketTransport implements Transport over gorilla/websocket, wrapping
// each *websocket.Conn in common.WSDuplex so it satisfies net.Conn the same
// way the teacher's yamux-over-websocket sessions did.
type WebSocketTransport struct {
	Upgrader websocket.Upgrader
}

// Listen starts an HTTP server on addr upgrading every request to a
// websocket connection.
func (t WebSocketTransport) Listen(addr Multiaddr) (Multiaddr, <-chan IncomingStream, func() error, error) {
	_, hostport, _, err := addr.NetworkAddr()
	if err != nil {
		return "", nil, nil, err
	}

	out := make(chan IncomingStream)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := t.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		remote := Multiaddr(fmt.Sprintf("/ip4/%s/ws", ws.RemoteAddr().String()))
		out <- IncomingStream{Conn: common.NewWSDuplex(ws), RemoteAddr: remote}
	})

	ln, err := net.Listen("tcp", hostport)
	if err != nil {
		return "", nil, nil, fmt.Errorf("ws listen %s: %w", hostport, err)
	}
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)

	closeFn := func() error {
		close(out)
		return ln.Close()
	}
	bound := Multiaddr(fmt.Sprintf("/ip4/%s/ws", ln.Addr().String()))
	return bound, out, closeFn, nil
}

// Dial connects to addr over websocket within timeout.
func (WebSocketTransport) Dial(addr Multiaddr, timeout time.Duration) (Multiaddr, net.Conn, error) {
	_, hostport, _, err := addr.NetworkAddr()
	if err != nil {
		return "", nil, err
	}
	u := url.URL{Scheme: "ws", Host: hostport, Path: "/"}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	ws, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return "", nil, fmt.Errorf("ws dial %s: %w", hostport, err)
	}
	return addr, common.NewWSDuplex(ws), nil
}
