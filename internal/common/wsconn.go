package common

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSDuplex adapts a *websocket.Conn to net.Conn so meshnet's yamux session
// and length-delimited frame codec (internal/protocol) can run over a
// WebSocket connection exactly as they do over a raw TCP one.
type WSDuplex struct {
	ws     *websocket.Conn
	reader io.Reader
	mu     sync.Mutex
}

// NewWSDuplex wraps ws in a WSDuplex.
func NewWSDuplex(ws *websocket.Conn) *WSDuplex {
	return &WSDuplex{
		ws: ws,
	}
}

// Read fills b from the current WebSocket message, fetching the next
// message's reader as soon as one is exhausted. It loops internally past a
// zero-byte message boundary rather than surfacing it as a (0, nil) read,
// since meshnet's framing (protocol.ReadFrame, protocol.Codec.ReadMessage)
// drives this through io.ReadFull, which would otherwise spin on a
// zero-byte, no-error result.
func (d *WSDuplex) Read(b []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		if d.reader == nil {
			_, reader, err := d.ws.NextReader()
			if err != nil {
				return 0, err
			}
			d.reader = reader
		}

		n, err := d.reader.Read(b)
		if err == io.EOF {
			d.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write sends b as a single binary WebSocket message.
func (d *WSDuplex) Write(b []byte) (int, error) {
	if err := d.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close closes the underlying WebSocket connection.
func (d *WSDuplex) Close() error {
	return d.ws.Close()
}

// LocalAddr returns the local network address.
func (d *WSDuplex) LocalAddr() net.Addr {
	return d.ws.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (d *WSDuplex) RemoteAddr() net.Addr {
	return d.ws.RemoteAddr()
}

// SetDeadline sets the read and write deadlines.
func (d *WSDuplex) SetDeadline(t time.Time) error {
	if err := d.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return d.ws.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline.
func (d *WSDuplex) SetReadDeadline(t time.Time) error {
	return d.ws.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline.
func (d *WSDuplex) SetWriteDeadline(t time.Time) error {
	return d.ws.SetWriteDeadline(t)
}
