package meshnet

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"
)

func newLoopback(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			acceptCh <- conn
		}
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("net.Dial() error = %v", err)
	}
	server = <-acceptCh
	return client, server
}

func TestYamuxSession_OpenSubstreamAndExchangeFrames(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	meta := &ProtocolMeta{ID: 1, Name: "/test/echo/1.0.0", SupportedVersions: []string{"1.0.0"}, SessionHandler: func() SessionProtocol { return nil }}
	registry, err := NewProtocolRegistry([]*ProtocolMeta{meta})
	if err != nil {
		t.Fatalf("NewProtocolRegistry() error = %v", err)
	}

	clientConn, serverConn := newLoopback(t)

	clientEvents := make(chan SessionEvent, 16)
	serverEvents := make(chan SessionEvent, 16)

	clientSession, err := NewYamuxSession(clientConn, Outbound, SessionDeps{
		Context:        NewSessionContext(1, "", Outbound, nil, ""),
		Registry:       registry,
		EventCh:        clientEvents,
		MaxFrameLength: 1 << 16,
		Timeout:        time.Minute,
		Logger:         logger,
	})
	if err != nil {
		t.Fatalf("NewYamuxSession(client) error = %v", err)
	}
	defer clientSession.Close()

	serverSession, err := NewYamuxSession(serverConn, Inbound, SessionDeps{
		Context:        NewSessionContext(2, "", Inbound, nil, ""),
		Registry:       registry,
		EventCh:        serverEvents,
		MaxFrameLength: 1 << 16,
		Timeout:        time.Minute,
		Logger:         logger,
	})
	if err != nil {
		t.Fatalf("NewYamuxSession(server) error = %v", err)
	}
	defer serverSession.Close()

	go clientSession.Run()
	go serverSession.Run()

	protoID, version, err := clientSession.OpenSubstream(meta.Name, meta.SupportedVersions)
	if err != nil {
		t.Fatalf("OpenSubstream() error = %v", err)
	}
	if protoID != meta.ID {
		t.Fatalf("OpenSubstream() protoID = %d, want %d", protoID, meta.ID)
	}
	if version != "1.0.0" {
		t.Fatalf("OpenSubstream() version = %q, want %q", version, "1.0.0")
	}

	waitForOpen := func(events <-chan SessionEvent) {
		t.Helper()
		select {
		case ev := <-events:
			if ev.Kind != EventProtocolOpen {
				t.Fatalf("got event kind %v, want EventProtocolOpen", ev.Kind)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for EventProtocolOpen")
		}
	}
	waitForOpen(serverEvents)

	clientSession.Inbound() <- SessionInboundEvent{Kind: InboundProtocolMessage, ProtocolID: protoID, Data: []byte("ping")}

	select {
	case ev := <-serverEvents:
		if ev.Kind != EventProtocolMessage || string(ev.Data) != "ping" {
			t.Fatalf("got %+v, want EventProtocolMessage with data %q", ev, "ping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for EventProtocolMessage")
	}
}
