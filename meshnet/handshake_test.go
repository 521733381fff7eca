package meshnet

import (
	"bytes"
	"io"
	"net"
	"testing"
)

func TestDefaultHandshaker_RoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		acceptCh <- conn
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("net.Dial() error = %v", err)
	}
	defer client.Close()

	var server net.Conn
	select {
	case server = <-acceptCh:
		defer server.Close()
	case err := <-acceptErr:
		t.Fatalf("Accept() error = %v", err)
	}

	clientKP, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	serverKP, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	type result struct {
		secure io.ReadWriteCloser
		pub    []byte
		err    error
	}
	clientDone := make(chan result, 1)
	serverDone := make(chan result, 1)

	go func() {
		secure, pub, err := (DefaultHandshaker{}).Handshake(client, Outbound, clientKP)
		clientDone <- result{secure, pub, err}
	}()
	go func() {
		secure, pub, err := (DefaultHandshaker{}).Handshake(server, Inbound, serverKP)
		serverDone <- result{secure, pub, err}
	}()

	cRes := <-clientDone
	sRes := <-serverDone

	if cRes.err != nil {
		t.Fatalf("client handshake error = %v", cRes.err)
	}
	if sRes.err != nil {
		t.Fatalf("server handshake error = %v", sRes.err)
	}
	if !bytes.Equal(cRes.pub, serverKP.Public[:]) {
		t.Error("client did not observe the server's public key")
	}
	if !bytes.Equal(sRes.pub, clientKP.Public[:]) {
		t.Error("server did not observe the client's public key")
	}

	msg := []byte("hello over the secure duplex")
	go func() {
		cRes.secure.Write(msg)
	}()

	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(sRes.secure, buf); err != nil {
		t.Fatalf("read from secure duplex: %v", err)
	}
	if !bytes.Equal(buf, msg) {
		t.Errorf("got %q, want %q", buf, msg)
	}
}
