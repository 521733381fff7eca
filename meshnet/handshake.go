package meshnet

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeyPair is a Curve25519 identity: a private scalar and its derived public
// point, used both to authenticate a handshake and to derive the shared
// key nacl/box needs for the encrypted duplex.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a fresh identity key pair.
func GenerateKeyPair() (*KeyPair, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	var kp KeyPair
	kp.Private = priv
	copy(kp.Public[:], pub)
	return &kp, nil
}

// SecureDuplex is the authenticated, encrypted duplex stream a Handshaker
// produces on success: every Write seals a nacl/box message, every Read
// opens one.
type SecureDuplex struct {
	raw       io.ReadWriteCloser
	sharedKey [32]byte
	readBuf   []byte
}

func newSecureDuplex(raw io.ReadWriteCloser, shared [32]byte) *SecureDuplex {
	return &SecureDuplex{raw: raw, sharedKey: shared}
}

// Read implements io.Reader by opening the next sealed frame and returning
// its plaintext, buffering any surplus for the next call.
func (d *SecureDuplex) Read(p []byte) (int, error) {
	for len(d.readBuf) == 0 {
		sealed, err := readSealedFrame(d.raw)
		if err != nil {
			return 0, err
		}
		var nonce [24]byte
		if len(sealed) < 24 {
			return 0, fmt.Errorf("secure duplex: short frame")
		}
		copy(nonce[:], sealed[:24])
		plain, ok := box.OpenAfterPrecomputation(nil, sealed[24:], &nonce, &d.sharedKey)
		if !ok {
			return 0, fmt.Errorf("secure duplex: failed to open sealed frame")
		}
		d.readBuf = plain
	}
	n := copy(p, d.readBuf)
	d.readBuf = d.readBuf[n:]
	return n, nil
}

// Write implements io.Writer by sealing p as one frame.
func (d *SecureDuplex) Write(p []byte) (int, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return 0, fmt.Errorf("secure duplex: failed to generate nonce: %w", err)
	}
	sealed := box.SealAfterPrecomputation(nonce[:], p, &nonce, &d.sharedKey)
	if err := writeSealedFrame(d.raw, sealed); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the underlying raw stream.
func (d *SecureDuplex) Close() error { return d.raw.Close() }

func writeSealedFrame(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	lenBuf[0] = byte(len(data) >> 24)
	lenBuf[1] = byte(len(data) >> 16)
	lenBuf[2] = byte(len(data) >> 8)
	lenBuf[3] = byte(len(data))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readSealedFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := int(lenBuf[0])<<24 | int(lenBuf[1])<<16 | int(lenBuf[2])<<8 | int(lenBuf[3])
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Handshaker is the pluggable collaborator contract: given a raw duplex
// stream, a direction and an optional local identity, produce an
// authenticated duplex plus the remote's public key.
type Handshaker interface {
	Handshake(raw io.ReadWriteCloser, direction Direction, identity *KeyPair) (io.ReadWriteCloser, []byte, error)
}

// DefaultHandshaker implements Handshaker with an X25519 key exchange
// feeding nacl/box for the encrypted duplex: both sides exchange their
// public key as a bare 32-byte frame, then precompute the shared key.
type DefaultHandshaker struct{}

// Handshake performs the exchange described above.
func (DefaultHandshaker) Handshake(raw io.ReadWriteCloser, direction Direction, identity *KeyPair) (io.ReadWriteCloser, []byte, error) {
	if identity == nil {
		kp, err := GenerateKeyPair()
		if err != nil {
			return nil, nil, err
		}
		identity = kp
	}

	if err := writeSealedFrame(raw, identity.Public[:]); err != nil {
		return nil, nil, fmt.Errorf("handshake: failed to send public key: %w", err)
	}
	remotePub, err := readSealedFrame(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("handshake: failed to read remote public key: %w", err)
	}
	if len(remotePub) != 32 {
		return nil, nil, fmt.Errorf("handshake: remote public key has wrong length %d", len(remotePub))
	}

	var remote [32]byte
	copy(remote[:], remotePub)

	var shared [32]byte
	box.Precompute(&shared, &remote, &identity.Private)

	return newSecureDuplex(raw, shared), remotePub, nil
}

// HandshakeDriver drives a Handshaker to completion within a timeout and
// emits HandshakeSuccess/HandshakeError onto the session-event channel. The
// handshake runs on its own goroutine and is raced against a timer; on
// timeout the raw stream is closed.
type HandshakeDriver struct {
	Handshaker     Handshaker
	Identity       *KeyPair
	Timeout        time.Duration
	MaxFrameLength int
	Logger         *slog.Logger
}

// Drive performs the handshake on raw and returns the SessionEvent to
// publish - either HandshakeSuccess or HandshakeError. Cancellation is
// expressed by the caller abandoning the raw stream (closing it), which
// unblocks the handshake's blocking reads with an error.
func (d *HandshakeDriver) Drive(raw io.ReadWriteCloser, direction Direction, remoteAddr Multiaddr, listenAddr Multiaddr) SessionEvent {
	type result struct {
		secure io.ReadWriteCloser
		pub    []byte
		err    error
	}
	resCh := make(chan result, 1)

	go func() {
		secure, pub, err := d.Handshaker.Handshake(raw, direction, d.Identity)
		resCh <- result{secure, pub, err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			d.Logger.Warn("handshake failed", slog.Any("error", res.err), slog.String("direction", direction.String()))
			return SessionEvent{Kind: EventHandshakeError, Err: res.err, Address: remoteAddr, Direction: direction}
		}
		return SessionEvent{
			Kind:         EventHandshakeSuccess,
			SecureStream: res.secure,
			RemotePubKey: res.pub,
			Address:      remoteAddr,
			Direction:    direction,
			ListenAddr:   listenAddr,
		}
	case <-time.After(d.Timeout):
		raw.Close()
		return SessionEvent{
			Kind:      EventHandshakeError,
			Err:       fmt.Errorf("handshake timed out after %s", d.Timeout),
			Address:   remoteAddr,
			Direction: direction,
		}
	}
}
