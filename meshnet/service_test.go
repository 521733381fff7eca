package meshnet

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/anyhost/meshnet/internal/common"
)

// recordingHandle is a ServiceHandle that forwards every event/error onto
// buffered channels a test can select on, mirroring the recorder pattern
// newLoopback's callers use for SessionEvents.
type recordingHandle struct {
	events chan ServiceEvent
	errs   chan ServiceError
}

func newRecordingHandle() *recordingHandle {
	return &recordingHandle{events: make(chan ServiceEvent, 64), errs: make(chan ServiceError, 64)}
}

func (h *recordingHandle) HandleEvent(_ *ServiceContext, ev ServiceEvent) { h.events <- ev }
func (h *recordingHandle) HandleError(_ *ServiceContext, err ServiceError) { h.errs <- err }

func (h *recordingHandle) waitEvent(t *testing.T, kind ServiceEventKind) ServiceEvent {
	t.Helper()
	for {
		select {
		case ev := <-h.events:
			if ev.Kind == kind {
				return ev
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for ServiceEvent kind %v", kind)
		}
	}
}

func (h *recordingHandle) waitError(t *testing.T, match func(ServiceError) bool) ServiceError {
	t.Helper()
	for {
		select {
		case err := <-h.errs:
			if match(err) {
				return err
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for matching ServiceError")
		}
	}
}

// recordingSessionProtocol forwards every callback onto a shared channel,
// tagged with which session it concerns.
type recordingSessionProtocol struct {
	calls chan sessionCallback
}

type sessionCallback struct {
	kind    streamEventKind
	session SessionId
	data    []byte
}

func (p *recordingSessionProtocol) Connected(ctx *ProtocolContextRef, version string) {
	p.calls <- sessionCallback{kind: streamConnected, session: ctx.Session.ID}
}
func (p *recordingSessionProtocol) Disconnected(ctx *ProtocolContextRef) {
	p.calls <- sessionCallback{kind: streamDisconnected, session: ctx.Session.ID}
}
func (p *recordingSessionProtocol) Received(ctx *ProtocolContextRef, data []byte) {
	p.calls <- sessionCallback{kind: streamReceived, session: ctx.Session.ID, data: data}
}
func (p *recordingSessionProtocol) Notify(ctx *ProtocolContextRef, token uint64) {
	p.calls <- sessionCallback{kind: streamNotify, session: ctx.Session.ID}
}

func freeTCPAddr(t *testing.T) Multiaddr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return Multiaddr(fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", port))
}

func testServiceConfig() *common.ServiceConfig {
	cfg := common.DefaultServiceConfig()
	cfg.Timeouts.HandshakeTimeout = 5 * time.Second
	cfg.Timeouts.DialTimeout = 5 * time.Second
	return cfg
}

func echoRegistry(t *testing.T, calls chan sessionCallback) *ProtocolRegistry {
	t.Helper()
	meta := &ProtocolMeta{
		ID:                1,
		Name:              "/test/echo/1.0.0",
		SupportedVersions: []string{"1.0.0"},
		SessionHandler:    func() SessionProtocol { return &recordingSessionProtocol{calls: calls} },
	}
	registry, err := NewProtocolRegistry([]*ProtocolMeta{meta})
	if err != nil {
		t.Fatalf("NewProtocolRegistry() error = %v", err)
	}
	return registry
}

func TestService_DialListenProtocolExchangeAndGracefulShutdown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	aCalls := make(chan sessionCallback, 16)
	bCalls := make(chan sessionCallback, 16)

	handleA := newRecordingHandle()
	handleB := newRecordingHandle()

	svcA := NewService(ServiceOptions{
		Registry: echoRegistry(t, aCalls),
		Handle:   handleA,
		Config:   testServiceConfig(),
		Logger:   logger,
	})
	svcB := NewService(ServiceOptions{
		Registry: echoRegistry(t, bCalls),
		Handle:   handleB,
		Config:   testServiceConfig(),
		Logger:   logger,
	})

	go svcA.Run()
	go svcB.Run()

	addr := freeTCPAddr(t)
	svcA.Listen(addr)
	handleA.waitEvent(t, EventListenStarted)

	svcB.Dial(addr, TargetProtocol{All: true})

	openB := handleB.waitEvent(t, EventSessionOpen)
	handleA.waitEvent(t, EventSessionOpen)

	connectedOnA := waitForCallback(t, aCalls, streamConnected)
	waitForCallback(t, bCalls, streamConnected)

	payload := []byte("ping")
	svcB.Control().SendMessage(TargetSession{Single: &openB.Session}, 1, payload, Normal)

	received := waitForCallback(t, aCalls, streamReceived)
	if received.session != connectedOnA.session {
		t.Fatalf("Received on session %d, want %d", received.session, connectedOnA.session)
	}
	if string(received.data) != string(payload) {
		t.Fatalf("Received data = %q, want %q", received.data, payload)
	}

	svcA.Control().Shutdown(false)
	svcB.Control().Shutdown(false)

	handleA.waitEvent(t, EventUserSessionClose)
	handleB.waitEvent(t, EventUserSessionClose)

	select {
	case <-svcA.Terminated():
	case <-time.After(5 * time.Second):
		t.Fatal("svcA did not terminate after graceful shutdown")
	}
	select {
	case <-svcB.Terminated():
	case <-time.After(5 * time.Second):
		t.Fatal("svcB did not terminate after graceful shutdown")
	}
}

func waitForCallback(t *testing.T, calls chan sessionCallback, kind streamEventKind) sessionCallback {
	t.Helper()
	for {
		select {
		case c := <-calls:
			if c.kind == kind {
				return c
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for callback kind %v", kind)
		}
	}
}

// TestService_DuplicatePubKeyRejected covers invariant: a second inbound
// connection authenticating as an already-connected peer is rejected
// without disturbing the first session.
func TestService_DuplicatePubKeyRejected(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handleA := newRecordingHandle()
	svcA := NewService(ServiceOptions{Handle: handleA, Config: testServiceConfig(), Logger: logger})
	go svcA.Run()

	addr := freeTCPAddr(t)
	svcA.Listen(addr)
	handleA.waitEvent(t, EventListenStarted)

	peerIdentity, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	handleB1 := newRecordingHandle()
	svcB1 := NewService(ServiceOptions{Handle: handleB1, Config: testServiceConfig(), Identity: peerIdentity, Logger: logger})
	go svcB1.Run()
	svcB1.Dial(addr, TargetProtocol{})
	handleB1.waitEvent(t, EventSessionOpen)
	handleA.waitEvent(t, EventSessionOpen)

	handleB2 := newRecordingHandle()
	svcB2 := NewService(ServiceOptions{Handle: handleB2, Config: testServiceConfig(), Identity: peerIdentity, Logger: logger})
	go svcB2.Run()
	svcB2.Dial(addr, TargetProtocol{})

	handleA.waitError(t, func(err ServiceError) bool {
		le, ok := err.(*ListenError)
		return ok && le.Kind == ListenRepeatedConnection
	})

	svcA.Control().Shutdown(true)
	svcB1.Control().Shutdown(true)
	svcB2.Control().Shutdown(true)

	for _, svc := range []*Service{svcA, svcB1, svcB2} {
		select {
		case <-svc.Terminated():
		case <-time.After(5 * time.Second):
			t.Fatal("service did not terminate after quick shutdown")
		}
	}
}

// TestServiceProtocolStream_BackpressureReportsPending covers the wedged
// half of the invariant that TrySend distinguishes a wedged handler
// (ResultPending) from a dead one (ResultDisconnect): with a wedged handler
// and a full queue it reports ResultPending instead of blocking the caller.
func TestServiceProtocolStream_BackpressureReportsPending(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	unblock := make(chan struct{})

	meta := &ProtocolMeta{ID: 1, Name: "/test/slow/1.0.0", SupportedVersions: []string{"1.0.0"}}
	handler := &blockingServiceProtocol{unblock: unblock, started: make(chan struct{}, 1)}

	adapter := NewServiceProtocolStream(meta, handler, NewServiceContext(nil, nil), 1, nil, logger)
	go adapter.Run()
	defer adapter.Cancel()

	adapter.Push(streamEvent{kind: streamReceived, data: []byte("1")})
	if got := adapter.TrySend(); got != ResultOK {
		t.Fatalf("first TrySend() = %v, want ResultOK", got)
	}

	<-handler.started

	adapter.Push(streamEvent{kind: streamReceived, data: []byte("2")})
	adapter.Push(streamEvent{kind: streamReceived, data: []byte("3")})
	if got := adapter.TrySend(); got != ResultPending {
		t.Fatalf("TrySend() with a full queue and a wedged handler = %v, want ResultPending", got)
	}
	if got := adapter.Len(); got == 0 {
		t.Fatalf("Len() = %d, want > 0 while events remain held", got)
	}

	close(unblock)
}

type blockingServiceProtocol struct {
	unblock chan struct{}
	started chan struct{}
}

func (p *blockingServiceProtocol) Init(*ProtocolContext) {}
func (p *blockingServiceProtocol) Connected(*ProtocolContextRef, string) {}
func (p *blockingServiceProtocol) Disconnected(*ProtocolContextRef) {}
func (p *blockingServiceProtocol) Received(*ProtocolContextRef, []byte) {
	select {
	case p.started <- struct{}{}:
	default:
	}
	<-p.unblock
}
func (p *blockingServiceProtocol) Notify(*ProtocolContext, uint64) {}
