package meshnet

import "testing"

func TestSessionContext_MarkClosedTransitionsOnce(t *testing.T) {
	sc := NewSessionContext(1, "/ip4/127.0.0.1/tcp/9000", Outbound, nil, "")

	if sc.Closed() {
		t.Fatal("Closed() = true before MarkClosed")
	}
	if !sc.MarkClosed() {
		t.Fatal("MarkClosed() = false on first call, want true")
	}
	if sc.MarkClosed() {
		t.Fatal("MarkClosed() = true on second call, want false")
	}
	if !sc.Closed() {
		t.Fatal("Closed() = false after MarkClosed")
	}
}

func TestSessionContext_PendingDataSize(t *testing.T) {
	sc := NewSessionContext(1, "/ip4/127.0.0.1/tcp/9000", Outbound, nil, "")
	sc.AddPendingDataSize(10)
	sc.AddPendingDataSize(5)
	if got := sc.PendingDataSize(); got != 15 {
		t.Fatalf("PendingDataSize() = %d, want 15", got)
	}
	sc.AddPendingDataSize(-15)
	if got := sc.PendingDataSize(); got != 0 {
		t.Fatalf("PendingDataSize() = %d, want 0", got)
	}
}

func TestSessionController_PushAndTrySend(t *testing.T) {
	sc := NewSessionContext(1, "/ip4/127.0.0.1/tcp/9000", Outbound, nil, "")
	ch := make(chan SessionInboundEvent, 1)
	ctrl := NewSessionController(sc, ch)

	ctrl.Push(SessionInboundEvent{Kind: InboundProtocolMessage, ProtocolID: 1, Data: []byte("hi")})
	if got := ctrl.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
	if result := ctrl.TrySend(); result != ResultOK {
		t.Fatalf("TrySend() = %v, want ResultOK", result)
	}

	ev := <-ch
	if ev.Kind != InboundProtocolMessage || string(ev.Data) != "hi" {
		t.Fatalf("got %+v, want InboundProtocolMessage with data %q", ev, "hi")
	}
}

func TestServiceContext_Listens(t *testing.T) {
	ctrl := newControl(make(chan ServiceTask, 1), make(chan ServiceTask, 1))
	sc := NewServiceContext(ctrl, []byte("pub"))

	if got := sc.Listens(); len(got) != 0 {
		t.Fatalf("Listens() = %v, want empty", got)
	}

	sc.SetListens([]Multiaddr{"/ip4/0.0.0.0/tcp/9000"})
	got := sc.Listens()
	if len(got) != 1 || got[0] != "/ip4/0.0.0.0/tcp/9000" {
		t.Fatalf("Listens() = %v, want one entry", got)
	}

	// Mutating the returned slice must not affect internal state.
	got[0] = "tampered"
	if sc.Listens()[0] != "/ip4/0.0.0.0/tcp/9000" {
		t.Fatal("Listens() returned slice aliases internal state")
	}

	if string(sc.PublicKey()) != "pub" {
		t.Fatalf("PublicKey() = %q, want %q", sc.PublicKey(), "pub")
	}
}
