package meshnet

import (
	"sync"
	"sync/atomic"
)

// Direction records which side initiated a session.
type Direction int

const (
	// Outbound means the local side dialed the remote peer.
	Outbound Direction = iota
	// Inbound means the remote peer dialed the local side.
	Inbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// SessionContext is the immutable-after-create descriptor for one open
// session, shared by reference with every handler that touches the
// session. Its two atomic fields are the only mutable state; everything
// else is fixed at construction.
type SessionContext struct {
	ID         SessionId
	Address    Multiaddr
	Direction  Direction
	RemotePub  []byte // nil if the handshake produced no remote identity
	ListenAddr Multiaddr

	closed          atomic.Bool
	pendingDataSize atomic.Int64
}

// NewSessionContext builds a SessionContext with fresh atomic flags.
func NewSessionContext(id SessionId, addr Multiaddr, dir Direction, remotePub []byte, listenAddr Multiaddr) *SessionContext {
	return &SessionContext{
		ID:         id,
		Address:    addr,
		Direction:  dir,
		RemotePub:  remotePub,
		ListenAddr: listenAddr,
	}
}

// Closed reports whether the session has been torn down.
func (sc *SessionContext) Closed() bool {
	return sc.closed.Load()
}

// MarkClosed transitions the closed flag false -> true. Only the first
// caller observes a state change; subsequent calls are no-ops, preserving
// the "closed-flag transitions at most once" invariant.
func (sc *SessionContext) MarkClosed() (transitioned bool) {
	return sc.closed.CompareAndSwap(false, true)
}

// PendingDataSize returns the current outbound-byte counter.
func (sc *SessionContext) PendingDataSize() int64 {
	return sc.pendingDataSize.Load()
}

// AddPendingDataSize adjusts the outbound-byte counter by delta, which may
// be negative once bytes have been flushed to the wire.
func (sc *SessionContext) AddPendingDataSize(delta int64) {
	sc.pendingDataSize.Add(delta)
}

// SessionController owns a prioritized sender into the session's event
// stream plus the SessionContext. While a SessionController is present in
// the Service's session map, the session it describes is considered live.
type SessionController struct {
	Context   *SessionContext
	outbound  *Buffer[SessionInboundEvent]
}

// NewSessionController builds a SessionController around a freshly created
// outbound channel and a SessionContext.
func NewSessionController(ctx *SessionContext, ch chan SessionInboundEvent) *SessionController {
	return &SessionController{
		Context:  ctx,
		outbound: NewBuffer(ch),
	}
}

// Push queues an inbound-to-session event (ProtocolOpen/Message/Close,
// SessionClose) without blocking.
func (c *SessionController) Push(ev SessionInboundEvent) {
	c.outbound.Push(ev)
}

// TrySend drains the controller's queue toward the session, reporting the
// ternary backpressure outcome the Service uses to detect SessionBlocked
// versus a dead session.
func (c *SessionController) TrySend() SendResult {
	return c.outbound.TrySend()
}

// Len reports how many events are still queued toward the session.
func (c *SessionController) Len() int {
	return c.outbound.Len()
}

// ServiceContext is the shared facade handed to user handlers: the current
// set of listening addresses, the local identity key (if any), and a
// Control handle for posting tasks back into the Service.
type ServiceContext struct {
	Control *Control

	mu      sync.RWMutex
	listens []Multiaddr
	pubKey  []byte
}

// NewServiceContext builds a ServiceContext around a Control handle.
func NewServiceContext(control *Control, pubKey []byte) *ServiceContext {
	return &ServiceContext{
		Control: control,
		pubKey:  pubKey,
	}
}

// Listens returns a snapshot of the current listening addresses.
func (sc *ServiceContext) Listens() []Multiaddr {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	out := make([]Multiaddr, len(sc.listens))
	copy(out, sc.listens)
	return out
}

// SetListens replaces the published listen-address set. Only the Service
// goroutine calls this, from the listen-update step of its poll loop.
func (sc *ServiceContext) SetListens(addrs []Multiaddr) {
	sc.mu.Lock()
	sc.listens = addrs
	sc.mu.Unlock()
}

// PublicKey returns the local identity's public key, or nil if the Service
// was configured without one.
func (sc *ServiceContext) PublicKey() []byte {
	return sc.pubKey
}
