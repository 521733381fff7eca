package meshnet

import (
	"fmt"
	"io"
)

// BlockingFlag bits mark which ServiceProtocol/SessionProtocol callbacks
// may block. The adapters honor only BlockReceived, moving Received onto a
// scoped background task; BlockConnected, BlockDisconnected and BlockNotify
// are accepted but their callbacks still run inline.
type BlockingFlag uint8

const (
	BlockConnected BlockingFlag = 1 << iota
	BlockDisconnected
	BlockReceived
	BlockNotify
)

// Has reports whether bit is set in the flag set.
func (f BlockingFlag) Has(bit BlockingFlag) bool { return f&bit != 0 }

// ServiceProtocol is the service-level protocol handle: stateful across the
// whole service lifetime, shared by every session that opens this protocol.
type ServiceProtocol interface {
	Init(ctx *ProtocolContext)
	Connected(ctx *ProtocolContextRef, version string)
	Disconnected(ctx *ProtocolContextRef)
	Received(ctx *ProtocolContextRef, data []byte)
	Notify(ctx *ProtocolContext, token uint64)
}

// SessionProtocol is the session-level protocol handle: stateful only for
// one session x protocol pair, created when the session opens and
// discarded when the protocol or the session closes.
type SessionProtocol interface {
	Connected(ctx *ProtocolContextRef, version string)
	Disconnected(ctx *ProtocolContextRef)
	Received(ctx *ProtocolContextRef, data []byte)
	Notify(ctx *ProtocolContextRef, token uint64)
}

// ProtocolSpawn is mutually exclusive with ServiceProtocol/SessionProtocol
// within one protocol: implementing it means the protocol wants to drive
// its own read loop over the raw substream rather than receive discrete
// Received() callbacks.
type ProtocolSpawn interface {
	Spawn(ctx *SessionContext, control *Control, readPart io.Reader)
}

// Codec is the pluggable per-protocol frame codec: a decoder that turns a
// byte stream into discrete messages and an encoder that turns a message
// back into bytes, exactly the pairing the spec calls out. The reference
// YamuxSession does not consult ProtocolMeta.NewCodec; its substreams always
// use protocol.ReadFrame/WriteFrame.
type Codec interface {
	Decode(r io.Reader) ([]byte, error)
	Encode(w io.Writer, data []byte) error
}

// ProtocolMeta is the per-protocol configuration held in a ProtocolRegistry:
// name, supported versions, codec factory, optional service/session handler
// factories, optional before-send transform, and the blocking-flag bitset.
type ProtocolMeta struct {
	ID                ProtocolId
	Name              string
	SupportedVersions []string
	NewCodec          func() Codec
	ServiceHandler    func() ServiceProtocol
	SessionHandler    func() SessionProtocol
	SpawnHandler      ProtocolSpawn
	BeforeSend        func(data []byte) []byte
	Blocking          BlockingFlag
}

// hasCallbackHandler reports whether this meta carries a
// ServiceProtocol/SessionProtocol factory (the "Callback" or "Both" kind).
func (m *ProtocolMeta) hasCallbackHandler() bool {
	return m.ServiceHandler != nil || m.SessionHandler != nil
}

// ProtocolRegistry holds ProtocolMeta records, static after construction.
// The Service reads each meta's BeforeSend hook from the registry on every
// outbound ProtocolMessage.
type ProtocolRegistry struct {
	byName map[string]*ProtocolMeta
	byID   map[ProtocolId]*ProtocolMeta
}

// NewProtocolRegistry validates and indexes metas, enforcing the
// construction-time invariant that a ProtocolSpawn handler and a
// Callback/Both handler are mutually exclusive for the same protocol.
func NewProtocolRegistry(metas []*ProtocolMeta) (*ProtocolRegistry, error) {
	r := &ProtocolRegistry{
		byName: make(map[string]*ProtocolMeta, len(metas)),
		byID:   make(map[ProtocolId]*ProtocolMeta, len(metas)),
	}
	for _, m := range metas {
		if m.SpawnHandler != nil && m.hasCallbackHandler() {
			return nil, fmt.Errorf("protocol %q: ProtocolSpawn and ServiceHandler/SessionHandler are mutually exclusive", m.Name)
		}
		if m.SpawnHandler == nil && !m.hasCallbackHandler() {
			return nil, fmt.Errorf("protocol %q: must provide either a ProtocolSpawn or a ServiceHandler/SessionHandler factory", m.Name)
		}
		if _, exists := r.byName[m.Name]; exists {
			return nil, fmt.Errorf("protocol %q: duplicate name", m.Name)
		}
		if _, exists := r.byID[m.ID]; exists {
			return nil, fmt.Errorf("protocol id %d: duplicate", m.ID)
		}
		r.byName[m.Name] = m
		r.byID[m.ID] = m
	}
	return r, nil
}

// ByName looks up a ProtocolMeta by name.
func (r *ProtocolRegistry) ByName(name string) (*ProtocolMeta, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// ByID looks up a ProtocolMeta by id.
func (r *ProtocolRegistry) ByID(id ProtocolId) (*ProtocolMeta, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// All returns every registered ProtocolMeta, in no particular order.
func (r *ProtocolRegistry) All() []*ProtocolMeta {
	out := make([]*ProtocolMeta, 0, len(r.byID))
	for _, m := range r.byID {
		out = append(out, m)
	}
	return out
}
