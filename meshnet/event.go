package meshnet

import "io"

// SessionEventKind discriminates the SessionEvent variants a Session or
// HandshakeDriver emits toward the Service: SessionClose, HandshakeSuccess,
// HandshakeError, ProtocolOpen, ProtocolMessage, ProtocolClose,
// ProtocolSelectError, ProtocolError, DialError, ListenError, ListenStart,
// SessionTimeout, MuxerError, ProtocolHandleError.
type SessionEventKind int

const (
	EventSessionClose SessionEventKind = iota
	EventHandshakeSuccess
	EventHandshakeError
	EventProtocolOpen
	EventProtocolMessage
	EventProtocolClose
	EventProtocolSelectError
	EventProtocolError
	EventDialError
	EventListenError
	EventListenStart
	EventSessionTimeout
	EventMuxerError
	EventProtocolHandleError
)

// SessionEvent flows from a session (or its handshake driver, or a
// listener pump) into the Service's single event-receiver channel.
type SessionEvent struct {
	Kind SessionEventKind

	Session    SessionId
	ProtocolID ProtocolId
	Data       []byte
	Version    string
	Err        error

	// HandshakeSuccess payload
	SecureStream io.ReadWriteCloser
	RemotePubKey []byte
	Address      Multiaddr
	Direction    Direction
	ListenAddr   Multiaddr

	// ListenStart payload
	BoundAddr Multiaddr

	// DialError/ListenError/ProtocolSelectError context
	DialAddress Multiaddr
}

// SessionInboundEvent is pushed from the Service into a live session's
// inbound queue: ProtocolOpen, ProtocolMessage, ProtocolClose, SessionClose.
type SessionInboundEventKind int

const (
	InboundProtocolOpen SessionInboundEventKind = iota
	InboundProtocolMessage
	InboundProtocolClose
	InboundSessionClose
)

type SessionInboundEvent struct {
	Kind       SessionInboundEventKind
	ProtocolID ProtocolId
	Data       []byte
}
