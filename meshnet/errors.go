package meshnet

import "fmt"

// ServiceError is the sum type surfaced to ServiceHandle.HandleError,
// mirroring the teacher's ErrorCode constants plus ErrorToCode/CodeToError
// pattern in internal/protocol/errors.go, generalized from a fixed set of
// tunnel-domain codes to the taxonomy in the error handling design.
type ServiceError interface {
	error
	serviceError()
}

// TransportError reports a non-fatal listen/dial failure from the Transport
// collaborator.
type TransportError struct {
	Address Multiaddr
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on %s: %v", e.Address, e.Err)
}
func (*TransportError) serviceError() {}

// DialerErrorKind discriminates the ways a dial can fail.
type DialerErrorKind int

const (
	DialerRepeatedConnection DialerErrorKind = iota
	DialerPeerIdNotMatch
	DialerHandshakeError
	DialerTransportError
)

// DialerError reports a dial-path failure.
type DialerError struct {
	Kind              DialerErrorKind
	Address           Multiaddr
	ExistingSessionID SessionId // set when Kind == DialerRepeatedConnection
	Inner             error
}

func (e *DialerError) Error() string {
	switch e.Kind {
	case DialerRepeatedConnection:
		return fmt.Sprintf("dial %s: repeated connection to session %d", e.Address, e.ExistingSessionID)
	case DialerPeerIdNotMatch:
		return fmt.Sprintf("dial %s: peer id does not match", e.Address)
	case DialerHandshakeError:
		return fmt.Sprintf("dial %s: handshake error: %v", e.Address, e.Inner)
	default:
		return fmt.Sprintf("dial %s: transport error: %v", e.Address, e.Inner)
	}
}
func (*DialerError) serviceError() {}

// ListenErrorKind discriminates the ways accepting an inbound connection
// can fail.
type ListenErrorKind int

const (
	ListenRepeatedConnection ListenErrorKind = iota
	ListenTransportError
)

// ListenError reports an inbound-side failure.
type ListenError struct {
	Kind              ListenErrorKind
	Address           Multiaddr
	ExistingSessionID SessionId
	Inner             error
}

func (e *ListenError) Error() string {
	if e.Kind == ListenRepeatedConnection {
		return fmt.Sprintf("listen %s: repeated connection to session %d", e.Address, e.ExistingSessionID)
	}
	return fmt.Sprintf("listen %s: transport error: %v", e.Address, e.Inner)
}
func (*ListenError) serviceError() {}

// ProtocolSelectError reports that protocol-selection negotiation failed on
// one substream; the owning session survives.
type ProtocolSelectError struct {
	ProtocolName string
	Session      SessionId
}

func (e *ProtocolSelectError) Error() string {
	return fmt.Sprintf("session %d: protocol select failed for %q", e.Session, e.ProtocolName)
}
func (*ProtocolSelectError) serviceError() {}

// ProtocolErrorKind discriminates substream-level failures.
type ProtocolErrorKind int

const (
	ProtocolErrorCodec ProtocolErrorKind = iota
	ProtocolErrorIO
)

// ProtocolError reports a codec/frame-limit/I-O error on a substream; the
// substream is closed but the owning session survives.
type ProtocolError struct {
	Session    SessionId
	ProtocolID ProtocolId
	Kind       ProtocolErrorKind
	Inner      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("session %d protocol %d: %v", e.Session, e.ProtocolID, e.Inner)
}
func (*ProtocolError) serviceError() {}

// MuxerError is fatal at the session layer; the session is closed.
type MuxerError struct {
	Session SessionId
	Inner   error
}

func (e *MuxerError) Error() string {
	return fmt.Sprintf("session %d: muxer error: %v", e.Session, e.Inner)
}
func (*MuxerError) serviceError() {}

// SessionTimeoutError reports a session idle beyond its configured timeout.
type SessionTimeoutError struct {
	Session SessionId
}

func (e *SessionTimeoutError) Error() string {
	return fmt.Sprintf("session %d: timed out", e.Session)
}
func (*SessionTimeoutError) serviceError() {}

// SessionBlockedError is reported each poll round a session's outbound
// buffer remains saturated.
type SessionBlockedError struct {
	Session SessionId
}

func (e *SessionBlockedError) Error() string {
	return fmt.Sprintf("session %d: outbound buffer blocked", e.Session)
}
func (*SessionBlockedError) serviceError() {}

// ProtocolHandleErrorKind discriminates a wedged handler adapter from a
// dead one.
type ProtocolHandleErrorKind int

const (
	HandleBlocked ProtocolHandleErrorKind = iota
	HandleAbnormallyClosed
)

// ProtocolHandleError reports that a handler adapter is wedged or has died.
// HandleAbnormallyClosed triggers a service-wide Shutdown(false), because it
// means the user has lost the ability to observe events.
type ProtocolHandleError struct {
	Kind       ProtocolHandleErrorKind
	Session    *SessionId  // nil for a service-level handler
	ProtocolID *ProtocolId // nil when the error concerns a session as a whole
}

func (e *ProtocolHandleError) Error() string {
	if e.Kind == HandleAbnormallyClosed {
		return "protocol handle abnormally closed"
	}
	return "protocol handle blocked"
}
func (*ProtocolHandleError) serviceError() {}
