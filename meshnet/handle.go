package meshnet

// ServiceEventKind discriminates the user-visible lifecycle events
// delivered to ServiceHandle.HandleEvent: session establishment/teardown
// and listen start/stop, as distinct from the internal SessionEvent stream
// sessions use to talk to the Service.
type ServiceEventKind int

const (
	EventSessionOpen ServiceEventKind = iota
	EventUserSessionClose
	EventListenStarted
	EventListenClose
)

// ServiceEvent is the user-visible counterpart of the internal
// SessionEvent: what ServiceHandle.HandleEvent actually observes.
type ServiceEvent struct {
	Kind    ServiceEventKind
	Session SessionId
	Address Multiaddr
}

// ServiceHandle is the top-level user handler: it mainly reports
// Service-level errors and session/listen lifecycle events. This
// implementation omits the deprecated HandleProto compatibility path
// (see DESIGN.md) and routes all protocol-level events exclusively through
// ServiceProtocol/SessionProtocol/ProtocolSpawn handlers instead.
type ServiceHandle interface {
	HandleError(ctx *ServiceContext, err ServiceError)
	HandleEvent(ctx *ServiceContext, ev ServiceEvent)
}

// NopServiceHandle is a ServiceHandle that does nothing, useful as the
// zero-configuration default, mirroring the Rust impl's `impl ServiceHandle
// for ()`.
type NopServiceHandle struct{}

func (NopServiceHandle) HandleError(*ServiceContext, ServiceError) {}
func (NopServiceHandle) HandleEvent(*ServiceContext, ServiceEvent)  {}
