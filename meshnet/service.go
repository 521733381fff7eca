package meshnet

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anyhost/meshnet/internal/common"
)

// runState mirrors the data model's State: { forever, pending, shutdown }.
// pending counts in-flight dial/listen attempts; the service is
// leaf-eligible for termination when pending=0, sessions empty, listens
// empty, future-task queue empty.
type runState struct {
	forever  bool
	pending  uint32
	shutdown bool
	preShutdown bool
}

func (s *runState) incPending() { s.pending++ }
func (s *runState) decPending() {
	if s.pending > 0 {
		s.pending--
	}
}

// sessionEntry bundles the pieces the Service keeps per live session: the
// controller other code pushes inbound events through, the concrete Session
// driving the wire, and its per-(session,protocol) handler adapters.
type sessionEntry struct {
	controller *SessionController
	session    Session
	protoAdapt map[ProtocolId]*SessionProtocolStream
}

// pendingListener tracks one active listener goroutine and its close func.
type pendingListener struct {
	closeFn func() error
}

// Service is the single-threaded cooperative event loop orchestrating
// Sessions, protocol handler adapters, and backpressure across the three
// buffer classes named in the concurrency model. It never locks its own
// maps; all mutation happens on the goroutine running Run.
type Service struct {
	registry *ProtocolRegistry
	handle   ServiceHandle
	config   *common.ServiceConfig
	identity *KeyPair

	transport  Transport
	handshaker Handshaker

	state runState

	sessions   map[SessionId]*sessionEntry
	idAlloc    sessionIdAllocator
	listens    map[Multiaddr]*pendingListener
	pendingDials map[Multiaddr]TargetProtocol

	serviceProtoHandles map[ProtocolId]*ServiceProtocolStream

	sessionEventCh chan SessionEvent
	highTasks      chan ServiceTask
	normalTasks    chan ServiceTask

	serviceContext *ServiceContext
	control        *Control

	futureTasks *FutureTaskManager

	shutdownFlag atomic.Bool
	terminated   chan struct{}

	logger *slog.Logger

	initOnce sync.Once
}

// ServiceOptions configures a new Service.
type ServiceOptions struct {
	Registry   *ProtocolRegistry
	Handle     ServiceHandle
	Config     *common.ServiceConfig
	Identity   *KeyPair
	Transport  Transport
	Handshaker Handshaker
	Logger     *slog.Logger
}

// NewService constructs a Service ready to Run. Forever comes from
// opts.Config.Forever; the backpressure thresholds and buffer capacities
// come from opts.Config.Backpressure.
func NewService(opts ServiceOptions) *Service {
	if opts.Handle == nil {
		opts.Handle = NopServiceHandle{}
	}
	if opts.Transport == nil {
		opts.Transport = TCPTransport{}
	}
	if opts.Handshaker == nil {
		opts.Handshaker = DefaultHandshaker{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = common.DefaultServiceConfig()
	}

	high := make(chan ServiceTask, cfg.Backpressure.ReceivedBufferSize)
	normal := make(chan ServiceTask, cfg.Backpressure.ReceivedBufferSize)
	control := newControl(high, normal)

	var pub []byte
	if opts.Identity != nil {
		pub = opts.Identity.Public[:]
	}

	svc := &Service{
		registry:            opts.Registry,
		handle:              opts.Handle,
		config:              cfg,
		identity:            opts.Identity,
		transport:           opts.Transport,
		handshaker:          opts.Handshaker,
		state:               runState{forever: cfg.Forever},
		sessions:            make(map[SessionId]*sessionEntry),
		listens:             make(map[Multiaddr]*pendingListener),
		pendingDials:        make(map[Multiaddr]TargetProtocol),
		serviceProtoHandles: make(map[ProtocolId]*ServiceProtocolStream),
		sessionEventCh:      make(chan SessionEvent, cfg.Backpressure.ReceivedSize),
		highTasks:           high,
		normalTasks:         normal,
		control:             control,
		futureTasks:         NewFutureTaskManager(cfg.Backpressure.SendSize, opts.Logger),
		terminated:          make(chan struct{}),
		logger:              opts.Logger.With(slog.String("component", "service")),
	}
	svc.serviceContext = NewServiceContext(control, pub)
	return svc
}

// Control returns the handle users post ServiceTasks through.
func (s *Service) Control() *Control { return s.control }

// Listen posts a Listen task for addr - a thin convenience over Control().
func (s *Service) Listen(addr Multiaddr) { s.control.Listen(addr) }

// Dial posts a Dial task for addr targeting target.
func (s *Service) Dial(addr Multiaddr, target TargetProtocol) { s.control.Dial(addr, target) }

// init runs the one-time startup work described in the event-loop algorithm
// step 2: spawn the FutureTaskManager driver and instantiate service-level
// protocol handles, emitting Init into each.
func (s *Service) init() {
	s.initOnce.Do(func() {
		go s.futureTasks.Run()

		if s.registry == nil {
			return
		}
		for _, meta := range s.registry.All() {
			if meta.ServiceHandler == nil {
				continue
			}
			handler := meta.ServiceHandler()
			adapter := NewServiceProtocolStream(meta, handler, s.serviceContext, s.config.Backpressure.ReceivedSize, nil, s.logger)
			s.serviceProtoHandles[meta.ID] = adapter
			go adapter.Run()
		}
	})
}

// Run drives the event loop until the shutdown state machine reaches
// Terminated. It must be called from its own goroutine; Control methods are
// the only safe way to interact with a running Service from elsewhere.
func (s *Service) Run() {
	s.init()

	flush := time.NewTicker(50 * time.Millisecond)
	defer flush.Stop()

	for {
		if s.isTerminalLeaf() {
			s.shutdownFlag.Store(true)
			s.drainHandleAdapters()
			close(s.terminated)
			return
		}

		// High-priority tasks drain before anything else is drawn.
		select {
		case t := <-s.highTasks:
			s.handleTask(t)
			continue
		default:
		}

		var sessCh <-chan SessionEvent
		if !s.recvCreditExceeded() {
			sessCh = s.sessionEventCh
		}
		var normalCh <-chan ServiceTask
		if !s.sendCreditExceeded() {
			normalCh = s.normalTasks
		}

		select {
		case ev := <-sessCh:
			s.handleSessionEvent(ev)
		case t := <-s.highTasks:
			s.handleTask(t)
		case t := <-normalCh:
			s.handleTask(t)
		case <-flush.C:
			s.flushBuffers()
			s.checkListenUpdate()
		}
	}
}

// Terminated returns a channel that closes once the Service has finished
// its shutdown state machine.
func (s *Service) Terminated() <-chan struct{} { return s.terminated }

// isTerminalLeaf implements the head/tail termination check: listens
// empty, sessions empty, no dial/listen attempt pending, and shutdown
// requested (or forever is false and the service has nothing left to do).
// The future-task queue itself is not inspected.
func (s *Service) isTerminalLeaf() bool {
	if len(s.listens) != 0 || len(s.sessions) != 0 || s.state.pending != 0 {
		return false
	}
	if s.state.shutdown {
		return true
	}
	return !s.state.forever
}

// recvCreditExceeded implements §4.7.1: sum len() across all
// service-proto and session-proto handler buffers; if either sum exceeds
// recv_event_size, inbound backpressure applies.
func (s *Service) recvCreditExceeded() bool {
	var serviceSum, sessionSum int
	for _, adapter := range s.serviceProtoHandles {
		serviceSum += adapter.Len()
	}
	for _, entry := range s.sessions {
		for _, adapter := range entry.protoAdapt {
			sessionSum += adapter.Len()
		}
	}
	limit := s.config.Backpressure.RecvEventSize
	return serviceSum > limit || sessionSum > limit
}

// sendCreditExceeded implements §4.7.2: sum per-session outbound buffer
// lengths; if it exceeds send_event_size, outbound backpressure applies.
func (s *Service) sendCreditExceeded() bool {
	var sum int
	for _, entry := range s.sessions {
		sum += entry.controller.Len()
	}
	return sum > s.config.Backpressure.SendEventSize
}

// flushBuffers implements §4.7 step 3: try_send on every per-session
// outbound buffer and every handler-adapter queue (service-level and
// session-level), classifying the ternary result. This is the same
// backpressure discipline every other boundary in the Service uses - an
// adapter stuck on a user callback reports ResultPending/ResultDisconnect
// here instead of blocking this goroutine forever.
func (s *Service) flushBuffers() {
	for id, entry := range s.sessions {
		switch entry.controller.TrySend() {
		case ResultPending:
			s.handle.HandleError(s.serviceContext, &SessionBlockedError{Session: id})
		case ResultDisconnect:
			s.handle.HandleError(s.serviceContext, &ProtocolHandleError{Kind: HandleAbnormallyClosed, Session: &id})
			s.control.Post(ShutdownTask(false))
		}
	}

	for protoID, adapter := range s.serviceProtoHandles {
		switch adapter.TrySend() {
		case ResultPending:
			pid := protoID
			s.handle.HandleError(s.serviceContext, &ProtocolHandleError{Kind: HandleBlocked, ProtocolID: &pid})
		case ResultDisconnect:
			pid := protoID
			s.handle.HandleError(s.serviceContext, &ProtocolHandleError{Kind: HandleAbnormallyClosed, ProtocolID: &pid})
			s.control.Post(ShutdownTask(false))
		}
	}

	for id, entry := range s.sessions {
		for protoID, adapter := range entry.protoAdapt {
			sid, pid := id, protoID
			switch adapter.TrySend() {
			case ResultPending:
				s.handle.HandleError(s.serviceContext, &ProtocolHandleError{Kind: HandleBlocked, Session: &sid, ProtocolID: &pid})
			case ResultDisconnect:
				s.handle.HandleError(s.serviceContext, &ProtocolHandleError{Kind: HandleAbnormallyClosed, Session: &sid, ProtocolID: &pid})
				s.control.Post(ShutdownTask(false))
			}
		}
	}
}

// checkListenUpdate implements §4.7 step 4 in part: it publishes the current
// listen set into the ServiceContext on every call. It does not compare
// against the previously published set and pushes no Update event into
// handler buffers; handlers read the set off the ServiceContext. The
// reference Transport implementations report their bound address once at
// Listen() time, so this mainly exists as the hook other Transports (with
// dynamic listen sets, e.g. behind a port-mapping helper) would use.
func (s *Service) checkListenUpdate() {
	addrs := make([]Multiaddr, 0, len(s.listens))
	for addr := range s.listens {
		addrs = append(addrs, addr)
	}
	s.serviceContext.SetListens(addrs)
}

// handleSessionEvent implements §4.7.3's dispatch table.
func (s *Service) handleSessionEvent(ev SessionEvent) {
	switch ev.Kind {
	case EventHandshakeSuccess:
		if ev.Direction == Outbound {
			s.state.decPending()
		}
		s.sessionOpen(ev)

	case EventHandshakeError:
		if ev.Direction == Outbound {
			s.state.decPending()
		}
		delete(s.pendingDials, ev.Address)
		s.handle.HandleError(s.serviceContext, &DialerError{Kind: DialerHandshakeError, Address: ev.Address, Inner: ev.Err})

	case EventDialError:
		s.state.decPending()
		delete(s.pendingDials, ev.Address)
		s.handle.HandleError(s.serviceContext, &DialerError{Kind: DialerTransportError, Address: ev.Address, Inner: ev.Err})

	case EventListenStart:
		s.state.decPending()
		s.checkListenUpdate()
		s.handle.HandleEvent(s.serviceContext, ServiceEvent{Kind: EventListenStarted, Address: ev.BoundAddr})

	case EventListenError:
		s.state.decPending()
		s.handle.HandleError(s.serviceContext, &ListenError{Kind: ListenTransportError, Address: ev.Address, Inner: ev.Err})

	case EventSessionClose:
		s.closeSession(ev.Session)

	case EventProtocolOpen:
		s.protocolOpen(ev)

	case EventProtocolMessage:
		s.routeProtocolMessage(ev)

	case EventProtocolClose:
		s.protocolClose(ev)

	case EventProtocolSelectError:
		s.handle.HandleError(s.serviceContext, &ProtocolSelectError{Session: ev.Session})

	case EventProtocolError:
		s.handle.HandleError(s.serviceContext, &ProtocolError{Session: ev.Session, ProtocolID: ev.ProtocolID, Kind: ProtocolErrorCodec, Inner: ev.Err})

	case EventMuxerError:
		s.handle.HandleError(s.serviceContext, &MuxerError{Session: ev.Session, Inner: ev.Err})
		s.closeSession(ev.Session)

	case EventSessionTimeout:
		s.handle.HandleError(s.serviceContext, &SessionTimeoutError{Session: ev.Session})
		s.closeSession(ev.Session)

	case EventProtocolHandleError:
		s.handle.HandleError(s.serviceContext, &ProtocolHandleError{Kind: HandleAbnormallyClosed})
		s.control.Post(ShutdownTask(false))
	}
}

// sessionOpen implements §4.7.5.
func (s *Service) sessionOpen(ev SessionEvent) {
	target, hadTarget := s.pendingDials[ev.Address]
	if !hadTarget {
		target = TargetProtocol{All: true}
	}
	delete(s.pendingDials, ev.Address)

	if ev.RemotePubKey != nil {
		for id, entry := range s.sessions {
			if entry.controller.Context.RemotePub != nil && string(entry.controller.Context.RemotePub) == string(ev.RemotePubKey) {
				s.logger.Debug("rejecting duplicate-pubkey connection", slog.Any("existing_session", id))
				if ev.SecureStream != nil {
					ev.SecureStream.Close()
				}
				existing := id
				if ev.Direction == Outbound {
					s.handle.HandleError(s.serviceContext, &DialerError{Kind: DialerRepeatedConnection, Address: ev.Address, ExistingSessionID: existing})
				} else {
					s.handle.HandleError(s.serviceContext, &ListenError{Kind: ListenRepeatedConnection, Address: ev.ListenAddr, ExistingSessionID: existing})
				}
				return
			}
		}

		address := ev.Address
		if peerID, ok := address.PeerId(); ok {
			wantID := peerIDFromPubKey(ev.RemotePubKey)
			if peerID != wantID {
				s.logger.Debug("peer id mismatch", slog.String("want", wantID), slog.String("got", peerID))
				if ev.SecureStream != nil {
					ev.SecureStream.Close()
				}
				s.handle.HandleError(s.serviceContext, &DialerError{Kind: DialerPeerIdNotMatch, Address: ev.Address})
				return
			}
		} else {
			address = address.WithPeerId(peerIDFromPubKey(ev.RemotePubKey))
		}
		ev.Address = address
	}

	id := s.idAlloc.allocate(s.liveControllers())

	sctx := NewSessionContext(id, ev.Address, ev.Direction, ev.RemotePubKey, ev.ListenAddr)
	inboundCh := make(chan SessionInboundEvent, s.config.Backpressure.ReceivedSize)
	controller := NewSessionController(sctx, inboundCh)

	entry := &sessionEntry{controller: controller, protoAdapt: make(map[ProtocolId]*SessionProtocolStream)}
	s.sessions[id] = entry

	if s.registry != nil {
		for _, meta := range s.registry.All() {
			if meta.SessionHandler == nil {
				continue
			}
			handler := meta.SessionHandler()
			adapter := NewSessionProtocolStream(meta, handler, s.serviceContext, sctx, s.config.Backpressure.ReceivedSize, nil, s.logger)
			entry.protoAdapt[meta.ID] = adapter
			go adapter.Run()
		}
	}

	deps := SessionDeps{
		Context:        sctx,
		Registry:       s.registry,
		Control:        s.control,
		EventCh:        s.sessionEventCh,
		InboundCh:      inboundCh,
		MaxFrameLength: s.config.MaxFrameLength,
		Timeout:        s.config.Timeouts.SessionTimeout,
		Logger:         s.logger,
	}
	yamuxSession, err := NewYamuxSession(ev.SecureStream, ev.Direction, deps)
	if err != nil {
		s.handle.HandleError(s.serviceContext, &MuxerError{Session: id, Inner: err})
		delete(s.sessions, id)
		return
	}
	entry.session = yamuxSession

	if ev.Direction == Outbound {
		s.preOpenProtocols(yamuxSession, target)
	}

	go yamuxSession.Run()

	s.handle.HandleEvent(s.serviceContext, ServiceEvent{Kind: EventSessionOpen, Session: id})
}

// preOpenProtocols drives the initiator side of protocol selection for
// every protocol target names, per session_open step 8.
func (s *Service) preOpenProtocols(session *YamuxSession, target TargetProtocol) {
	if s.registry == nil {
		return
	}
	open := func(meta *ProtocolMeta) {
		if _, _, err := session.OpenSubstream(meta.Name, meta.SupportedVersions); err != nil {
			s.logger.Debug("failed to pre-open protocol", slog.String("protocol", meta.Name), slog.Any("error", err))
		}
	}
	switch {
	case target.All:
		for _, meta := range s.registry.All() {
			open(meta)
		}
	case target.Single != nil:
		if meta, ok := s.registry.ByID(*target.Single); ok {
			open(meta)
		}
	default:
		for _, id := range target.Multi {
			if meta, ok := s.registry.ByID(id); ok {
				open(meta)
			}
		}
	}
}

// liveControllers exposes the current session map in the shape
// sessionIdAllocator.allocate expects.
func (s *Service) liveControllers() map[SessionId]*SessionController {
	out := make(map[SessionId]*SessionController, len(s.sessions))
	for id, entry := range s.sessions {
		out[id] = entry.controller
	}
	return out
}

// protocolOpen handles EventProtocolOpen: route to the session-level
// adapter (Connected) and/or the service-level adapter (Connected, scoped
// by session).
func (s *Service) protocolOpen(ev SessionEvent) {
	entry, ok := s.sessions[ev.Session]
	if !ok {
		return
	}
	if adapter, ok := entry.protoAdapt[ev.ProtocolID]; ok {
		adapter.Push(streamEvent{kind: streamConnected, version: ev.Version})
	}
	if adapter, ok := s.serviceProtoHandles[ev.ProtocolID]; ok {
		adapter.Push(streamEvent{kind: streamConnected, version: ev.Version, session: entry.controller.Context})
	}
}

// routeProtocolMessage handles EventProtocolMessage: per §4.7.3, if this
// protocol has event subscription via the service handle it is delivered to
// the service-level adapter; otherwise it has already been routed by the
// session to its per-(session,protocol) handler buffer. This implementation
// omits the deprecated handle_proto compatibility path (see DESIGN.md) and
// always prefers the session-level adapter when one exists, falling back to
// the service-level adapter otherwise.
func (s *Service) routeProtocolMessage(ev SessionEvent) {
	entry, ok := s.sessions[ev.Session]
	if !ok {
		return
	}
	if adapter, ok := entry.protoAdapt[ev.ProtocolID]; ok {
		adapter.Push(streamEvent{kind: streamReceived, data: ev.Data})
		return
	}
	if adapter, ok := s.serviceProtoHandles[ev.ProtocolID]; ok {
		adapter.Push(streamEvent{kind: streamReceived, data: ev.Data, session: entry.controller.Context})
	}
}

// protocolClose handles EventProtocolClose.
func (s *Service) protocolClose(ev SessionEvent) {
	entry, ok := s.sessions[ev.Session]
	if !ok {
		return
	}
	if adapter, ok := entry.protoAdapt[ev.ProtocolID]; ok {
		adapter.Push(streamEvent{kind: streamDisconnected})
		delete(entry.protoAdapt, ev.ProtocolID)
	}
	if adapter, ok := s.serviceProtoHandles[ev.ProtocolID]; ok {
		adapter.Push(streamEvent{kind: streamDisconnected, session: entry.controller.Context})
	}
}

// closeSession implements the SessionClose (internal) dispatch case: purge
// session-proto handle records, remove the SessionController, emit the
// user-visible SessionClose exactly once.
func (s *Service) closeSession(id SessionId) {
	entry, ok := s.sessions[id]
	if !ok {
		return
	}
	// The session may already have set the closed flag from its own Close;
	// removal from s.sessions below is what makes a second call a no-op.
	entry.controller.Context.MarkClosed()
	for _, adapter := range entry.protoAdapt {
		adapter.Cancel()
	}
	if entry.session != nil {
		entry.session.Close()
	}
	delete(s.sessions, id)
	s.handle.HandleEvent(s.serviceContext, ServiceEvent{Kind: EventUserSessionClose, Session: id})
}

// handleTask implements §4.7.4's dispatch table.
func (s *Service) handleTask(t ServiceTask) {
	switch t.Kind {
	case TaskProtocolMessage:
		s.dispatchProtocolMessage(t)
	case TaskDial:
		s.dispatchDial(t)
	case TaskListen:
		s.dispatchListen(t)
	case TaskDisconnect:
		if entry, ok := s.sessions[t.Session]; ok {
			entry.controller.Push(SessionInboundEvent{Kind: InboundSessionClose})
		}
	case TaskProtocolOpen:
		if entry, ok := s.sessions[t.Session]; ok {
			entry.controller.Push(SessionInboundEvent{Kind: InboundProtocolOpen, ProtocolID: t.ProtocolID})
		}
	case TaskProtocolClose:
		if entry, ok := s.sessions[t.Session]; ok {
			entry.controller.Push(SessionInboundEvent{Kind: InboundProtocolClose, ProtocolID: t.ProtocolID})
		}
	case TaskSetProtocolNotify:
		if adapter, ok := s.serviceProtoHandles[t.ProtocolID]; ok {
			adapter.Push(streamEvent{kind: streamSetNotify, interval: time.Duration(t.Interval), token: t.NotifyToken})
		}
	case TaskRemoveProtocolNotify:
		if adapter, ok := s.serviceProtoHandles[t.ProtocolID]; ok {
			adapter.Push(streamEvent{kind: streamRemoveNotify})
		}
	case TaskSetProtocolSessionNotify:
		if entry, ok := s.sessions[t.Session]; ok {
			if adapter, ok := entry.protoAdapt[t.ProtocolID]; ok {
				adapter.Push(streamEvent{kind: streamSetNotify, interval: time.Duration(t.Interval), token: t.NotifyToken})
			}
		}
	case TaskRemoveProtocolSessionNotify:
		if entry, ok := s.sessions[t.Session]; ok {
			if adapter, ok := entry.protoAdapt[t.ProtocolID]; ok {
				adapter.Push(streamEvent{kind: streamRemoveNotify})
			}
		}
	case TaskFutureTask:
		if t.Future != nil {
			s.futureTasks.Push(t.Future)
		}
	case TaskShutdown:
		s.dispatchShutdown(t.Quick)
	}
}

func (s *Service) dispatchProtocolMessage(t ServiceTask) {
	data := t.Data
	if s.registry != nil {
		if meta, ok := s.registry.ByID(t.ProtocolID); ok && meta.BeforeSend != nil {
			data = meta.BeforeSend(data)
		}
	}

	send := func(id SessionId) {
		if entry, ok := s.sessions[id]; ok {
			entry.controller.Push(SessionInboundEvent{Kind: InboundProtocolMessage, ProtocolID: t.ProtocolID, Data: data})
		}
	}

	switch {
	case t.Target.Single != nil:
		send(*t.Target.Single)
	case t.Target.All:
		for id := range s.sessions {
			send(id)
		}
	default:
		for _, id := range t.Target.Multi {
			send(id)
		}
	}

	for _, entry := range s.sessions {
		entry.controller.TrySend()
	}
}

func (s *Service) dispatchDial(t ServiceTask) {
	if _, pending := s.pendingDials[t.Address]; pending {
		return
	}
	s.pendingDials[t.Address] = t.DialFor
	s.state.incPending()

	timeout := s.config.Timeouts.DialTimeout
	handshakeTimeout := s.config.Timeouts.HandshakeTimeout
	maxFrame := s.config.MaxFrameLength
	identity := s.identity
	transport := s.transport
	handshaker := s.handshaker
	eventCh := s.sessionEventCh
	addr := t.Address
	logger := s.logger

	s.futureTasks.Push(func() {
		_, conn, err := transport.Dial(addr, timeout)
		if err != nil {
			eventCh <- SessionEvent{Kind: EventDialError, Address: addr, Err: err}
			return
		}
		driver := &HandshakeDriver{Handshaker: handshaker, Identity: identity, Timeout: handshakeTimeout, MaxFrameLength: maxFrame, Logger: logger}
		ev := driver.Drive(conn, Outbound, addr, "")
		eventCh <- ev
	})
}

func (s *Service) dispatchListen(t ServiceTask) {
	s.state.incPending()

	transport := s.transport
	handshakeTimeout := s.config.Timeouts.HandshakeTimeout
	maxFrame := s.config.MaxFrameLength
	identity := s.identity
	handshaker := s.handshaker
	eventCh := s.sessionEventCh
	addr := t.Address
	logger := s.logger

	boundAddr, incoming, closeFn, err := transport.Listen(addr)
	if err != nil {
		eventCh <- SessionEvent{Kind: EventListenError, Address: addr, Err: err}
		return
	}
	s.listens[boundAddr] = &pendingListener{closeFn: closeFn}
	eventCh <- SessionEvent{Kind: EventListenStart, Address: addr, BoundAddr: boundAddr}

	s.futureTasks.Push(func() {
		for incomingConn := range incoming {
			conn := incomingConn
			s.futureTasks.Push(func() {
				driver := &HandshakeDriver{Handshaker: handshaker, Identity: identity, Timeout: handshakeTimeout, MaxFrameLength: maxFrame, Logger: logger}
				ev := driver.Drive(conn.Conn, Inbound, conn.RemoteAddr, boundAddr)
				eventCh <- ev
			})
		}
	})
}

func (s *Service) dispatchShutdown(quick bool) {
	s.state.preShutdown = true
	s.state.shutdown = true

	for addr, l := range s.listens {
		if l.closeFn != nil {
			l.closeFn()
		}
		delete(s.listens, addr)
		s.handle.HandleEvent(s.serviceContext, ServiceEvent{Kind: EventListenClose, Address: addr})
	}
	s.futureTasks.Shutdown()

	if quick {
		for id := range s.sessions {
			s.closeSession(id)
		}
		return
	}
	for _, entry := range s.sessions {
		entry.controller.Push(SessionInboundEvent{Kind: InboundSessionClose})
	}
}

// drainHandleAdapters implements wait_handle_poll: send the one-shot cancel
// to every spawned handler adapter.
func (s *Service) drainHandleAdapters() {
	for _, adapter := range s.serviceProtoHandles {
		adapter.Cancel()
	}
	for _, entry := range s.sessions {
		for _, adapter := range entry.protoAdapt {
			adapter.Cancel()
		}
	}
}

// peerIDFromPubKey derives a short textual peer-id from a public key,
// matching the address-grammar expectation that /p2p/<value> is a
// human-readable identity string.
func peerIDFromPubKey(pub []byte) string {
	return fmt.Sprintf("%x", pub)
}
