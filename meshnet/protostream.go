package meshnet

import (
	"log/slog"
	"sync"
	"time"
)

// ProtocolContext is handed to a ServiceProtocol's Init/Notify callbacks: it
// carries the shared ServiceContext plus this protocol's id, so a
// service-level handler can address any session.
type ProtocolContext struct {
	Service    *ServiceContext
	ProtocolID ProtocolId
}

// ProtocolContextRef is handed to Connected/Disconnected/Received/Notify
// callbacks: it additionally carries the session the callback concerns.
type ProtocolContextRef struct {
	Service    *ServiceContext
	ProtocolID ProtocolId
	Session    *SessionContext
}

// streamEventKind discriminates the events a handler adapter drains from
// its bounded queue: Init/Connected/Disconnected/Received/Notify/Update/
// SetNotify/RemoveNotify.
type streamEventKind int

const (
	streamInit streamEventKind = iota
	streamConnected
	streamDisconnected
	streamReceived
	streamNotify
	streamUpdate
	streamSetNotify
	streamRemoveNotify
)

type streamEvent struct {
	kind    streamEventKind
	version string
	data    []byte
	token   uint64
	listens []Multiaddr

	// session identifies which session this event concerns, for the
	// service-level adapter (shared across sessions) to build a correctly
	// scoped ProtocolContextRef per dispatch.
	session *SessionContext

	// SetNotify payload
	interval time.Duration
}

// ServiceProtocolStream drains a bounded queue of streamEvents for one
// ServiceProtocol, dispatching them FIFO. Received runs on a scoped
// goroutine when the meta's Blocking set has BlockReceived; the other
// blocking bits are not consulted, and every other callback runs inline on
// the adapter's own goroutine. Handler callbacks return no error: the
// adapter ends only on Cancel or when its queue closes, and nothing is sent
// on errCh. Every send onto the adapter's queue goes through outbound,
// the same Buffer[T]/TrySend discipline every other backpressure boundary
// in the service uses - a raw channel send here would let the Service's
// single goroutine block forever on one saturated handler.
type ServiceProtocolStream struct {
	meta    *ProtocolMeta
	handler ServiceProtocol
	service *ServiceContext
	queue   chan streamEvent
	outbound *Buffer[streamEvent]
	cancel  chan struct{}
	errCh   chan<- *ProtocolHandleError
	logger  *slog.Logger

	notifyMu   sync.Mutex
	notifyStop chan struct{}
}

// NewServiceProtocolStream constructs an adapter around handler, ready to
// be driven by Run in its own goroutine.
func NewServiceProtocolStream(meta *ProtocolMeta, handler ServiceProtocol, service *ServiceContext, queueSize int, errCh chan<- *ProtocolHandleError, logger *slog.Logger) *ServiceProtocolStream {
	ch := make(chan streamEvent, queueSize)
	return &ServiceProtocolStream{
		meta:     meta,
		handler:  handler,
		service:  service,
		queue:    ch,
		outbound: NewBuffer(ch),
		cancel:   make(chan struct{}),
		errCh:    errCh,
		logger:   logger.With(slog.String("component", "service_protocol_stream"), slog.String("protocol", meta.Name)),
	}
}

// Push queues ev without blocking the caller, holding it until TrySend can
// move it onto the bounded channel the adapter's Run loop reads from.
func (s *ServiceProtocolStream) Push(ev streamEvent) { s.outbound.Push(ev) }

// TrySend drains held events into the adapter's channel, reporting the
// ternary backpressure outcome the Service uses to detect a wedged or dead
// handler (§4.7 step 3).
func (s *ServiceProtocolStream) TrySend() SendResult { return s.outbound.TrySend() }

// Cancel signals the adapter to exit at its next opportunity, the one-shot
// cancel sender the Service races against the drive loop on shutdown.
func (s *ServiceProtocolStream) Cancel() {
	s.stopNotify()
	close(s.cancel)
}

// Len reports how many events are currently held but not yet moved onto the
// adapter's channel, what the Service sums for its inbound credit check.
func (s *ServiceProtocolStream) Len() int { return s.outbound.Len() }

// Run drains the queue until it is closed or Cancel is called, dispatching
// each event to the wrapped ServiceProtocol.
func (s *ServiceProtocolStream) Run() {
	ctx := &ProtocolContext{Service: s.service, ProtocolID: s.meta.ID}
	s.handler.Init(ctx)

	for {
		select {
		case <-s.cancel:
			return
		case ev, ok := <-s.queue:
			if !ok {
				return
			}
			if !s.dispatch(ctx, ev) {
				return
			}
		}
	}
}

func (s *ServiceProtocolStream) dispatch(ctx *ProtocolContext, ev streamEvent) bool {
	ref := &ProtocolContextRef{Service: s.service, ProtocolID: s.meta.ID, Session: ev.session}

	run := func(fn func()) {
		if s.meta.Blocking.Has(BlockReceived) && ev.kind == streamReceived {
			go fn()
			return
		}
		fn()
	}

	switch ev.kind {
	case streamConnected:
		run(func() { s.handler.Connected(ref, ev.version) })
	case streamDisconnected:
		run(func() { s.handler.Disconnected(ref) })
	case streamReceived:
		run(func() { s.handler.Received(ref, ev.data) })
	case streamNotify:
		run(func() { s.handler.Notify(ctx, ev.token) })
	case streamUpdate:
		// Listen-set update: nothing to dispatch to the handler beyond what
		// it can already read off the shared ServiceContext.
	case streamSetNotify:
		s.startNotify(ev.interval, ev.token)
	case streamRemoveNotify:
		s.stopNotify()
	}
	return true
}

// startNotify (re)starts the adapter's notify timer, the "timer thread
// inside the adapter" that synthesizes Notify events at ev.interval,
// stopping any timer already running for this adapter.
func (s *ServiceProtocolStream) startNotify(interval time.Duration, token uint64) {
	s.stopNotify()
	if interval <= 0 {
		return
	}
	stop := make(chan struct{})
	s.notifyMu.Lock()
	s.notifyStop = stop
	s.notifyMu.Unlock()
	go s.runNotifyTimer(interval, token, stop)
}

func (s *ServiceProtocolStream) stopNotify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if s.notifyStop != nil {
		close(s.notifyStop)
		s.notifyStop = nil
	}
}

func (s *ServiceProtocolStream) runNotifyTimer(interval time.Duration, token uint64, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-s.cancel:
			return
		case <-ticker.C:
			s.Push(streamEvent{kind: streamNotify, token: token})
		}
	}
}

// SessionProtocolStream is the session-scoped analogue of
// ServiceProtocolStream: one is created per registered session handler when
// the session opens, and it ends when that protocol closes on the session
// or the session closes.
type SessionProtocolStream struct {
	meta    *ProtocolMeta
	handler SessionProtocol
	service *ServiceContext
	session *SessionContext
	queue   chan streamEvent
	outbound *Buffer[streamEvent]
	cancel  chan struct{}
	errCh   chan<- *ProtocolHandleError
	logger  *slog.Logger

	notifyMu   sync.Mutex
	notifyStop chan struct{}
}

// NewSessionProtocolStream constructs a session-scoped adapter.
func NewSessionProtocolStream(meta *ProtocolMeta, handler SessionProtocol, service *ServiceContext, session *SessionContext, queueSize int, errCh chan<- *ProtocolHandleError, logger *slog.Logger) *SessionProtocolStream {
	ch := make(chan streamEvent, queueSize)
	return &SessionProtocolStream{
		meta:     meta,
		handler:  handler,
		service:  service,
		session:  session,
		queue:    ch,
		outbound: NewBuffer(ch),
		cancel:   make(chan struct{}),
		errCh:    errCh,
		logger: logger.With(
			slog.String("component", "session_protocol_stream"),
			slog.String("protocol", meta.Name),
			slog.Any("session", session.ID),
		),
	}
}

// Push queues ev without blocking the caller, holding it until TrySend can
// move it onto the bounded channel the adapter's Run loop reads from.
func (s *SessionProtocolStream) Push(ev streamEvent) { s.outbound.Push(ev) }

// TrySend drains held events into the adapter's channel, reporting the
// ternary backpressure outcome the Service uses to detect a wedged or dead
// handler (§4.7 step 3).
func (s *SessionProtocolStream) TrySend() SendResult { return s.outbound.TrySend() }

// Cancel signals the adapter to exit at its next opportunity.
func (s *SessionProtocolStream) Cancel() {
	s.stopNotify()
	close(s.cancel)
}

// Len reports how many events are currently held but not yet moved onto the
// adapter's channel.
func (s *SessionProtocolStream) Len() int { return s.outbound.Len() }

// Run drains the queue until closed or cancelled. An adapter that receives
// a disconnect event before any other event must exit cleanly - spawn is
// not required to race construction against a concurrent ShutdownQuick.
func (s *SessionProtocolStream) Run() {
	ref := &ProtocolContextRef{Service: s.service, ProtocolID: s.meta.ID, Session: s.session}

	for {
		select {
		case <-s.cancel:
			return
		case ev, ok := <-s.queue:
			if !ok {
				return
			}
			s.dispatch(ref, ev)
			if ev.kind == streamDisconnected {
				return
			}
		}
	}
}

func (s *SessionProtocolStream) dispatch(ref *ProtocolContextRef, ev streamEvent) {
	run := func(fn func()) {
		if s.meta.Blocking.Has(BlockReceived) && ev.kind == streamReceived {
			go fn()
			return
		}
		fn()
	}

	switch ev.kind {
	case streamConnected:
		run(func() { s.handler.Connected(ref, ev.version) })
	case streamDisconnected:
		run(func() { s.handler.Disconnected(ref) })
	case streamReceived:
		run(func() { s.handler.Received(ref, ev.data) })
	case streamNotify:
		run(func() { s.handler.Notify(ref, ev.token) })
	case streamSetNotify:
		s.startNotify(ev.interval, ev.token)
	case streamRemoveNotify:
		s.stopNotify()
	}
}

// startNotify (re)starts the adapter's notify timer, stopping any timer
// already running for this adapter.
func (s *SessionProtocolStream) startNotify(interval time.Duration, token uint64) {
	s.stopNotify()
	if interval <= 0 {
		return
	}
	stop := make(chan struct{})
	s.notifyMu.Lock()
	s.notifyStop = stop
	s.notifyMu.Unlock()
	go s.runNotifyTimer(interval, token, stop)
}

func (s *SessionProtocolStream) stopNotify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if s.notifyStop != nil {
		close(s.notifyStop)
		s.notifyStop = nil
	}
}

func (s *SessionProtocolStream) runNotifyTimer(interval time.Duration, token uint64, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-s.cancel:
			return
		case <-ticker.C:
			s.Push(streamEvent{kind: streamNotify, token: token})
		}
	}
}
