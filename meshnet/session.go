package meshnet

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/yamux"

	"github.com/anyhost/meshnet/internal/protocol"
)

// Session is the collaborator contract the Service drives for each
// accepted/dialed connection: it consumes an authenticated duplex stream,
// emits SessionEvents to the Service, and consumes a prioritized inbound
// stream of SessionInboundEvents (ProtocolOpen, ProtocolMessage,
// ProtocolClose, SessionClose).
type Session interface {
	// Run drives the session until its duplex or inbound channel closes.
	// It must be invoked from its own goroutine.
	Run()

	// Inbound returns the channel the Service (via SessionController)
	// pushes SessionInboundEvents into.
	Inbound() chan<- SessionInboundEvent

	// Close tears the session down immediately.
	Close() error
}

// SessionDeps bundles the collaborators and shared state one Session needs
// at construction: the registry it consults for per-protocol codecs, the
// channel it emits SessionEvents onto, and the framing limits/timeouts.
type SessionDeps struct {
	Context        *SessionContext
	Registry       *ProtocolRegistry
	Control        *Control
	EventCh        chan<- SessionEvent
	InboundCh      chan SessionInboundEvent
	MaxFrameLength int
	Timeout        time.Duration
	Logger         *slog.Logger
}

// DefaultYamuxConfig returns the yamux.Config this package's reference
// Session implementation uses, grounded on the teacher's tuned
// AcceptBacklog/KeepAlive/WindowSize settings in internal/server/session.go.
func DefaultYamuxConfig(maxFrameLength int) *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.AcceptBacklog = 256
	cfg.EnableKeepAlive = true
	cfg.KeepAliveInterval = 30 * time.Second
	cfg.ConnectionWriteTimeout = 10 * time.Second
	cfg.StreamOpenTimeout = 30 * time.Second
	cfg.StreamCloseTimeout = 5 * time.Minute
	if maxFrameLength > 0 && maxFrameLength < 256*1024 {
		cfg.MaxStreamWindowSize = uint32(maxFrameLength)
	} else {
		cfg.MaxStreamWindowSize = 256 * 1024
	}
	return cfg
}

// YamuxSession is the reference Session implementation built on
// github.com/hashicorp/yamux, the teacher's multiplexer of choice.
type YamuxSession struct {
	deps SessionDeps
	mux  *yamux.Session
	raw  io.Closer

	inbound chan SessionInboundEvent

	mu            sync.Mutex
	openProtocols map[ProtocolId]io.Closer
	lastActivity  time.Time
	closed        bool
}

// NewYamuxSession wraps an already-authenticated duplex in a yamux session.
// direction selects server-mode (inbound) versus client-mode (outbound)
// multiplexing, matching yamux's own initiator/responder asymmetry.
func NewYamuxSession(duplex io.ReadWriteCloser, direction Direction, deps SessionDeps) (*YamuxSession, error) {
	cfg := DefaultYamuxConfig(deps.MaxFrameLength)

	var mux *yamux.Session
	var err error
	if direction == Inbound {
		mux, err = yamux.Server(duplex, cfg)
	} else {
		mux, err = yamux.Client(duplex, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create yamux session: %w", err)
	}

	inboundCh := deps.InboundCh
	if inboundCh == nil {
		inboundCh = make(chan SessionInboundEvent, 64)
	}

	return &YamuxSession{
		deps:          deps,
		mux:           mux,
		raw:           duplex,
		inbound:       inboundCh,
		openProtocols: make(map[ProtocolId]io.Closer),
		lastActivity:  time.Now(),
	}, nil
}

// Inbound returns the send side of the session's inbound event channel.
func (s *YamuxSession) Inbound() chan<- SessionInboundEvent { return s.inbound }

// Run drives the session: an accept loop for inbound substreams opened by
// the remote, an idle-timeout watchdog, and a drain loop for
// SessionInboundEvents the Service pushes in (outbound substream opens,
// outbound messages, and close requests).
func (s *YamuxSession) Run() {
	defer s.Close()

	acceptErrs := make(chan error, 1)
	go s.acceptLoop(acceptErrs)

	timeout := s.deps.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ticker := time.NewTicker(timeout / 4)
	defer ticker.Stop()

	for {
		select {
		case err := <-acceptErrs:
			if err != nil {
				s.emit(SessionEvent{Kind: EventMuxerError, Session: s.deps.Context.ID, Err: err})
			}
			return

		case ev, ok := <-s.inbound:
			if !ok {
				s.emit(SessionEvent{Kind: EventSessionClose, Session: s.deps.Context.ID})
				return
			}
			if ev.Kind == InboundSessionClose {
				s.emit(SessionEvent{Kind: EventSessionClose, Session: s.deps.Context.ID})
				return
			}
			s.handleInbound(ev)

		case <-ticker.C:
			s.mu.Lock()
			idle := time.Since(s.lastActivity)
			nOpen := len(s.openProtocols)
			s.mu.Unlock()
			if nOpen == 0 && idle > timeout {
				s.emit(SessionEvent{Kind: EventSessionTimeout, Session: s.deps.Context.ID})
				return
			}
		}
	}
}

func (s *YamuxSession) acceptLoop(errs chan<- error) {
	for {
		stream, err := s.mux.AcceptStream()
		if err != nil {
			errs <- err
			return
		}
		go s.serveInboundSubstream(stream)
	}
}

// serveInboundSubstream runs the responder side of protocol selection on a
// substream the remote opened, then bridges framed reads into
// ProtocolMessage SessionEvents until the substream closes.
func (s *YamuxSession) serveInboundSubstream(stream io.ReadWriteCloser) {
	codec := protocol.NewCodec(stream, stream)

	envelope, err := codec.ReadMessage()
	if err != nil {
		stream.Close()
		return
	}
	if envelope.Type != protocol.MessageTypeProtocolSelect {
		stream.Close()
		return
	}
	var req protocol.ProtocolSelectRequest
	if err := envelope.DecodePayload(&req); err != nil {
		stream.Close()
		return
	}

	meta, ok := s.deps.Registry.ByName(req.Name)
	if !ok {
		codec.SendProtocolSelectResponse(&protocol.ProtocolSelectResponse{Accepted: false, Reason: "unknown protocol"})
		s.emit(SessionEvent{Kind: EventProtocolSelectError, Session: s.deps.Context.ID})
		stream.Close()
		return
	}
	version, ok := protocol.NegotiateVersion(req.SupportedVersions, meta.SupportedVersions)
	if !ok {
		codec.SendProtocolSelectResponse(&protocol.ProtocolSelectResponse{Accepted: false, Reason: "no common version"})
		s.emit(SessionEvent{Kind: EventProtocolSelectError, Session: s.deps.Context.ID, ProtocolID: meta.ID})
		stream.Close()
		return
	}
	if err := codec.SendProtocolSelectResponse(&protocol.ProtocolSelectResponse{Accepted: true, Version: version}); err != nil {
		stream.Close()
		return
	}

	s.mu.Lock()
	s.openProtocols[meta.ID] = stream
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if meta.SpawnHandler != nil {
		s.runSpawn(stream, meta)
		return
	}

	s.emit(SessionEvent{Kind: EventProtocolOpen, Session: s.deps.Context.ID, ProtocolID: meta.ID, Version: version})
	s.readFrames(stream, meta)
}

// OpenSubstream drives the initiator side of protocol selection for name,
// used by the Service when pre-opening protocols on an outbound session.
func (s *YamuxSession) OpenSubstream(name string, versions []string) (ProtocolId, string, error) {
	stream, err := s.mux.OpenStream()
	if err != nil {
		return 0, "", fmt.Errorf("failed to open substream: %w", err)
	}

	codec := protocol.NewCodec(stream, stream)
	if err := codec.SendProtocolSelect(&protocol.ProtocolSelectRequest{Name: name, SupportedVersions: versions}); err != nil {
		stream.Close()
		return 0, "", err
	}
	envelope, err := codec.ReadMessage()
	if err != nil {
		stream.Close()
		return 0, "", err
	}
	var resp protocol.ProtocolSelectResponse
	if err := envelope.DecodePayload(&resp); err != nil {
		stream.Close()
		return 0, "", err
	}
	if !resp.Accepted {
		stream.Close()
		return 0, "", fmt.Errorf("%w: %s", protocol.ErrProtocolRejected, resp.Reason)
	}

	meta, ok := s.deps.Registry.ByName(name)
	if !ok {
		stream.Close()
		return 0, "", fmt.Errorf("protocol %q not registered locally", name)
	}

	s.mu.Lock()
	s.openProtocols[meta.ID] = stream
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if meta.SpawnHandler != nil {
		go s.runSpawn(stream, meta)
	} else {
		go func() {
			s.emit(SessionEvent{Kind: EventProtocolOpen, Session: s.deps.Context.ID, ProtocolID: meta.ID, Version: resp.Version})
			s.readFrames(stream, meta)
		}()
	}

	return meta.ID, resp.Version, nil
}

// runSpawn hands stream's read side to meta.SpawnHandler, which drives its
// own raw read loop instead of receiving discrete Received() callbacks.
// Spawn is mutually exclusive with ServiceProtocol/SessionProtocol for a
// protocol (enforced at registry construction), so this never races
// readFrames for the same substream.
func (s *YamuxSession) runSpawn(stream io.ReadWriteCloser, meta *ProtocolMeta) {
	defer func() {
		s.mu.Lock()
		delete(s.openProtocols, meta.ID)
		s.mu.Unlock()
		stream.Close()
	}()
	meta.SpawnHandler.Spawn(s.deps.Context, s.deps.Control, stream)
}

// readFrames pumps length-delimited frames off stream into ProtocolMessage
// events until the substream closes or exceeds max_frame_length, at which
// point it is closed and a ProtocolError{Codec} is emitted while the
// session itself survives.
func (s *YamuxSession) readFrames(stream io.ReadWriteCloser, meta *ProtocolMeta) {
	defer func() {
		s.mu.Lock()
		delete(s.openProtocols, meta.ID)
		s.mu.Unlock()
		stream.Close()
		s.emit(SessionEvent{Kind: EventProtocolClose, Session: s.deps.Context.ID, ProtocolID: meta.ID})
	}()

	maxLen := s.deps.MaxFrameLength
	if maxLen <= 0 {
		maxLen = 2 * 1024 * 1024
	}

	for {
		data, err := protocol.ReadFrame(stream, maxLen)
		if err != nil {
			if err != protocol.ErrConnectionClosed {
				s.emit(SessionEvent{
					Kind:       EventProtocolError,
					Session:    s.deps.Context.ID,
					ProtocolID: meta.ID,
					Err:        err,
				})
			}
			return
		}
		s.mu.Lock()
		s.lastActivity = time.Now()
		s.mu.Unlock()
		s.emit(SessionEvent{Kind: EventProtocolMessage, Session: s.deps.Context.ID, ProtocolID: meta.ID, Data: data})
	}
}

// handleInbound applies a SessionInboundEvent the Service pushed in: write
// an outbound ProtocolMessage frame, or open/close a substream on request.
func (s *YamuxSession) handleInbound(ev SessionInboundEvent) {
	switch ev.Kind {
	case InboundProtocolMessage:
		s.mu.Lock()
		stream, ok := s.openProtocols[ev.ProtocolID]
		s.mu.Unlock()
		if !ok {
			return
		}
		maxLen := s.deps.MaxFrameLength
		if maxLen <= 0 {
			maxLen = 2 * 1024 * 1024
		}
		if err := protocol.WriteFrame(stream, ev.Data, maxLen); err != nil {
			s.emit(SessionEvent{Kind: EventProtocolError, Session: s.deps.Context.ID, ProtocolID: ev.ProtocolID, Err: err})
			return
		}
		s.deps.Context.AddPendingDataSize(int64(len(ev.Data)))
	case InboundProtocolClose:
		s.mu.Lock()
		stream, ok := s.openProtocols[ev.ProtocolID]
		s.mu.Unlock()
		if ok {
			stream.Close()
		}
	}
}

// emit sends ev to the Service's session-event channel. A full channel
// blocks the caller, which is acceptable here since emit always runs on a
// session-owned goroutine, never the Service's own.
func (s *YamuxSession) emit(ev SessionEvent) {
	s.deps.EventCh <- ev
}

// Close tears the session down: closes every open substream, the yamux
// session, and the raw duplex underneath it.
func (s *YamuxSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, stream := range s.openProtocols {
		stream.Close()
	}
	s.mu.Unlock()

	s.deps.Context.MarkClosed()

	var firstErr error
	if err := s.mux.Close(); err != nil {
		firstErr = err
	}
	if err := s.raw.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// IsClosed reports whether the underlying yamux session has been closed,
// either locally or because the remote went away.
func (s *YamuxSession) IsClosed() bool {
	return s.mux.IsClosed()
}
