package meshnet

import "time"

// Priority tags a ServiceTask for the Service's prioritized task queue:
// High-priority tasks drain to completion before any Normal task is drawn.
type Priority int

const (
	Normal Priority = iota
	High
)

// TargetSession selects which live session(s) a ProtocolMessage task is
// routed to.
type TargetSession struct {
	Single *SessionId
	Multi  []SessionId
	All    bool
}

// TargetProtocol selects which protocol(s) a dial should pre-open
// substreams for once the session handshake completes.
type TargetProtocol struct {
	Single *ProtocolId
	Multi  []ProtocolId
	All    bool
}

// ServiceTaskKind discriminates the ServiceTask variants named in the data
// model: ProtocolMessage, Dial, Listen, Disconnect, SetProtocolNotify,
// RemoveProtocolNotify, SetProtocolSessionNotify, RemoveProtocolSessionNotify,
// ProtocolOpen, ProtocolClose, FutureTask, Shutdown.
type ServiceTaskKind int

const (
	TaskProtocolMessage ServiceTaskKind = iota
	TaskDial
	TaskListen
	TaskDisconnect
	TaskSetProtocolNotify
	TaskRemoveProtocolNotify
	TaskSetProtocolSessionNotify
	TaskRemoveProtocolSessionNotify
	TaskProtocolOpen
	TaskProtocolClose
	TaskFutureTask
	TaskShutdown
)

// ServiceTask is a priority-tagged unit of work posted into the Service by
// a Control handle.
type ServiceTask struct {
	Kind     ServiceTaskKind
	Priority Priority

	// TaskProtocolMessage
	Target     TargetSession
	ProtocolID ProtocolId
	Data       []byte

	// TaskDial / TaskListen
	Address Multiaddr
	DialFor TargetProtocol

	// TaskDisconnect / TaskProtocolOpen / TaskProtocolClose
	Session SessionId

	// TaskSetProtocolNotify / TaskSetProtocolSessionNotify
	Interval     int64 // nanoseconds; 0 disables the timer
	NotifyToken  uint64

	// TaskFutureTask
	Future func()

	// TaskShutdown
	Quick bool
}

// DialTask builds a Normal-priority Dial task for addr, targeting target once
// the handshake succeeds.
func DialTask(addr Multiaddr, target TargetProtocol) ServiceTask {
	return ServiceTask{Kind: TaskDial, Priority: Normal, Address: addr, DialFor: target}
}

// ListenTask builds a Normal-priority Listen task for addr.
func ListenTask(addr Multiaddr) ServiceTask {
	return ServiceTask{Kind: TaskListen, Priority: Normal, Address: addr}
}

// DisconnectTask builds a High-priority Disconnect task for the given
// session, matching the spec's "enqueue a High-priority SessionClose"
// dispatch rule.
func DisconnectTask(id SessionId) ServiceTask {
	return ServiceTask{Kind: TaskDisconnect, Priority: High, Session: id}
}

// ShutdownTask builds a High-priority Shutdown task.
func ShutdownTask(quick bool) ServiceTask {
	return ServiceTask{Kind: TaskShutdown, Priority: High, Quick: quick}
}

// ProtocolMessageTask builds a task that posts data on protoID to target.
func ProtocolMessageTask(target TargetSession, protoID ProtocolId, data []byte, priority Priority) ServiceTask {
	return ServiceTask{Kind: TaskProtocolMessage, Priority: priority, Target: target, ProtocolID: protoID, Data: data}
}

// SetProtocolNotifyTask builds a task that (re)starts the service-level
// handler's notify timer for protoID at interval, tagging each Notify
// callback with token.
func SetProtocolNotifyTask(protoID ProtocolId, interval time.Duration, token uint64) ServiceTask {
	return ServiceTask{Kind: TaskSetProtocolNotify, Priority: Normal, ProtocolID: protoID, Interval: int64(interval), NotifyToken: token}
}

// RemoveProtocolNotifyTask builds a task that stops the service-level
// handler's notify timer for protoID.
func RemoveProtocolNotifyTask(protoID ProtocolId) ServiceTask {
	return ServiceTask{Kind: TaskRemoveProtocolNotify, Priority: Normal, ProtocolID: protoID}
}

// SetProtocolSessionNotifyTask builds a task that (re)starts session id's
// handler notify timer for protoID at interval.
func SetProtocolSessionNotifyTask(id SessionId, protoID ProtocolId, interval time.Duration, token uint64) ServiceTask {
	return ServiceTask{Kind: TaskSetProtocolSessionNotify, Priority: Normal, Session: id, ProtocolID: protoID, Interval: int64(interval), NotifyToken: token}
}

// RemoveProtocolSessionNotifyTask builds a task that stops session id's
// handler notify timer for protoID.
func RemoveProtocolSessionNotifyTask(id SessionId, protoID ProtocolId) ServiceTask {
	return ServiceTask{Kind: TaskRemoveProtocolSessionNotify, Priority: Normal, Session: id, ProtocolID: protoID}
}
