package meshnet

import "time"

// Control is the user-facing handle for posting ServiceTasks back into the
// Service. It holds only a sender into the task queue - never a pointer
// back to the Service itself - which is how the cyclic reference between
// Service, SessionController and Control is broken.
type Control struct {
	highTasks   chan<- ServiceTask
	normalTasks chan<- ServiceTask
}

// newControl builds a Control around the Service's two priority task
// channels.
func newControl(high, normal chan<- ServiceTask) *Control {
	return &Control{highTasks: high, normalTasks: normal}
}

// Post submits task on the channel matching its Priority.
func (c *Control) Post(task ServiceTask) {
	if task.Priority == High {
		c.highTasks <- task
	} else {
		c.normalTasks <- task
	}
}

// Dial posts a Dial task for addr, pre-opening target once the handshake
// succeeds.
func (c *Control) Dial(addr Multiaddr, target TargetProtocol) {
	c.Post(DialTask(addr, target))
}

// Listen posts a Listen task for addr.
func (c *Control) Listen(addr Multiaddr) {
	c.Post(ListenTask(addr))
}

// Disconnect posts a High-priority Disconnect task for session.
func (c *Control) Disconnect(session SessionId) {
	c.Post(DisconnectTask(session))
}

// SendMessage posts a ProtocolMessage task.
func (c *Control) SendMessage(target TargetSession, protoID ProtocolId, data []byte, priority Priority) {
	c.Post(ProtocolMessageTask(target, protoID, data, priority))
}

// Shutdown posts a Shutdown task; quick skips the graceful drain phase.
func (c *Control) Shutdown(quick bool) {
	c.Post(ShutdownTask(quick))
}

// SetProtocolNotify starts (or retunes) protoID's service-level handler
// notify timer, firing Notify(token) every interval. interval<=0 stops it.
func (c *Control) SetProtocolNotify(protoID ProtocolId, interval time.Duration, token uint64) {
	c.Post(SetProtocolNotifyTask(protoID, interval, token))
}

// RemoveProtocolNotify stops protoID's service-level handler notify timer.
func (c *Control) RemoveProtocolNotify(protoID ProtocolId) {
	c.Post(RemoveProtocolNotifyTask(protoID))
}

// SetProtocolSessionNotify starts (or retunes) protoID's per-session handler
// notify timer on session, firing Notify(token) every interval.
func (c *Control) SetProtocolSessionNotify(session SessionId, protoID ProtocolId, interval time.Duration, token uint64) {
	c.Post(SetProtocolSessionNotifyTask(session, protoID, interval, token))
}

// RemoveProtocolSessionNotify stops protoID's per-session handler notify
// timer on session.
func (c *Control) RemoveProtocolSessionNotify(session SessionId, protoID ProtocolId) {
	c.Post(RemoveProtocolSessionNotifyTask(session, protoID))
}
