package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies the type of control message carried by a Codec
// envelope. These are exchanged once per substream, before the substream
// switches to raw per-protocol framing.
type MessageType string

const (
	// MessageTypeProtocolSelect is sent by the initiator of a substream to
	// propose a protocol name and the versions it supports.
	MessageTypeProtocolSelect MessageType = "protocol_select"

	// MessageTypeProtocolSelectResponse is sent by the responder, either
	// accepting a negotiated version or rejecting the proposal.
	MessageTypeProtocolSelectResponse MessageType = "protocol_select_response"
)

// Envelope wraps a control message with type information for routing.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope creates a new envelope with the given type and payload.
func NewEnvelope(msgType MessageType, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &Envelope{Type: msgType, Payload: data}, nil
}

// DecodePayload unmarshals the envelope payload into the given target.
func (e *Envelope) DecodePayload(target interface{}) error {
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// ProtocolSelectRequest is sent once by the substream initiator: the name of
// the protocol it wants to speak and the versions it is willing to speak it
// in, most-preferred first.
type ProtocolSelectRequest struct {
	Name              string   `json:"name"`
	SupportedVersions []string `json:"supported_versions"`
}

// ProtocolSelectResponse is the responder's reply. If Accepted, Version names
// the common version both sides will use for the rest of the substream's
// life; otherwise Reason explains the rejection.
type ProtocolSelectResponse struct {
	Accepted bool   `json:"accepted"`
	Version  string `json:"version,omitempty"`
	Reason   string `json:"reason,omitempty"`
}
