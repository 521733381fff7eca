package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// MaxMessageSize is the maximum allowed size for a control message such as a
// protocol-selection request or response.
const MaxMessageSize = 64 * 1024 // 64KB

// Codec handles encoding and decoding of length-delimited JSON envelopes over
// a substream. It is safe for concurrent use - reads and writes are
// independently synchronized, matching the duplex nature of a substream.
type Codec struct {
	reader *bufio.Reader
	writer io.Writer

	readMu  sync.Mutex
	writeMu sync.Mutex
}

// NewCodec creates a new Codec for the given reader and writer.
func NewCodec(r io.Reader, w io.Writer) *Codec {
	return &Codec{
		reader: bufio.NewReader(r),
		writer: w,
	}
}

// WriteMessage encodes and writes a message envelope to the underlying writer.
// The format is: [4-byte length (big-endian)][JSON payload]
func (c *Codec) WriteMessage(envelope *Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if len(data) > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum of %d bytes", len(data), MaxMessageSize)
	}

	lengthBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthBuf, uint32(len(data)))
	if _, err := c.writer.Write(lengthBuf); err != nil {
		return fmt.Errorf("failed to write message length: %w", err)
	}

	if _, err := c.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message payload: %w", err)
	}

	return nil
}

// ReadMessage reads and decodes a message envelope from the underlying reader.
func (c *Codec) ReadMessage() (*Envelope, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(c.reader, lengthBuf); err != nil {
		if err == io.EOF {
			return nil, ErrConnectionClosed
		}
		return nil, fmt.Errorf("failed to read message length: %w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf)
	if length > MaxMessageSize {
		return nil, fmt.Errorf("message size %d exceeds maximum of %d bytes", length, MaxMessageSize)
	}
	if length == 0 {
		return nil, fmt.Errorf("message length cannot be zero")
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(c.reader, data); err != nil {
		return nil, fmt.Errorf("failed to read message payload: %w", err)
	}

	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	return &envelope, nil
}

// SendProtocolSelect sends the initiator's protocol-selection proposal.
func (c *Codec) SendProtocolSelect(req *ProtocolSelectRequest) error {
	envelope, err := NewEnvelope(MessageTypeProtocolSelect, req)
	if err != nil {
		return fmt.Errorf("failed to create protocol-select envelope: %w", err)
	}
	return c.WriteMessage(envelope)
}

// SendProtocolSelectResponse sends the responder's accept/reject decision.
func (c *Codec) SendProtocolSelectResponse(resp *ProtocolSelectResponse) error {
	envelope, err := NewEnvelope(MessageTypeProtocolSelectResponse, resp)
	if err != nil {
		return fmt.Errorf("failed to create protocol-select-response envelope: %w", err)
	}
	return c.WriteMessage(envelope)
}
