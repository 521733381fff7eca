package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteFrame writes a single length-delimited frame: a 4-byte big-endian
// length prefix followed by the raw payload. The reference session uses this
// framing for every substream's data; a ProtocolMeta's own codec factory is
// not consulted.
func WriteFrame(w io.Writer, data []byte, maxFrameLength int) error {
	if len(data) > maxFrameLength {
		return fmt.Errorf("%w: frame size %d exceeds max %d", ErrFrameTooLarge, len(data), maxFrameLength)
	}

	lengthBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthBuf, uint32(len(data)))
	if _, err := w.Write(lengthBuf); err != nil {
		return fmt.Errorf("failed to write frame length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads a single length-delimited frame, rejecting anything over
// maxFrameLength before the payload is even allocated.
func ReadFrame(r io.Reader, maxFrameLength int) ([]byte, error) {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		if err == io.EOF {
			return nil, ErrConnectionClosed
		}
		return nil, fmt.Errorf("failed to read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf)
	if int(length) > maxFrameLength {
		return nil, fmt.Errorf("%w: frame size %d exceeds max %d", ErrFrameTooLarge, length, maxFrameLength)
	}

	data := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("failed to read frame payload: %w", err)
		}
	}
	return data, nil
}
