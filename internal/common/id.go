package common

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// GenerateID generates a unique identifier suitable for logging and
// correlation, backed by a random (v4) UUID.
func GenerateID() string {
	return uuid.New().String()
}

// GenerateToken generates a secure random token for authentication.
// The token is 32 bytes (64 hex characters).
func GenerateToken() string {
	bytes := make([]byte, 32)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// GenerateClientID generates a unique identifier for a dialing client,
// used for logging and correlation only - it has no bearing on the
// Service-allocated, probe-assigned numeric SessionId.
func GenerateClientID() string {
	return "client_" + uuid.New().String()
}

// GenerateRequestID generates a unique request identifier, used to correlate
// a multi-substream exchange initiated by a single protocol handler call.
func GenerateRequestID() string {
	return "req_" + uuid.New().String()
}
