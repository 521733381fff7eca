package common

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServiceConfig holds the configuration for a running Service: the addresses
// it listens on, its timeouts, and the backpressure thresholds that bound
// queued events and tasks (spec'd sizes: RECEIVED_BUFFER_SIZE, RECEIVED_SIZE,
// SEND_SIZE, plus the two event-size thresholds).
type ServiceConfig struct {
	// ListenAddrs are the multiaddresses the Service listens on at startup
	// (e.g. "/ip4/0.0.0.0/tcp/9000").
	ListenAddrs []string `yaml:"listen_addrs"`

	// Forever keeps the Service's event loop alive even when it becomes
	// leaf-eligible for termination (no pending dials, no sessions, no
	// listens, empty future-task queue).
	Forever bool `yaml:"forever"`

	// MaxFrameLength bounds the size of any single substream frame,
	// control message or data payload alike.
	MaxFrameLength int `yaml:"max_frame_length"`

	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Backpressure BackpressureConfig `yaml:"backpressure"`

	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// TimeoutsConfig holds the timeouts that bound handshakes and idle sessions.
type TimeoutsConfig struct {
	// HandshakeTimeout bounds how long a HandshakeDriver waits for a raw
	// stream to complete the configured handshake.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// SessionTimeout is the idle duration after which a session with no
	// substream activity is torn down with SessionTimeout.
	SessionTimeout time.Duration `yaml:"session_timeout"`

	// DialTimeout bounds an outbound dial attempt.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// BackpressureConfig holds the queue-size thresholds described in the
// concurrency model: two event-size thresholds that gate the Service's
// select loop, and three fixed buffer capacities for the channels underneath.
type BackpressureConfig struct {
	// SendEventSize bounds the sum of per-session outbound buffer lengths.
	// Once exceeded, the Service stops consuming new ServiceTasks.
	SendEventSize int `yaml:"send_event_size"`

	// RecvEventSize bounds the sum of per-handler-class session-event
	// buffer lengths. Once exceeded, the Service stops polling session
	// events, which back-propagates into the multiplexer's receive window.
	RecvEventSize int `yaml:"recv_event_size"`

	// ReceivedBufferSize is the channel capacity backing the user-task
	// queue (the Control -> Service direction).
	ReceivedBufferSize int `yaml:"received_buffer_size"`

	// ReceivedSize is the per-handler channel capacity for session events
	// delivered to ServiceProtocolStream/SessionProtocolStream adapters.
	ReceivedSize int `yaml:"received_size"`

	// SendSize is the channel capacity backing the FutureTaskManager's
	// task queue.
	SendSize int `yaml:"send_size"`
}

// DefaultServiceConfig returns a ServiceConfig with the thresholds named in
// the concurrency model: RECEIVED_BUFFER_SIZE=2048, RECEIVED_SIZE=512,
// SEND_SIZE=512.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		ListenAddrs:    nil,
		Forever:        true,
		MaxFrameLength: 2 * 1024 * 1024, // 2MiB
		Timeouts: TimeoutsConfig{
			HandshakeTimeout: 10 * time.Second,
			SessionTimeout:   5 * time.Minute,
			DialTimeout:      10 * time.Second,
		},
		Backpressure: BackpressureConfig{
			SendEventSize:      4096,
			RecvEventSize:      4096,
			ReceivedBufferSize: 2048,
			ReceivedSize:       512,
			SendSize:           512,
		},
		LogLevel: "info",
	}
}

// LoadServiceConfig loads a ServiceConfig from a YAML file, starting from
// DefaultServiceConfig so unset fields keep their defaults.
func LoadServiceConfig(path string) (*ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultServiceConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// Validate checks that a ServiceConfig is internally consistent.
func (c *ServiceConfig) Validate() error {
	if c.MaxFrameLength <= 0 {
		return fmt.Errorf("max_frame_length must be positive")
	}
	if c.Timeouts.HandshakeTimeout <= 0 {
		return fmt.Errorf("timeouts.handshake_timeout must be positive")
	}
	if c.Backpressure.SendEventSize <= 0 {
		return fmt.Errorf("backpressure.send_event_size must be positive")
	}
	if c.Backpressure.RecvEventSize <= 0 {
		return fmt.Errorf("backpressure.recv_event_size must be positive")
	}
	if c.Backpressure.ReceivedBufferSize <= 0 {
		return fmt.Errorf("backpressure.received_buffer_size must be positive")
	}
	if c.Backpressure.ReceivedSize <= 0 {
		return fmt.Errorf("backpressure.received_size must be positive")
	}
	if c.Backpressure.SendSize <= 0 {
		return fmt.Errorf("backpressure.send_size must be positive")
	}
	return nil
}

// ClientDialConfig holds the configuration for a one-shot dialing client:
// the peer to dial and the protocol it wants to speak once connected.
type ClientDialConfig struct {
	// DialAddr is the multiaddress to dial (e.g. "/ip4/127.0.0.1/tcp/9000").
	DialAddr string `yaml:"dial_addr"`

	// ProtocolName is the protocol to open a substream for after the
	// session handshake completes.
	ProtocolName string `yaml:"protocol_name"`

	// ClientID optionally identifies this client for logging/correlation;
	// generated if empty.
	ClientID string `yaml:"client_id"`

	Timeouts TimeoutsConfig `yaml:"timeouts"`

	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// DefaultClientDialConfig returns a ClientDialConfig with sensible defaults.
func DefaultClientDialConfig() *ClientDialConfig {
	return &ClientDialConfig{
		Timeouts: TimeoutsConfig{
			HandshakeTimeout: 10 * time.Second,
			DialTimeout:      10 * time.Second,
		},
		LogLevel: "info",
	}
}

// LoadClientDialConfig loads a ClientDialConfig from a YAML file.
func LoadClientDialConfig(path string) (*ClientDialConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultClientDialConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// Validate checks that a ClientDialConfig is internally consistent.
func (c *ClientDialConfig) Validate() error {
	if c.DialAddr == "" {
		return fmt.Errorf("dial_addr is required")
	}
	if c.ProtocolName == "" {
		return fmt.Errorf("protocol_name is required")
	}
	return nil
}
