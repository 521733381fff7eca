package common

import (
	"os"
	"testing"
)

func TestServiceConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  ServiceConfig
		wantErr bool
	}{
		{
			name:    "default config is valid",
			config:  *DefaultServiceConfig(),
			wantErr: false,
		},
		{
			name: "zero max frame length",
			config: ServiceConfig{
				MaxFrameLength: 0,
				Timeouts:       TimeoutsConfig{HandshakeTimeout: 1},
				Backpressure: BackpressureConfig{
					SendEventSize: 1, RecvEventSize: 1, ReceivedBufferSize: 1, ReceivedSize: 1, SendSize: 1,
				},
			},
			wantErr: true,
		},
		{
			name: "missing handshake timeout",
			config: ServiceConfig{
				MaxFrameLength: 1024,
				Backpressure: BackpressureConfig{
					SendEventSize: 1, RecvEventSize: 1, ReceivedBufferSize: 1, ReceivedSize: 1, SendSize: 1,
				},
			},
			wantErr: true,
		},
		{
			name: "zero send event size",
			config: ServiceConfig{
				MaxFrameLength: 1024,
				Timeouts:       TimeoutsConfig{HandshakeTimeout: 1},
				Backpressure: BackpressureConfig{
					SendEventSize: 0, RecvEventSize: 1, ReceivedBufferSize: 1, ReceivedSize: 1, SendSize: 1,
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClientDialConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  ClientDialConfig
		wantErr bool
	}{
		{
			name: "valid config",
			config: ClientDialConfig{
				DialAddr:     "/ip4/127.0.0.1/tcp/9000",
				ProtocolName: "echo",
			},
			wantErr: false,
		},
		{
			name: "missing dial addr",
			config: ClientDialConfig{
				ProtocolName: "echo",
			},
			wantErr: true,
		},
		{
			name: "missing protocol name",
			config: ClientDialConfig{
				DialAddr: "/ip4/127.0.0.1/tcp/9000",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadServiceConfig(t *testing.T) {
	content := `
listen_addrs:
  - "/ip4/0.0.0.0/tcp/9000"
log_level: "debug"
backpressure:
  send_event_size: 128
  recv_event_size: 128
  received_buffer_size: 64
  received_size: 32
  send_size: 32
timeouts:
  handshake_timeout: 5s
`
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpfile.Name())

	if _, err := tmpfile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpfile.Close()

	config, err := LoadServiceConfig(tmpfile.Name())
	if err != nil {
		t.Fatalf("LoadServiceConfig failed: %v", err)
	}

	if len(config.ListenAddrs) != 1 || config.ListenAddrs[0] != "/ip4/0.0.0.0/tcp/9000" {
		t.Errorf("ListenAddrs = %v, want [\"/ip4/0.0.0.0/tcp/9000\"]", config.ListenAddrs)
	}
	if config.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", config.LogLevel, "debug")
	}
	if config.Backpressure.SendEventSize != 128 {
		t.Errorf("Backpressure.SendEventSize = %d, want 128", config.Backpressure.SendEventSize)
	}
}

func TestLoadClientDialConfig(t *testing.T) {
	content := `
dial_addr: "/ip4/127.0.0.1/tcp/9000"
protocol_name: "echo"
log_level: "debug"
`
	tmpfile, err := os.CreateTemp("", "client-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpfile.Name())

	if _, err := tmpfile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpfile.Close()

	config, err := LoadClientDialConfig(tmpfile.Name())
	if err != nil {
		t.Fatalf("LoadClientDialConfig failed: %v", err)
	}

	if config.DialAddr != "/ip4/127.0.0.1/tcp/9000" {
		t.Errorf("DialAddr = %q, want %q", config.DialAddr, "/ip4/127.0.0.1/tcp/9000")
	}
	if config.ProtocolName != "echo" {
		t.Errorf("ProtocolName = %q, want %q", config.ProtocolName, "echo")
	}
}
