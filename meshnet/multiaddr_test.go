package meshnet

import "testing"

func TestMultiaddr_NetworkAddr(t *testing.T) {
	tests := []struct {
		name        string
		addr        Multiaddr
		wantNetwork string
		wantAddr    string
		wantWS      bool
		wantErr     bool
	}{
		{"plain tcp", "/ip4/127.0.0.1/tcp/9000", "tcp", "127.0.0.1:9000", false, false},
		{"dns4 tcp", "/dns4/example.com/tcp/443", "tcp", "example.com:443", false, false},
		{"with p2p suffix", "/ip4/127.0.0.1/tcp/9000/p2p/abc123", "tcp", "127.0.0.1:9000", false, false},
		{"malformed no prefix", "ip4/127.0.0.1/tcp/9000", "", "", false, true},
		{"missing port", "/ip4/127.0.0.1", "", "", false, true},
		{"unsupported segment", "/unix/tmp.sock", "", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network, addr, ws, err := tt.addr.NetworkAddr()
			if (err != nil) != tt.wantErr {
				t.Fatalf("NetworkAddr() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if network != tt.wantNetwork || addr != tt.wantAddr || ws != tt.wantWS {
				t.Errorf("NetworkAddr() = (%q, %q, %v), want (%q, %q, %v)", network, addr, ws, tt.wantNetwork, tt.wantAddr, tt.wantWS)
			}
		})
	}
}

func TestMultiaddr_PeerId(t *testing.T) {
	addr := Multiaddr("/ip4/127.0.0.1/tcp/9000/p2p/abc123")
	id, ok := addr.PeerId()
	if !ok || id != "abc123" {
		t.Fatalf("PeerId() = (%q, %v), want (%q, true)", id, ok, "abc123")
	}

	bare := Multiaddr("/ip4/127.0.0.1/tcp/9000")
	if _, ok := bare.PeerId(); ok {
		t.Fatalf("PeerId() on bare address reported ok, want false")
	}
}

func TestMultiaddr_WithPeerId(t *testing.T) {
	bare := Multiaddr("/ip4/127.0.0.1/tcp/9000")
	withID := bare.WithPeerId("abc123")
	if got, ok := withID.PeerId(); !ok || got != "abc123" {
		t.Fatalf("WithPeerId().PeerId() = (%q, %v), want (%q, true)", got, ok, "abc123")
	}

	already := bare.WithPeerId("abc123")
	if again := already.WithPeerId("def456"); again != already {
		t.Fatalf("WithPeerId() on an address that already has one changed it: %q", again)
	}
}
