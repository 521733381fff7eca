package meshnet

import (
	"io"
	"testing"
)

type nopServiceProtocol struct{}

func (nopServiceProtocol) Init(*ProtocolContext)                 {}
func (nopServiceProtocol) Connected(*ProtocolContextRef, string)  {}
func (nopServiceProtocol) Disconnected(*ProtocolContextRef)       {}
func (nopServiceProtocol) Received(*ProtocolContextRef, []byte)   {}
func (nopServiceProtocol) Notify(*ProtocolContext, uint64)        {}

type nopSpawn struct{}

func (nopSpawn) Spawn(*SessionContext, *Control, io.Reader) {}

func TestNewProtocolRegistry_RejectsSpawnAndCallbackTogether(t *testing.T) {
	_, err := NewProtocolRegistry([]*ProtocolMeta{
		{
			ID:             1,
			Name:           "dual",
			ServiceHandler: func() ServiceProtocol { return nopServiceProtocol{} },
			SpawnHandler:   nopSpawn{},
		},
	})
	if err == nil {
		t.Fatal("expected an error when both ServiceHandler and SpawnHandler are set")
	}
}

func TestNewProtocolRegistry_RejectsNoHandler(t *testing.T) {
	_, err := NewProtocolRegistry([]*ProtocolMeta{
		{ID: 1, Name: "empty"},
	})
	if err == nil {
		t.Fatal("expected an error when neither a callback nor spawn handler is set")
	}
}

func TestNewProtocolRegistry_RejectsDuplicateName(t *testing.T) {
	_, err := NewProtocolRegistry([]*ProtocolMeta{
		{ID: 1, Name: "echo", ServiceHandler: func() ServiceProtocol { return nopServiceProtocol{} }},
		{ID: 2, Name: "echo", ServiceHandler: func() ServiceProtocol { return nopServiceProtocol{} }},
	})
	if err == nil {
		t.Fatal("expected an error for duplicate protocol name")
	}
}

func TestNewProtocolRegistry_RejectsDuplicateID(t *testing.T) {
	_, err := NewProtocolRegistry([]*ProtocolMeta{
		{ID: 1, Name: "a", ServiceHandler: func() ServiceProtocol { return nopServiceProtocol{} }},
		{ID: 1, Name: "b", ServiceHandler: func() ServiceProtocol { return nopServiceProtocol{} }},
	})
	if err == nil {
		t.Fatal("expected an error for duplicate protocol id")
	}
}

func TestProtocolRegistry_ByNameAndByID(t *testing.T) {
	meta := &ProtocolMeta{ID: 7, Name: "echo", ServiceHandler: func() ServiceProtocol { return nopServiceProtocol{} }}
	r, err := NewProtocolRegistry([]*ProtocolMeta{meta})
	if err != nil {
		t.Fatalf("NewProtocolRegistry() error = %v", err)
	}

	if got, ok := r.ByName("echo"); !ok || got != meta {
		t.Errorf("ByName(%q) = (%v, %v), want (%v, true)", "echo", got, ok, meta)
	}
	if got, ok := r.ByID(7); !ok || got != meta {
		t.Errorf("ByID(7) = (%v, %v), want (%v, true)", got, ok, meta)
	}
	if _, ok := r.ByName("missing"); ok {
		t.Errorf("ByName(%q) reported ok, want false", "missing")
	}
	if len(r.All()) != 1 {
		t.Errorf("All() returned %d entries, want 1", len(r.All()))
	}
}

func TestBlockingFlag_Has(t *testing.T) {
	flags := BlockReceived | BlockNotify
	if !flags.Has(BlockReceived) {
		t.Error("Has(BlockReceived) = false, want true")
	}
	if flags.Has(BlockConnected) {
		t.Error("Has(BlockConnected) = true, want false")
	}
}
