package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

var errTransportClosed = errors.New("transport closed")

type fakeTransport struct {
	mu     sync.Mutex
	sent   [][]byte
	open   bool
	closed bool
	reason string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{open: true}
}

func (f *fakeTransport) Send(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return errTransportClosed
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	f.sent = append(f.sent, buf)
	return nil
}

func (f *fakeTransport) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.closed = true
	f.reason = reason
	return nil
}

func (f *fakeTransport) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func testLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

func TestRegisterRejectsEmptyUserID(t *testing.T) {
	r := NewRegistry(testLogger())

	if err := r.Register("", newFakeTransport()); err != ErrIdentification {
		t.Fatalf("expected ErrIdentification, got %v", err)
	}
	if r.Size() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Size())
	}
}

func TestRegisterLastConnectionWins(t *testing.T) {
	r := NewRegistry(testLogger())

	first := newFakeTransport()
	second := newFakeTransport()

	if err := r.Register("alice", first); err != nil {
		t.Fatalf("register first: %v", err)
	}
	if err := r.Register("alice", second); err != nil {
		t.Fatalf("register second: %v", err)
	}

	got, ok := r.Lookup("alice")
	if !ok {
		t.Fatal("expected a live connection")
	}
	if got != second {
		t.Fatal("expected the newer connection to win")
	}
	if !first.wasClosed() {
		t.Fatal("expected the replaced connection to be closed")
	}
	if second.wasClosed() {
		t.Fatal("the winning connection must stay open")
	}
	if r.Size() != 1 {
		t.Fatalf("expected one connection, got %d", r.Size())
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry(testLogger())

	if err := r.Register("bob", newFakeTransport()); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.Unregister("bob")
	r.Unregister("bob")
	r.Unregister("never-registered")

	if _, ok := r.Lookup("bob"); ok {
		t.Fatal("expected bob to be gone")
	}
}

func TestReleaseOnlyRemovesOwnEntry(t *testing.T) {
	r := NewRegistry(testLogger())

	first := newFakeTransport()
	second := newFakeTransport()

	if err := r.Register("carol", first); err != nil {
		t.Fatalf("register first: %v", err)
	}
	if err := r.Register("carol", second); err != nil {
		t.Fatalf("register second: %v", err)
	}

	// The replaced connection's teardown must not evict the replacement.
	r.Release("carol", first)

	got, ok := r.Lookup("carol")
	if !ok || got != second {
		t.Fatal("expected the replacement to survive the old connection's release")
	}

	r.Release("carol", second)
	if _, ok := r.Lookup("carol"); ok {
		t.Fatal("expected carol to be gone after releasing her own transport")
	}
}
