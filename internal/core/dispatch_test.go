package core

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/avoronin/threadcast-server/internal/proto"
)

func TestDispatchToAbsentUserIsNoOp(t *testing.T) {
	r := NewRegistry(testLogger())
	d := NewDispatcher(r, testLogger())

	// Must not panic, block, or register anything.
	d.Dispatch(context.Background(), "nobody", proto.ThreadMessagesRefresh("t1"))

	if r.Size() != 0 {
		t.Fatalf("dispatch must not create connections, got %d", r.Size())
	}
}

func TestDispatchDropsOnClosedTransport(t *testing.T) {
	r := NewRegistry(testLogger())
	d := NewDispatcher(r, testLogger())

	ft := newFakeTransport()
	if err := r.Register("alice", ft); err != nil {
		t.Fatalf("register: %v", err)
	}
	_ = ft.Close("test")

	d.Dispatch(context.Background(), "alice", proto.ThreadMessagesRefresh("t1"))

	if len(ft.messages()) != 0 {
		t.Fatal("closed transport must not receive events")
	}
}

func TestDispatchDeliversInOrder(t *testing.T) {
	r := NewRegistry(testLogger())
	d := NewDispatcher(r, testLogger())

	ft := newFakeTransport()
	if err := r.Register("alice", ft); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	d.Dispatch(ctx, "alice", proto.UserActivity("t1", "m1", proto.ActivityTyping))
	d.Dispatch(ctx, "alice", proto.ThreadMessagesRefresh("t1"))
	d.Dispatch(ctx, "alice", proto.UserActivity("t1", "m1", proto.ActivityNone))

	msgs := ft.messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(msgs))
	}

	wantTypes := []proto.EventType{
		proto.EventUserActivity,
		proto.EventThreadMessagesRefresh,
		proto.EventUserActivity,
	}
	for i, raw := range msgs {
		var ev proto.ServerEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("event %d does not decode: %v", i, err)
		}
		if ev.Type != wantTypes[i] {
			t.Fatalf("event %d: got type %q, want %q", i, ev.Type, wantTypes[i])
		}
	}
}

func TestDispatchAfterUnregisterIsNoOp(t *testing.T) {
	r := NewRegistry(testLogger())
	d := NewDispatcher(r, testLogger())

	ft := newFakeTransport()
	if err := r.Register("alice", ft); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.Unregister("alice")

	d.Dispatch(context.Background(), "alice", proto.ThreadMessagesRefresh("t1"))

	if len(ft.messages()) != 0 {
		t.Fatal("unregistered transport must not receive events")
	}
}
