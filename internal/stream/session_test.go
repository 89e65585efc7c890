package stream

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/avoronin/threadcast-server/internal/proto"
	"github.com/avoronin/threadcast-server/internal/provider"
	"github.com/avoronin/threadcast-server/internal/store"
)

func TestStartCompletionHappyPath(t *testing.T) {
	p := &fakeProvider{
		id: provider.OpenAI,
		stream: &scriptedStream{
			tokens:    []string{" Hello", " world", "!"},
			final:     " Hello world!",
			failAfter: -1,
		},
	}
	f := newFixture(t, p)
	f.store.messages = []*store.Message{
		{ID: "m0", ThreadID: "t1", SenderID: "user-1", Text: "hi there", IsSender: true},
	}

	msg, err := f.ctrl.StartCompletion(context.Background(), chatThread(), "user-1")
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}

	// The provider's terminal value is what gets persisted, not the token
	// concatenation.
	if msg.Text != " Hello world!" {
		t.Fatalf("persisted text = %q", msg.Text)
	}
	if len(f.store.inserted) != 1 || f.store.inserted[0].Text != " Hello world!" {
		t.Fatalf("unexpected inserts: %+v", f.store.inserted)
	}
	if f.store.inserted[0].SenderID != "gpt-4" || f.store.inserted[0].IsSender {
		t.Fatalf("assistant message has wrong authorship: %+v", f.store.inserted[0])
	}

	events := f.transport.events(t)
	if len(events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(events))
	}

	// Placeholder upsert first, with the single-space text.
	if events[0].Type != proto.EventStateSync || entryText(t, events[0]) != " " {
		t.Fatalf("first event is not the placeholder: %+v", events[0])
	}

	// Advisory activity hint after the placeholder.
	if events[1].Type != proto.EventUserActivity || events[1].ActivityType != proto.ActivityTyping {
		t.Fatalf("second event is not the typing hint: %+v", events[1])
	}
	if events[1].DurationMs == 0 {
		t.Fatal("typing hint must carry a duration")
	}

	// Full-text upserts, with the leading space trimmed exactly once.
	wantTexts := []string{" Hello", "Hello world", "Hello world!"}
	for i, want := range wantTexts {
		ev := events[2+i]
		if ev.Type != proto.EventStateSync {
			t.Fatalf("event %d is not an upsert: %+v", 2+i, ev)
		}
		if got := entryText(t, ev); got != want {
			t.Fatalf("upsert %d text = %q, want %q", i, got, want)
		}
	}

	// One identity across the whole session, matching the persisted row.
	for _, ev := range []proto.ServerEvent{events[0], events[2], events[3], events[4]} {
		if entryID(t, ev) != msg.ID {
			t.Fatal("message identity changed mid-session")
		}
	}

	// Activity cleared at the end.
	last := events[5]
	if last.Type != proto.EventUserActivity || last.ActivityType != proto.ActivityNone {
		t.Fatalf("last event is not the activity clear: %+v", last)
	}
	if last.ParticipantID != "gpt-4" || last.ThreadID != "t1" {
		t.Fatalf("activity clear misaddressed: %+v", last)
	}

	if !p.stream.closed {
		t.Fatal("stream must be closed after the session")
	}
}

func TestStartCompletionChatDefaultUsesStructuredTurns(t *testing.T) {
	p := &fakeProvider{
		id:     provider.OpenAI,
		stream: &scriptedStream{tokens: []string{"ok"}, final: "ok", failAfter: -1},
	}
	f := newFixture(t, p)
	f.store.messages = []*store.Message{
		{ID: "m0", SenderID: "user-1", Text: "hi", IsSender: true},
		{ID: "m1", SenderID: "someone-else", Text: "noise"},
		{ID: "m2", SenderID: "gpt-4", Text: "hello"},
	}

	if _, err := f.ctrl.StartCompletion(context.Background(), chatThread(), "user-1"); err != nil {
		t.Fatalf("session failed: %v", err)
	}

	if p.chatCalls != 1 || p.completionCalls != 0 {
		t.Fatalf("expected one chat call, got chat=%d completion=%d", p.chatCalls, p.completionCalls)
	}
	// Only the user/model dyad reaches the provider.
	if len(p.gotMsgs) != 2 {
		t.Fatalf("dialog = %+v", p.gotMsgs)
	}
}

func TestStartCompletionFlattensNonDefaultPrompt(t *testing.T) {
	p := &fakeProvider{
		id:     provider.HuggingFace,
		stream: &scriptedStream{tokens: []string{"ok"}, final: "ok", failAfter: -1},
	}
	f := newFixture(t, p)
	f.store.messages = []*store.Message{
		{ID: "m0", SenderID: "user-1", Text: "hi", IsSender: true},
	}

	thread := chatThread()
	thread.Extra.ModelID = "OpenAssistant/oasst-sft-4-pythia-12b-epoch-3.5"
	thread.Extra.PromptType = store.PromptOpenAssistant
	f.store.messages[0].SenderID = "user-1"

	if _, err := f.ctrl.StartCompletion(context.Background(), thread, "user-1"); err != nil {
		t.Fatalf("session failed: %v", err)
	}

	if p.completionCalls != 1 || p.chatCalls != 0 {
		t.Fatalf("expected one completion call, got chat=%d completion=%d", p.chatCalls, p.completionCalls)
	}
	if !strings.Contains(p.gotPrompt, "<|prompter|>hi<|endoftext|>") {
		t.Fatalf("prompt not flattened: %q", p.gotPrompt)
	}
}

func TestStartCompletionCompletionModelUsesLastUserText(t *testing.T) {
	p := &fakeProvider{
		id:     provider.OpenAI,
		stream: &scriptedStream{tokens: []string{"ok"}, final: "ok", failAfter: -1},
	}
	f := newFixture(t, p)
	f.store.messages = []*store.Message{
		{ID: "m0", SenderID: "user-1", Text: "first question", IsSender: true},
		{ID: "m1", SenderID: "gpt-3.5-turbo-instruct", Text: "an answer"},
		{ID: "m2", SenderID: "user-1", Text: "second question", IsSender: true},
	}

	thread := chatThread()
	thread.Extra.ModelID = "gpt-3.5-turbo-instruct"
	thread.Extra.ModelType = store.ModelTypeCompletion

	if _, err := f.ctrl.StartCompletion(context.Background(), thread, "user-1"); err != nil {
		t.Fatalf("session failed: %v", err)
	}

	if p.completionCalls != 1 {
		t.Fatalf("expected a completion call, got %d", p.completionCalls)
	}
	if p.gotPrompt != "second question" {
		t.Fatalf("prompt = %q", p.gotPrompt)
	}
}

func TestStartCompletionWithoutAccountFailsBeforeAnyEvent(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.ctrl.StartCompletion(context.Background(), chatThread(), "user-1")
	if !errors.Is(err, ErrSessionConfiguration) {
		t.Fatalf("expected ErrSessionConfiguration, got %v", err)
	}

	if len(f.transport.events(t)) != 0 {
		t.Fatal("a configuration failure must not emit events")
	}
	if len(f.store.inserted) != 0 {
		t.Fatal("a configuration failure must not persist anything")
	}
}

func TestStartCompletionWithoutModelFails(t *testing.T) {
	p := &fakeProvider{id: provider.OpenAI}
	f := newFixture(t, p)

	thread := chatThread()
	thread.Extra.ModelID = ""

	_, err := f.ctrl.StartCompletion(context.Background(), thread, "user-1")
	if !errors.Is(err, ErrSessionConfiguration) {
		t.Fatalf("expected ErrSessionConfiguration, got %v", err)
	}
}

func TestStartCompletionProviderFailurePersistsNothing(t *testing.T) {
	p := &fakeProvider{
		id: provider.OpenAI,
		stream: &scriptedStream{
			tokens:    []string{"Hel", "lo", " there"},
			failAfter: 2,
		},
	}
	f := newFixture(t, p)
	f.store.messages = []*store.Message{
		{ID: "m0", SenderID: "user-1", Text: "hi", IsSender: true},
	}

	_, err := f.ctrl.StartCompletion(context.Background(), chatThread(), "user-1")
	if err == nil {
		t.Fatal("expected the provider failure to surface")
	}

	if len(f.store.inserted) != 0 {
		t.Fatal("a failed session must not persist a message")
	}

	// The partial upserts stay as-is; no rollback or error event follows.
	events := f.transport.events(t)
	last := events[len(events)-1]
	if last.Type != proto.EventStateSync {
		t.Fatalf("unexpected trailing event after failure: %+v", last)
	}
	if got := entryText(t, last); got != "Hello" {
		t.Fatalf("last partial text = %q", got)
	}
	for _, ev := range events {
		if ev.Type == proto.EventUserActivity && ev.ActivityType == proto.ActivityNone {
			t.Fatal("a failed session must not clear activity")
		}
	}
}

func TestStartCompletionOpenErrorEmitsNoTokens(t *testing.T) {
	p := &fakeProvider{
		id:        provider.OpenAI,
		streamErr: errors.New("bad key"),
	}
	f := newFixture(t, p)

	_, err := f.ctrl.StartCompletion(context.Background(), chatThread(), "user-1")
	if err == nil {
		t.Fatal("expected the open failure to surface")
	}

	// Placeholder and typing hint precede the stream open, nothing follows.
	events := f.transport.events(t)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if len(f.store.inserted) != 0 {
		t.Fatal("nothing must be persisted")
	}
}

func TestStartCompletionOfflineUserStillPersists(t *testing.T) {
	p := &fakeProvider{
		id:     provider.OpenAI,
		stream: &scriptedStream{tokens: []string{"ok"}, final: "ok", failAfter: -1},
	}

	f := newFixture(t, p)
	f.store.messages = []*store.Message{
		{ID: "m0", SenderID: "user-1", Text: "hi", IsSender: true, Timestamp: time.Now()},
	}

	// The user drops offline before the session starts; every dispatch
	// becomes a no-op and the session still runs to completion.
	f.registry.Unregister("user-1")

	msg, err := f.ctrl.StartCompletion(context.Background(), chatThread(), "user-1")
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}
	if msg.Text != "ok" {
		t.Fatalf("persisted text = %q", msg.Text)
	}
	if len(f.transport.events(t)) != 0 {
		t.Fatal("offline user must not receive events")
	}
}
