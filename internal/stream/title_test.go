package stream

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/avoronin/threadcast-server/internal/proto"
	"github.com/avoronin/threadcast-server/internal/provider"
)

func titleEvents(t *testing.T, events []proto.ServerEvent) []proto.ServerEvent {
	t.Helper()
	var out []proto.ServerEvent
	for _, ev := range events {
		if ev.Type == proto.EventStateSync && ev.ObjectName == proto.ObjectThread {
			out = append(out, ev)
		}
	}
	return out
}

func titleOf(t *testing.T, ev proto.ServerEvent) string {
	t.Helper()
	if len(ev.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(ev.Entries))
	}
	entry := ev.Entries[0].(map[string]any)
	title, ok := entry["title"].(string)
	if !ok {
		t.Fatalf("entry carries no title: %v", entry)
	}
	return title
}

func TestTitleGenerationStreamsAndPersists(t *testing.T) {
	p := &fakeProvider{
		id: provider.OpenAI,
		stream: &scriptedStream{
			tokens:    []string{`"Greeting`, ` Chat"`},
			final:     `"Greeting Chat"`,
			failAfter: -1,
		},
	}
	f := newFixture(t, p)

	thread := chatThread()
	if err := f.ctrl.MaybeGenerateTitle(context.Background(), thread, "hello there", "user-1"); err != nil {
		t.Fatalf("title session failed: %v", err)
	}

	// The title prompt embeds the user's first message.
	if p.completionCalls != 1 {
		t.Fatalf("expected one completion call, got %d", p.completionCalls)
	}
	if !strings.HasSuffix(p.gotPrompt, "hello there") {
		t.Fatalf("prompt does not end with the user text: %q", p.gotPrompt)
	}
	if p.gotModelID != "gpt-3.5-turbo-instruct" {
		t.Fatalf("title must use the provider's title model, got %q", p.gotModelID)
	}

	updates := titleEvents(t, f.transport.events(t))
	// Empty title, two partials, one closing duplicate.
	if len(updates) != 4 {
		t.Fatalf("expected 4 title updates, got %d", len(updates))
	}
	if got := titleOf(t, updates[0]); got != "" {
		t.Fatalf("first update must carry an empty title, got %q", got)
	}

	// Quotes are stripped from the streamed tokens.
	wantTitles := []string{"Greeting", "Greeting Chat", "Greeting Chat"}
	for i, want := range wantTitles {
		if got := titleOf(t, updates[1+i]); got != want {
			t.Fatalf("update %d title = %q, want %q", 1+i, got, want)
		}
	}

	// All updates are partial, never upserts.
	for _, ev := range updates {
		if ev.MutationType != proto.MutationUpdate {
			t.Fatalf("title update has mutation %q", ev.MutationType)
		}
	}

	if len(f.store.titleWritten) != 1 || f.store.titleWritten[0] != "Greeting Chat" {
		t.Fatalf("unexpected persisted titles: %q", f.store.titleWritten)
	}
}

func TestTitleGenerationSkipsWhenLatchSet(t *testing.T) {
	p := &fakeProvider{id: provider.OpenAI}
	f := newFixture(t, p)

	thread := chatThread()
	thread.Extra.TitleGenerated = true

	if err := f.ctrl.MaybeGenerateTitle(context.Background(), thread, "hi", "user-1"); err != nil {
		t.Fatalf("skip must not fail: %v", err)
	}

	if p.completionCalls != 0 || p.chatCalls != 0 {
		t.Fatal("latched threads must not reach the provider")
	}
	if len(f.transport.events(t)) != 0 {
		t.Fatal("latched threads must not emit events")
	}
}

func TestTitleGenerationLosingTheLatchIsNotAnError(t *testing.T) {
	p := &fakeProvider{
		id:     provider.OpenAI,
		stream: &scriptedStream{tokens: []string{"Title"}, final: "Title", failAfter: -1},
	}
	f := newFixture(t, p)
	f.store.titleLatchHeld = true // a concurrent session already won

	if err := f.ctrl.MaybeGenerateTitle(context.Background(), chatThread(), "hi", "user-1"); err != nil {
		t.Fatalf("losing the latch must not fail: %v", err)
	}
}

func TestTitleGenerationFailureLeavesLatchUnset(t *testing.T) {
	p := &fakeProvider{
		id: provider.OpenAI,
		stream: &scriptedStream{
			tokens:    []string{"Half"},
			failAfter: 1,
		},
	}
	f := newFixture(t, p)

	err := f.ctrl.MaybeGenerateTitle(context.Background(), chatThread(), "hi", "user-1")
	if err == nil {
		t.Fatal("expected the provider failure to surface")
	}

	if len(f.store.titleWritten) != 0 {
		t.Fatal("a failed session must not write a title")
	}
	if f.store.titleLatchHeld {
		t.Fatal("the latch must stay unset so a later message can retry")
	}
}

func TestTitleGenerationWithoutAccountFails(t *testing.T) {
	f := newFixture(t, nil)

	err := f.ctrl.MaybeGenerateTitle(context.Background(), chatThread(), "hi", "user-1")
	if !errors.Is(err, ErrSessionConfiguration) {
		t.Fatalf("expected ErrSessionConfiguration, got %v", err)
	}
}
