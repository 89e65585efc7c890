package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/avoronin/threadcast-server/internal/core"
	"github.com/avoronin/threadcast-server/internal/proto"
	"github.com/avoronin/threadcast-server/internal/provider"
	"github.com/avoronin/threadcast-server/internal/store"
)

// ---- shared fakes ----

type memStore struct {
	mu             sync.Mutex
	messages       []*store.Message
	inserted       []*store.Message
	titleWritten   []string
	titleLatchHeld bool
}

func (m *memStore) CreateUser(context.Context, *store.User) error { return nil }
func (m *memStore) GetUser(context.Context, string) (*store.User, error) {
	return nil, store.ErrNotFound
}
func (m *memStore) ListUsers(context.Context) ([]*store.User, error) { return nil, nil }
func (m *memStore) SearchUsers(context.Context, string) ([]*store.User, error) {
	return nil, nil
}

func (m *memStore) CreateThread(context.Context, *store.Thread) error { return nil }
func (m *memStore) GetThread(context.Context, string) (*store.Thread, error) {
	return nil, store.ErrNotFound
}
func (m *memStore) ListThreads(context.Context) ([]*store.Thread, error) { return nil, nil }
func (m *memStore) AddParticipant(context.Context, string, string) error { return nil }
func (m *memStore) ListParticipants(context.Context, string) ([]*store.User, error) {
	return nil, nil
}

func (m *memStore) SetThreadTitle(_ context.Context, _, title string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titleWritten = append(m.titleWritten, title)
	if m.titleLatchHeld {
		return false, nil
	}
	m.titleLatchHeld = true
	return true, nil
}

func (m *memStore) InsertMessage(_ context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.inserted = append(m.inserted, &cp)
	return nil
}

func (m *memStore) ListMessages(context.Context, string) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages, nil
}

func (m *memStore) Close() error { return nil }

// scriptedStream plays back a fixed token sequence, optionally failing midway.
type scriptedStream struct {
	tokens    []string
	i         int
	final     string
	failAfter int // fail before yielding token at this index; -1 disables
	closed    bool
}

func (s *scriptedStream) Recv() (string, error) {
	if s.failAfter >= 0 && s.i == s.failAfter {
		return "", errors.New("provider broke mid-stream")
	}
	if s.i >= len(s.tokens) {
		return "", io.EOF
	}
	tok := s.tokens[s.i]
	s.i++
	return tok, nil
}

func (s *scriptedStream) Final() string { return s.final }
func (s *scriptedStream) Close() error  { s.closed = true; return nil }

type fakeProvider struct {
	id provider.ID

	stream    *scriptedStream
	streamErr error

	chatCalls       int
	completionCalls int
	gotModelID      string
	gotPrompt       string
	gotMsgs         []provider.ChatMessage
}

func (f *fakeProvider) ID() provider.ID { return f.id }

func (f *fakeProvider) StreamChat(_ context.Context, modelID string, msgs []provider.ChatMessage, _ store.ModelOptions) (provider.CompletionStream, error) {
	f.chatCalls++
	f.gotModelID = modelID
	f.gotMsgs = msgs
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return f.stream, nil
}

func (f *fakeProvider) StreamCompletion(_ context.Context, modelID, prompt string, _ store.ModelOptions) (provider.CompletionStream, error) {
	f.completionCalls++
	f.gotModelID = modelID
	f.gotPrompt = prompt
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return f.stream, nil
}

// captureTransport records every dispatched frame for a registered user.
type captureTransport struct {
	mu   sync.Mutex
	sent [][]byte
}

func (t *captureTransport) Send(_ context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	t.sent = append(t.sent, buf)
	return nil
}

func (t *captureTransport) Open() bool         { return true }
func (t *captureTransport) Close(string) error { return nil }

func (t *captureTransport) events(tb testing.TB) []proto.ServerEvent {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	events := make([]proto.ServerEvent, 0, len(t.sent))
	for _, raw := range t.sent {
		var ev proto.ServerEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			tb.Fatalf("event does not decode: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

type fixture struct {
	store     *memStore
	provider  *fakeProvider
	transport *captureTransport
	registry  *core.Registry
	ctrl      *Controller
}

func newFixture(t *testing.T, p *fakeProvider) *fixture {
	t.Helper()

	nop := zerolog.Nop()
	logger := &nop

	st := &memStore{}
	registry := core.NewRegistry(logger)
	dispatch := core.NewDispatcher(registry, logger)
	accounts := provider.NewAccounts()

	tr := &captureTransport{}
	if err := registry.Register("user-1", tr); err != nil {
		t.Fatalf("register transport: %v", err)
	}
	if p != nil {
		accounts.Bind("user-1", p)
	}

	return &fixture{
		store:     st,
		provider:  p,
		transport: tr,
		registry:  registry,
		ctrl:      NewController(st, dispatch, accounts, logger),
	}
}

func chatThread() *store.Thread {
	return &store.Thread{
		ID:        "t1",
		Type:      store.ThreadTypeSingle,
		Timestamp: time.Now().UTC(),
		Extra: store.ThreadExtra{
			ModelID:    "gpt-4",
			PromptType: store.PromptDefault,
			ModelType:  store.ModelTypeChat,
			Options:    store.ModelOptions{Temperature: 0.9, MaxTokens: 250},
		},
	}
}

func entryText(t *testing.T, ev proto.ServerEvent) string {
	t.Helper()
	if len(ev.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(ev.Entries))
	}
	entry, ok := ev.Entries[0].(map[string]any)
	if !ok {
		t.Fatalf("entry is not an object: %T", ev.Entries[0])
	}
	text, _ := entry["text"].(string)
	return text
}

func entryID(t *testing.T, ev proto.ServerEvent) string {
	t.Helper()
	entry := ev.Entries[0].(map[string]any)
	id, _ := entry["id"].(string)
	return id
}
