// Package stream runs the token-by-token generation sessions: the completion
// session that grows an assistant message, and the title session that names a
// thread. Each session owns its accumulator exclusively and pushes its
// progress through the event dispatcher.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/avoronin/threadcast-server/internal/core"
	"github.com/avoronin/threadcast-server/internal/ids"
	"github.com/avoronin/threadcast-server/internal/proto"
	"github.com/avoronin/threadcast-server/internal/provider"
	"github.com/avoronin/threadcast-server/internal/store"
)

// ErrSessionConfiguration is returned when a thread or account is missing the
// configuration a session needs. It surfaces synchronously, before any event
// is emitted.
var ErrSessionConfiguration = errors.New("session configuration invalid")

// Advisory hint for how long the client should show the activity indicator.
// Nothing enforces it server-side.
const activityDurationMs = 30_000

// Controller orchestrates streaming sessions against a user's provider.
type Controller struct {
	store    store.Store
	dispatch *core.Dispatcher
	accounts *provider.Accounts
	log      *zerolog.Logger
}

// NewController builds a session controller.
func NewController(st store.Store, dispatch *core.Dispatcher, accounts *provider.Accounts, logger *zerolog.Logger) *Controller {
	return &Controller{
		store:    st,
		dispatch: dispatch,
		accounts: accounts,
		log:      logger,
	}
}

// ValidateSession checks that a completion session can start for this thread
// and user. Called by the request boundary before anything is emitted, so
// configuration problems fail the request synchronously.
func (c *Controller) ValidateSession(thread *store.Thread, currentUserID string) (*provider.Account, error) {
	acct, ok := c.accounts.Lookup(currentUserID)
	if !ok {
		return nil, fmt.Errorf("%w: no provider bound for user %s", ErrSessionConfiguration, currentUserID)
	}
	if thread.Extra.ModelID == "" {
		return nil, fmt.Errorf("%w: thread %s has no model configured", ErrSessionConfiguration, thread.ID)
	}
	switch thread.Extra.ModelType {
	case store.ModelTypeChat, store.ModelTypeCompletion:
	default:
		return nil, fmt.Errorf("%w: unknown model type %q", ErrSessionConfiguration, thread.Extra.ModelType)
	}
	return acct, nil
}

// StartCompletion runs one completion session to its end and returns the
// persisted assistant message.
//
// The session moves Idle -> PlaceholderSent -> Streaming -> Persisted/Failed
// and is never re-entered; a new user message always starts a new session
// with a new message identity. Every upsert it emits carries that one
// identity and the full accumulated text, so clients converge even when they
// miss intermediate frames.
func (c *Controller) StartCompletion(ctx context.Context, thread *store.Thread, currentUserID string) (*store.Message, error) {
	acct, err := c.ValidateSession(thread, currentUserID)
	if err != nil {
		return nil, err
	}

	history, err := c.store.ListMessages(ctx, thread.ID)
	if err != nil {
		return nil, fmt.Errorf("load thread history: %w", err)
	}
	dialog := provider.FilterDialog(history, currentUserID, thread.Extra.ModelID)

	// Fixed identity for the whole session, single-space placeholder text so
	// the client renders the assistant bubble before the first token lands.
	msg := &store.Message{
		ID:          ids.NewMessage(),
		ThreadID:    thread.ID,
		SenderID:    thread.Extra.ModelID,
		Text:        " ",
		Timestamp:   time.Now().UTC(),
		Seen:        true,
		IsSender:    false,
		IsDelivered: true,
	}
	c.dispatch.Dispatch(ctx, currentUserID, proto.MessageUpsert(thread.ID, proto.FromMessage(msg)))
	c.dispatch.Dispatch(ctx, currentUserID, proto.ServerEvent{
		Type:          proto.EventUserActivity,
		ThreadID:      thread.ID,
		ParticipantID: thread.Extra.ModelID,
		ActivityType:  proto.ActivityTyping,
		DurationMs:    activityDurationMs,
	})

	// The placeholder space is presentation only; the accumulator starts
	// empty so the first token is not prefixed by it.
	msg.Text = ""

	cs, err := c.openStream(ctx, acct, thread, dialog)
	if err != nil {
		return nil, err
	}
	defer cs.Close()

	for {
		token, err := cs.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Failed terminal state: nothing is persisted and no rollback
			// event exists in the protocol, so the last partial upsert stays
			// on the client's screen.
			return nil, err
		}

		// Providers tend to prefix the first token with a space; drop it
		// once real text exists. This fires at most once per session.
		if msg.Text != "" && msg.Text[0] == ' ' && strings.TrimLeft(msg.Text, " ") != "" {
			msg.Text = strings.TrimLeft(msg.Text, " ")
		}
		msg.Text += token
		c.dispatch.Dispatch(ctx, currentUserID, proto.MessageUpsert(thread.ID, proto.FromMessage(msg)))
	}

	// Clear the activity indicator before the terminal write.
	c.dispatch.Dispatch(ctx, currentUserID, proto.UserActivity(thread.ID, thread.Extra.ModelID, proto.ActivityNone))

	// The provider's terminal completion value is authoritative; it can
	// differ from the token concatenation.
	final := *msg
	final.Text = cs.Final()
	if err := c.store.InsertMessage(ctx, &final); err != nil {
		return nil, fmt.Errorf("persist completion: %w", err)
	}
	return &final, nil
}

// openStream picks the provider call shape for the thread's configuration.
// Chat models with the default prompt type take structured turns; every other
// combination flattens the dialog into a text prompt.
func (c *Controller) openStream(ctx context.Context, acct *provider.Account, thread *store.Thread, dialog []provider.ChatMessage) (provider.CompletionStream, error) {
	extra := thread.Extra

	if extra.ModelType == store.ModelTypeChat {
		if extra.PromptType == store.PromptDefault {
			return acct.Provider.StreamChat(ctx, extra.ModelID, dialog, extra.Options)
		}
		prompt, err := provider.BuildPrompt(extra.PromptType, dialog)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionConfiguration, err)
		}
		return acct.Provider.StreamCompletion(ctx, extra.ModelID, prompt, extra.Options)
	}

	// Completion models answer the latest user text alone.
	var lastUserText string
	for i := len(dialog) - 1; i >= 0; i-- {
		if dialog[i].Role == provider.RoleUser {
			lastUserText = dialog[i].Content
			break
		}
	}
	prompt := provider.CompletionPrompt(lastUserText, extra.ModelID)
	return acct.Provider.StreamCompletion(ctx, extra.ModelID, prompt, extra.Options)
}

// LaunchCompletion runs a completion session as a detached task. The caller
// never joins it; the terminal outcome is observable in the logs.
func (c *Controller) LaunchCompletion(ctx context.Context, thread *store.Thread, currentUserID string) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		msg, err := c.StartCompletion(ctx, thread, currentUserID)
		if err != nil {
			c.log.Error().Err(err).Str("thread_id", thread.ID).Msg("completion session failed")
			return
		}
		c.log.Debug().Str("thread_id", thread.ID).Str("message_id", msg.ID).Msg("completion session persisted")
	}()
}
