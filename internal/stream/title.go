package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/avoronin/threadcast-server/internal/proto"
	"github.com/avoronin/threadcast-server/internal/provider"
	"github.com/avoronin/threadcast-server/internal/store"
)

const titlePromptPrefix = "Generate a title for this conversation. Your response must be only the title. Consider the first message of user to be this :"

// MaybeGenerateTitle runs a title session for the thread unless its title has
// already been generated. The title streams to the client as partial thread
// updates and is persisted once at the end through the store's one-shot latch.
//
// A failed session persists nothing and leaves the latch unset, so a later
// message can retry. Quote characters are stripped from tokens because the
// models tend to wrap short answers in them.
func (c *Controller) MaybeGenerateTitle(ctx context.Context, thread *store.Thread, firstUserText, currentUserID string) error {
	if thread.Extra.TitleGenerated {
		return nil
	}

	acct, ok := c.accounts.Lookup(currentUserID)
	if !ok {
		return fmt.Errorf("%w: no provider bound for user %s", ErrSessionConfiguration, currentUserID)
	}
	titleModel, ok := provider.TitleModels[acct.Provider.ID()]
	if !ok {
		return fmt.Errorf("%w: provider %s has no title model", ErrSessionConfiguration, acct.Provider.ID())
	}

	cs, err := acct.Provider.StreamCompletion(ctx, titleModel.ID, titlePromptPrefix+firstUserText, titleModel.Options)
	if err != nil {
		return err
	}
	defer cs.Close()

	var title strings.Builder
	emit := func() {
		c.dispatch.Dispatch(ctx, currentUserID, proto.ThreadTitleUpdate(proto.ThreadTitleEntry{
			ID:        thread.ID,
			Title:     title.String(),
			Timestamp: time.Now().UTC(),
		}))
	}

	// Empty-title update first, the title counterpart of the placeholder
	// message.
	emit()

	for {
		token, err := cs.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		title.WriteString(strings.ReplaceAll(token, `"`, ""))
		emit()
	}

	// Re-emit after the stream ends so a client that missed the last partial
	// frame still converges on the final title.
	emit()

	won, err := c.store.SetThreadTitle(ctx, thread.ID, title.String())
	if err != nil {
		return fmt.Errorf("persist title: %w", err)
	}
	if !won {
		// A concurrent session got there first; its title stands.
		c.log.Debug().Str("thread_id", thread.ID).Msg("title latch already set, write skipped")
	}
	return nil
}

// LaunchTitle runs a title session as a detached task alongside the
// completion session.
func (c *Controller) LaunchTitle(ctx context.Context, thread *store.Thread, firstUserText, currentUserID string) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := c.MaybeGenerateTitle(ctx, thread, firstUserText, currentUserID); err != nil {
			c.log.Warn().Err(err).Str("thread_id", thread.ID).Msg("title session failed")
			return
		}
		c.log.Debug().Str("thread_id", thread.ID).Msg("title session finished")
	}()
}
