// Package provider adapts external text-generation vendors behind a single
// streaming capability interface. Providers are selected by a closed ID enum,
// never by runtime type inspection of vendor SDK values.
package provider

import (
	"context"
	"fmt"

	"github.com/avoronin/threadcast-server/internal/store"
)

// ID names a supported provider.
type ID string

const (
	OpenAI      ID = "openai"
	Fireworks   ID = "fireworks"
	HuggingFace ID = "huggingface"
)

// ParseID validates a provider identifier coming from the outside.
func ParseID(s string) (ID, error) {
	switch ID(s) {
	case OpenAI, Fireworks, HuggingFace:
		return ID(s), nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// Role values for chat messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a chat-format prompt.
type ChatMessage struct {
	Role    string
	Content string
}

// CompletionStream yields generation tokens in order. Recv returns io.EOF
// when the provider finishes; after that Final returns the provider's own
// terminal full text, which is authoritative and may differ from the
// concatenation of tokens.
type CompletionStream interface {
	Recv() (string, error)
	Final() string
	Close() error
}

// Provider is the uniform streaming capability backed by one vendor.
type Provider interface {
	// ID reports which vendor backs this provider.
	ID() ID

	// StreamChat starts a streaming chat completion.
	StreamChat(ctx context.Context, modelID string, msgs []ChatMessage, opts store.ModelOptions) (CompletionStream, error)

	// StreamCompletion starts a streaming text completion for a flat prompt.
	StreamCompletion(ctx context.Context, modelID, prompt string, opts store.ModelOptions) (CompletionStream, error)
}

// StreamError wraps a provider failure during an active stream.
type StreamError struct {
	Provider ID
	Model    string
	Err      error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("provider %s model %s: %v", e.Provider, e.Model, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Factory builds a provider handle from an identity and an API key. The
// default implementation is New; tests substitute their own.
type Factory func(id ID, apiKey string) (Provider, error)

// Options tweak provider construction.
type Options struct {
	// HuggingFaceBaseURL overrides the inference endpoint.
	HuggingFaceBaseURL string
}

// New builds a provider handle for the given identity.
func New(id ID, apiKey string) (Provider, error) {
	return NewWithOptions(id, apiKey, Options{})
}

// NewWithOptions builds a provider handle with explicit construction options.
func NewWithOptions(id ID, apiKey string, opts Options) (Provider, error) {
	switch id {
	case OpenAI:
		return newOpenAI(apiKey), nil
	case Fireworks:
		return newFireworks(apiKey), nil
	case HuggingFace:
		return newHuggingFace(apiKey, opts.HuggingFaceBaseURL), nil
	}
	return nil, fmt.Errorf("unknown provider %q", id)
}
