package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// User represents a user in the system. The assistant models a conversation
// as a single-participant thread, so users here are the human accounts.
type User struct {
	ID            string
	Username      string
	FullName      string
	ImgURL        string
	IsSelf        bool
	CannotMessage bool
	CreatedAt     time.Time
}

// ThreadType defines different kinds of threads.
type ThreadType string

const (
	ThreadTypeSingle  ThreadType = "single"
	ThreadTypeGroup   ThreadType = "group"
	ThreadTypeChannel ThreadType = "channel"
)

// PromptType selects the prompt format used when flattening a dialog for a
// text-completion model.
type PromptType string

const (
	PromptDefault       PromptType = "default"
	PromptOpenAssistant PromptType = "openassistant"
	PromptLlama2        PromptType = "llama2"
	PromptStarChat      PromptType = "starchat"
)

// ModelType distinguishes chat-message models from raw text-completion models.
type ModelType string

const (
	ModelTypeChat       ModelType = "chat"
	ModelTypeCompletion ModelType = "completion"
)

// ModelOptions are the generation parameters passed through to a provider.
// Fields not used by a given provider are simply ignored by its adapter.
type ModelOptions struct {
	Temperature      float64 `json:"temperature,omitempty"`
	TopP             float64 `json:"top_p,omitempty"`
	MaxTokens        int     `json:"max_tokens,omitempty"`
	MaxNewTokens     int     `json:"max_new_tokens,omitempty"`
	FrequencyPenalty float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64 `json:"presence_penalty,omitempty"`
}

// ThreadExtra is the typed model configuration attached to a thread. It is
// read once at session start; TitleGenerated is a one-shot latch flipped only
// by the title generation path.
type ThreadExtra struct {
	ModelID        string       `json:"modelID"`
	PromptType     PromptType   `json:"promptType"`
	ModelType      ModelType    `json:"modelType"`
	TitleGenerated bool         `json:"titleGenerated"`
	Options        ModelOptions `json:"options"`
}

// Thread represents a conversation between a user and a model.
type Thread struct {
	ID         string
	Title      string
	Type       ThreadType
	IsUnread   bool
	IsReadOnly bool
	Timestamp  time.Time
	CreatedAt  time.Time
	Extra      ThreadExtra
}

// Message represents a persisted chat message. AI-authored messages carry the
// model identifier as SenderID and IsSender=false.
type Message struct {
	ID          string
	ThreadID    string
	SenderID    string
	Text        string
	Timestamp   time.Time
	Seen        bool
	IsSender    bool
	IsDelivered bool
	IsErrored   bool
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser persists a new user.
	CreateUser(ctx context.Context, user *User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*User, error)

	// ListUsers lists all known users.
	ListUsers(ctx context.Context) ([]*User, error)

	// SearchUsers searches for users by username or full name.
	SearchUsers(ctx context.Context, query string) ([]*User, error)
}

// ThreadStore handles thread persistence.
type ThreadStore interface {
	// CreateThread persists a new thread, including its extra configuration.
	CreateThread(ctx context.Context, thread *Thread) error

	// GetThread retrieves a thread (with extra configuration) by ID.
	GetThread(ctx context.Context, id string) (*Thread, error)

	// ListThreads lists all threads, most recently active first.
	ListThreads(ctx context.Context) ([]*Thread, error)

	// AddParticipant adds a user to a thread.
	AddParticipant(ctx context.Context, threadID, userID string) error

	// ListParticipants lists the users participating in a thread.
	ListParticipants(ctx context.Context, threadID string) ([]*User, error)

	// SetThreadTitle assigns the generated title and flips the TitleGenerated
	// latch in one write. The write only applies while the latch is still
	// unset; the boolean result reports whether this call won the latch.
	SetThreadTitle(ctx context.Context, threadID, title string) (bool, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// InsertMessage persists a message.
	InsertMessage(ctx context.Context, msg *Message) error

	// ListMessages retrieves all messages of a thread in timestamp order.
	ListMessages(ctx context.Context, threadID string) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ThreadStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
