// Package proto defines the wire shapes pushed to connected clients. One JSON
// object per event, UTF-8 text frames.
package proto

import (
	"time"

	"github.com/avoronin/threadcast-server/internal/store"
)

// EventType tags the ServerEvent union.
type EventType string

const (
	EventStateSync             EventType = "state_sync"
	EventThreadMessagesRefresh EventType = "thread_messages_refresh"
	EventSessionUpdated        EventType = "session_updated"
	EventRefreshAccount        EventType = "refresh_account"
	EventToast                 EventType = "toast"
	EventUserActivity          EventType = "user_activity"
	EventUserPresenceUpdated   EventType = "user_presence_updated"
)

// ObjectName identifies which client-side collection a state_sync targets.
type ObjectName string

const (
	ObjectThread          ObjectName = "thread"
	ObjectMessage         ObjectName = "message"
	ObjectMessageReaction ObjectName = "message_reaction"
	ObjectMessageSeen     ObjectName = "message_seen"
	ObjectParticipant     ObjectName = "participant"
	ObjectCustomEmoji     ObjectName = "custom_emoji"
)

// MutationType describes how entries apply to the client's local state.
type MutationType string

const (
	MutationUpsert    MutationType = "upsert"
	MutationUpdate    MutationType = "update"
	MutationDelete    MutationType = "delete"
	MutationDeleteAll MutationType = "delete-all"
)

// ActivityType is the participant activity indicator carried by
// user_activity events.
type ActivityType string

const (
	ActivityNone   ActivityType = "none"
	ActivityTyping ActivityType = "typing"
)

// ObjectIDs is the correlation bag attached to state_sync events. It exists
// for routing and debugging; entries remain the authoritative payload.
type ObjectIDs struct {
	ThreadID  string `json:"threadID,omitempty"`
	MessageID string `json:"messageID,omitempty"`
}

// Toast is a transient notification shown by the client.
type Toast struct {
	Text string `json:"text"`
}

// Presence describes a user's availability.
type Presence struct {
	UserID     string    `json:"userID"`
	Status     string    `json:"status"`
	LastActive time.Time `json:"lastActive,omitzero"`
}

// ServerEvent is the tagged union delivered over the push channel. Only the
// fields belonging to the variant named by Type are populated; everything
// else is omitted from the wire form, so every variant serializes losslessly
// through the same struct.
type ServerEvent struct {
	Type EventType `json:"type"`

	// state_sync fields.
	ObjectName   ObjectName   `json:"objectName,omitempty"`
	MutationType MutationType `json:"mutationType,omitempty"`
	ObjectIDs    *ObjectIDs   `json:"objectIDs,omitempty"`
	Entries      []any        `json:"entries,omitempty"`

	// user_activity and thread_messages_refresh fields.
	ThreadID      string       `json:"threadID,omitempty"`
	ParticipantID string       `json:"participantID,omitempty"`
	ActivityType  ActivityType `json:"activityType,omitempty"`
	DurationMs    int          `json:"durationMs,omitempty"`

	// toast fields.
	Toast *Toast `json:"toast,omitempty"`

	// user_presence_updated fields.
	Presence *Presence `json:"presence,omitempty"`
}

// MessageUpsert builds a state_sync upsert for a single message. Streaming
// sessions emit this repeatedly with the same entry identity and a growing
// text, so clients converge on the latest state even if they miss frames.
func MessageUpsert(threadID string, entry MessageEntry) ServerEvent {
	return ServerEvent{
		Type:         EventStateSync,
		ObjectName:   ObjectMessage,
		MutationType: MutationUpsert,
		ObjectIDs:    &ObjectIDs{ThreadID: threadID, MessageID: entry.ID},
		Entries:      []any{entry},
	}
}

// ThreadTitleUpdate builds a partial state_sync update carrying only the
// thread's id, title, and timestamp. Update (not upsert) keeps the client
// from clobbering thread fields it already holds.
func ThreadTitleUpdate(entry ThreadTitleEntry) ServerEvent {
	return ServerEvent{
		Type:         EventStateSync,
		ObjectName:   ObjectThread,
		MutationType: MutationUpdate,
		ObjectIDs:    &ObjectIDs{},
		Entries:      []any{entry},
	}
}

// UserActivity builds a user_activity event for a thread participant.
func UserActivity(threadID, participantID string, kind ActivityType) ServerEvent {
	return ServerEvent{
		Type:          EventUserActivity,
		ThreadID:      threadID,
		ParticipantID: participantID,
		ActivityType:  kind,
	}
}

// ThreadMessagesRefresh tells the client to refetch a thread's messages.
func ThreadMessagesRefresh(threadID string) ServerEvent {
	return ServerEvent{Type: EventThreadMessagesRefresh, ThreadID: threadID}
}

// MessageEntry is the wire form of a message, both in state_sync entries and
// in HTTP responses.
type MessageEntry struct {
	ID          string    `json:"id"`
	ThreadID    string    `json:"threadID,omitempty"`
	SenderID    string    `json:"senderID"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
	Seen        bool      `json:"seen"`
	IsSender    bool      `json:"isSender"`
	IsDelivered bool      `json:"isDelivered"`
	IsErrored   bool      `json:"isErrored,omitempty"`
}

// FromMessage maps a stored message to its wire form.
func FromMessage(m *store.Message) MessageEntry {
	return MessageEntry{
		ID:          m.ID,
		ThreadID:    m.ThreadID,
		SenderID:    m.SenderID,
		Text:        m.Text,
		Timestamp:   m.Timestamp,
		Seen:        m.Seen,
		IsSender:    m.IsSender,
		IsDelivered: m.IsDelivered,
		IsErrored:   m.IsErrored,
	}
}

// ThreadTitleEntry is the partial thread object carried by title updates.
// Title deliberately has no omitempty: the first update of a session carries
// an empty title.
type ThreadTitleEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
}

// UserEntry is the wire form of a user.
type UserEntry struct {
	ID            string `json:"id"`
	Username      string `json:"username,omitempty"`
	FullName      string `json:"fullName,omitempty"`
	ImgURL        string `json:"imgURL,omitempty"`
	IsSelf        bool   `json:"isSelf,omitempty"`
	CannotMessage bool   `json:"cannotMessage,omitempty"`
}

// FromUser maps a stored user to its wire form.
func FromUser(u *store.User) UserEntry {
	return UserEntry{
		ID:            u.ID,
		Username:      u.Username,
		FullName:      u.FullName,
		ImgURL:        u.ImgURL,
		IsSelf:        u.IsSelf,
		CannotMessage: u.CannotMessage,
	}
}

// MessageList is a paginated message collection.
type MessageList struct {
	Items   []MessageEntry `json:"items"`
	HasMore bool           `json:"hasMore"`
}

// ParticipantList is a paginated participant collection.
type ParticipantList struct {
	Items   []UserEntry `json:"items"`
	HasMore bool        `json:"hasMore"`
}

// ThreadEntry is the full wire form of a thread, used in HTTP responses.
type ThreadEntry struct {
	ID           string           `json:"id"`
	Title        string           `json:"title,omitempty"`
	Type         string           `json:"type"`
	IsUnread     bool             `json:"isUnread"`
	IsReadOnly   bool             `json:"isReadOnly"`
	Timestamp    time.Time        `json:"timestamp"`
	CreatedAt    time.Time        `json:"createdAt,omitzero"`
	Participants *ParticipantList `json:"participants,omitempty"`
	Messages     *MessageList     `json:"messages,omitempty"`
	Extra        *ThreadExtra     `json:"extra,omitempty"`
}

// ThreadExtra is the wire form of a thread's model configuration. The API key
// of the owning account never appears here.
type ThreadExtra struct {
	ModelID        string             `json:"modelID"`
	PromptType     string             `json:"promptType"`
	ModelType      string             `json:"modelType"`
	TitleGenerated bool               `json:"titleGenerated"`
	Options        store.ModelOptions `json:"options"`
}

// FromThread maps a stored thread to its wire form. Participants and messages
// are attached by the caller when the response should embed them.
func FromThread(t *store.Thread) ThreadEntry {
	return ThreadEntry{
		ID:         t.ID,
		Title:      t.Title,
		Type:       string(t.Type),
		IsUnread:   t.IsUnread,
		IsReadOnly: t.IsReadOnly,
		Timestamp:  t.Timestamp,
		CreatedAt:  t.CreatedAt,
		Extra: &ThreadExtra{
			ModelID:        t.Extra.ModelID,
			PromptType:     string(t.Extra.PromptType),
			ModelType:      string(t.Extra.ModelType),
			TitleGenerated: t.Extra.TitleGenerated,
			Options:        t.Extra.Options,
		},
	}
}
