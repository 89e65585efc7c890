package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/avoronin/threadcast-server/internal/auth"
	"github.com/avoronin/threadcast-server/internal/core"
	"github.com/avoronin/threadcast-server/internal/ids"
	"github.com/avoronin/threadcast-server/internal/proto"
	"github.com/avoronin/threadcast-server/internal/provider"
	"github.com/avoronin/threadcast-server/internal/store"
	"github.com/avoronin/threadcast-server/internal/stream"
)

// APIHandlers provides HTTP handlers for the REST API endpoints.
type APIHandlers struct {
	store       store.Store
	accounts    *provider.Accounts
	dispatch    *core.Dispatcher
	streams     *stream.Controller
	sessions    *auth.SessionConfig
	newProvider provider.Factory
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(
	st store.Store,
	accounts *provider.Accounts,
	dispatch *core.Dispatcher,
	streams *stream.Controller,
	sessions *auth.SessionConfig,
	newProvider provider.Factory,
	logger *zerolog.Logger,
) *APIHandlers {
	return &APIHandlers{
		store:       st,
		accounts:    accounts,
		dispatch:    dispatch,
		streams:     streams,
		sessions:    sessions,
		newProvider: newProvider,
		log:         logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// DataResponse wraps a successful payload.
type DataResponse struct {
	Data any `json:"data"`
}

// ModelEntry is the wire form of one catalog model.
type ModelEntry struct {
	ID         string `json:"id"`
	FullName   string `json:"fullName"`
	PromptType string `json:"promptType"`
	ModelType  string `json:"modelType"`
}

func modelsForProvider(pid provider.ID) []ModelEntry {
	models := provider.Models[pid]
	entries := make([]ModelEntry, 0, len(models))
	for _, m := range models {
		entries = append(entries, ModelEntry{
			ID:         m.ID,
			FullName:   m.FullName,
			PromptType: string(m.PromptType),
			ModelType:  string(m.ModelType),
		})
	}
	return entries
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	FullName string `json:"fullName"`
	Provider string `json:"provider" binding:"required"`
	APIKey   string `json:"apiKey" binding:"required"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token    string          `json:"token"`
	User     proto.UserEntry `json:"user"`
	Provider string          `json:"provider"`
	Models   []ModelEntry    `json:"models"`
}

// Login creates an account bound to a provider API key and returns a session
// token. The key itself never appears in the response; it travels only inside
// the sealed token claim.
// POST /api/login
func (h *APIHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	pid, err := provider.ParseID(req.Provider)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	p, err := h.newProvider(pid, req.APIKey)
	if err != nil {
		h.log.Error().Err(err).Str("provider", req.Provider).Msg("build provider")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	fullName := req.FullName
	if fullName == "" {
		fullName = "You"
	}
	user := &store.User{
		ID:        ids.NewUser(),
		Username:  fullName,
		FullName:  fullName,
		IsSelf:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateUser(c.Request.Context(), user); err != nil {
		h.log.Error().Err(err).Msg("create user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.accounts.Bind(user.ID, p)

	token, err := auth.IssueSession(h.sessions, user.ID, string(pid), req.APIKey)
	if err != nil {
		h.log.Error().Err(err).Msg("issue session token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("user_id", user.ID).Str("provider", string(pid)).Msg("user logged in")
	c.JSON(http.StatusOK, AuthResponse{
		Token:    token,
		User:     proto.FromUser(user),
		Provider: string(pid),
		Models:   modelsForProvider(pid),
	})
}

// InitRequest represents the session restore request body.
type InitRequest struct {
	Token string `json:"token" binding:"required"`
}

// Init restores a previously issued session: validates the token, rebinds the
// provider account, and returns the current user with the model catalog.
// POST /api/init
func (h *APIHandlers) Init(c *gin.Context) {
	var req InitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid init request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	session, err := auth.ParseSession(h.sessions, req.Token)
	if err != nil {
		h.log.Debug().Err(err).Msg("invalid session token")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid session token"})
		return
	}

	user, err := h.store.GetUser(c.Request.Context(), session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unknown user"})
			return
		}
		h.log.Error().Err(err).Msg("load user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	pid, err := provider.ParseID(session.ProviderID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid session token"})
		return
	}
	p, err := h.newProvider(pid, session.APIKey)
	if err != nil {
		h.log.Error().Err(err).Str("provider", session.ProviderID).Msg("build provider")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	h.accounts.Bind(user.ID, p)

	c.JSON(http.StatusOK, AuthResponse{
		Token:    req.Token,
		User:     proto.FromUser(user),
		Provider: string(pid),
		Models:   modelsForProvider(pid),
	})
}

// CreateThreadRequest represents the thread creation request body.
type CreateThreadRequest struct {
	ModelID string `json:"modelID"`
}

// CreateThread creates a thread bound to a catalog model. Without an explicit
// model the provider's default is used.
// POST /api/createThread
func (h *APIHandlers) CreateThread(c *gin.Context) {
	var req CreateThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid createThread request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	userID := c.GetString(ContextKeyUserID)
	acct, ok := h.accounts.Lookup(userID)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "no provider account"})
		return
	}
	pid := acct.Provider.ID()

	var (
		m     provider.Model
		found bool
	)
	if req.ModelID != "" {
		m, found = provider.LookupModel(pid, req.ModelID)
		if !found {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown model for provider"})
			return
		}
	} else {
		m, found = provider.DefaultModel(pid)
		if !found {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "provider has no models"})
			return
		}
	}

	now := time.Now().UTC()
	thread := &store.Thread{
		ID:        ids.NewThread(),
		Type:      store.ThreadTypeSingle,
		Timestamp: now,
		CreatedAt: now,
		Extra: store.ThreadExtra{
			ModelID:    m.ID,
			PromptType: m.PromptType,
			ModelType:  m.ModelType,
			Options:    m.Options,
		},
	}
	if err := h.store.CreateThread(c.Request.Context(), thread); err != nil {
		h.log.Error().Err(err).Msg("create thread")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if err := h.store.AddParticipant(c.Request.Context(), thread.ID, userID); err != nil {
		h.log.Error().Err(err).Msg("add participant")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("thread_id", thread.ID).Str("model_id", m.ID).Msg("thread created")
	c.JSON(http.StatusOK, DataResponse{Data: proto.FromThread(thread)})
}

// GetThreads lists all threads, most recently active first.
// POST /api/getThreads
func (h *APIHandlers) GetThreads(c *gin.Context) {
	threads, err := h.store.ListThreads(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list threads")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	entries := make([]proto.ThreadEntry, 0, len(threads))
	for _, t := range threads {
		entries = append(entries, proto.FromThread(t))
	}
	c.JSON(http.StatusOK, DataResponse{Data: entries})
}

// ThreadRequest addresses a single thread.
type ThreadRequest struct {
	ThreadID string `json:"threadID" binding:"required"`
}

// GetThread returns one thread with its participants and messages embedded.
// POST /api/getThread
func (h *APIHandlers) GetThread(c *gin.Context) {
	var req ThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	thread, err := h.store.GetThread(c.Request.Context(), req.ThreadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "thread not found"})
			return
		}
		h.log.Error().Err(err).Msg("load thread")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	entry := proto.FromThread(thread)

	participants, err := h.store.ListParticipants(c.Request.Context(), thread.ID)
	if err != nil {
		h.log.Error().Err(err).Msg("list participants")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	plist := &proto.ParticipantList{Items: make([]proto.UserEntry, 0, len(participants))}
	for _, u := range participants {
		plist.Items = append(plist.Items, proto.FromUser(u))
	}
	entry.Participants = plist

	msgs, err := h.store.ListMessages(c.Request.Context(), thread.ID)
	if err != nil {
		h.log.Error().Err(err).Msg("list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	mlist := &proto.MessageList{Items: make([]proto.MessageEntry, 0, len(msgs))}
	for _, m := range msgs {
		mlist.Items = append(mlist.Items, proto.FromMessage(m))
	}
	entry.Messages = mlist

	c.JSON(http.StatusOK, DataResponse{Data: entry})
}

// GetMessages returns a thread's messages in timestamp order.
// POST /api/getMessages
func (h *APIHandlers) GetMessages(c *gin.Context) {
	var req ThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msgs, err := h.store.ListMessages(c.Request.Context(), req.ThreadID)
	if err != nil {
		h.log.Error().Err(err).Msg("list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	list := proto.MessageList{Items: make([]proto.MessageEntry, 0, len(msgs))}
	for _, m := range msgs {
		list.Items = append(list.Items, proto.FromMessage(m))
	}
	c.JSON(http.StatusOK, DataResponse{Data: list})
}

// SearchUsersRequest represents a user search request body.
type SearchUsersRequest struct {
	Query string `json:"query"`
}

// SearchUsers finds users by username or full name.
// POST /api/searchUsers
func (h *APIHandlers) SearchUsers(c *gin.Context) {
	var req SearchUsersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	users, err := h.store.SearchUsers(c.Request.Context(), req.Query)
	if err != nil {
		h.log.Error().Err(err).Msg("search users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	entries := make([]proto.UserEntry, 0, len(users))
	for _, u := range users {
		entries = append(entries, proto.FromUser(u))
	}
	c.JSON(http.StatusOK, DataResponse{Data: entries})
}

// SendMessageRequest represents the message send request body.
type SendMessageRequest struct {
	ThreadID string `json:"threadID" binding:"required"`
	Text     string `json:"text" binding:"required"`
}

// SendMessage persists a user message, then starts the completion session and
// the title session as detached tasks. Configuration problems fail here
// synchronously; generation failures later only surface over the push channel
// and the logs.
// POST /api/sendMessage
func (h *APIHandlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid sendMessage request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	userID := c.GetString(ContextKeyUserID)
	ctx := c.Request.Context()

	thread, err := h.store.GetThread(ctx, req.ThreadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "thread not found"})
			return
		}
		h.log.Error().Err(err).Msg("load thread")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if _, err := h.streams.ValidateSession(thread, userID); err != nil {
		h.log.Debug().Err(err).Str("thread_id", thread.ID).Msg("session not startable")
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
		return
	}

	msg := &store.Message{
		ID:          ids.NewMessage(),
		ThreadID:    thread.ID,
		SenderID:    userID,
		Text:        req.Text,
		Timestamp:   time.Now().UTC(),
		Seen:        true,
		IsSender:    true,
		IsDelivered: true,
	}
	if err := h.store.InsertMessage(ctx, msg); err != nil {
		h.log.Error().Err(err).Msg("persist message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	h.dispatch.Dispatch(ctx, userID, proto.MessageUpsert(thread.ID, proto.FromMessage(msg)))

	h.streams.LaunchCompletion(ctx, thread, userID)
	if !thread.Extra.TitleGenerated {
		h.streams.LaunchTitle(ctx, thread, req.Text, userID)
	}

	c.JSON(http.StatusOK, DataResponse{Data: "success"})
}
