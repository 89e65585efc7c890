package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/avoronin/threadcast-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id             TEXT PRIMARY KEY,
	username       TEXT NOT NULL,
	full_name      TEXT NOT NULL DEFAULT '',
	img_url        TEXT NOT NULL DEFAULT '',
	is_self        BOOLEAN NOT NULL DEFAULT 0,
	cannot_message BOOLEAN NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS threads (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL DEFAULT '',
	type            TEXT NOT NULL DEFAULT 'single',
	is_unread       BOOLEAN NOT NULL DEFAULT 0,
	is_read_only    BOOLEAN NOT NULL DEFAULT 0,
	timestamp       DATETIME NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	model_id        TEXT NOT NULL DEFAULT '',
	prompt_type     TEXT NOT NULL DEFAULT 'default',
	model_type      TEXT NOT NULL DEFAULT 'chat',
	title_generated BOOLEAN NOT NULL DEFAULT 0,
	options         TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	thread_id    TEXT NOT NULL REFERENCES threads(id),
	sender_id    TEXT NOT NULL,
	text         TEXT NOT NULL DEFAULT '',
	timestamp    DATETIME NOT NULL,
	seen         BOOLEAN NOT NULL DEFAULT 0,
	is_sender    BOOLEAN NOT NULL DEFAULT 0,
	is_delivered BOOLEAN NOT NULL DEFAULT 0,
	is_errored   BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, timestamp);

CREATE TABLE IF NOT EXISTS participants (
	thread_id TEXT NOT NULL REFERENCES threads(id),
	user_id   TEXT NOT NULL REFERENCES users(id),
	PRIMARY KEY (thread_id, user_id)
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and ensures the schema exists.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser persists a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *store.User) error {
	query := `
		INSERT INTO users (id, username, full_name, img_url, is_self, cannot_message)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Username, user.FullName, user.ImgURL, user.IsSelf, user.CannotMessage)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, username, full_name, img_url, is_self, cannot_message, created_at
		FROM users
		WHERE id = ?
	`
	u := &store.User{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Username, &u.FullName, &u.ImgURL, &u.IsSelf, &u.CannotMessage, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

// ListUsers lists all known users.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*store.User, error) {
	query := `
		SELECT id, username, full_name, img_url, is_self, cannot_message, created_at
		FROM users
		ORDER BY username
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

// SearchUsers searches for users by username or full name.
func (s *SQLiteStore) SearchUsers(ctx context.Context, queryText string) ([]*store.User, error) {
	query := `
		SELECT id, username, full_name, img_url, is_self, cannot_message, created_at
		FROM users
		WHERE username LIKE ? OR full_name LIKE ?
		ORDER BY username
	`
	pattern := "%" + queryText + "%"
	rows, err := s.db.QueryContext(ctx, query, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

func scanUsers(rows *sql.Rows) ([]*store.User, error) {
	users := []*store.User{}
	for rows.Next() {
		u := &store.User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.FullName, &u.ImgURL, &u.IsSelf, &u.CannotMessage, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ==== ThreadStore implementation ====

// CreateThread persists a new thread, including its extra configuration.
func (s *SQLiteStore) CreateThread(ctx context.Context, thread *store.Thread) error {
	opts, err := json.Marshal(thread.Extra.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}

	query := `
		INSERT INTO threads (id, title, type, is_unread, is_read_only, timestamp,
			model_id, prompt_type, model_type, title_generated, options)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		thread.ID, thread.Title, string(thread.Type), thread.IsUnread, thread.IsReadOnly,
		thread.Timestamp, thread.Extra.ModelID, string(thread.Extra.PromptType),
		string(thread.Extra.ModelType), thread.Extra.TitleGenerated, string(opts))
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

// GetThread retrieves a thread (with extra configuration) by ID.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*store.Thread, error) {
	query := `
		SELECT id, title, type, is_unread, is_read_only, timestamp, created_at,
			model_id, prompt_type, model_type, title_generated, options
		FROM threads
		WHERE id = ?
	`
	t, err := scanThread(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return t, err
}

// ListThreads lists all threads, most recently active first.
func (s *SQLiteStore) ListThreads(ctx context.Context) ([]*store.Thread, error) {
	query := `
		SELECT id, title, type, is_unread, is_read_only, timestamp, created_at,
			model_id, prompt_type, model_type, title_generated, options
		FROM threads
		ORDER BY timestamp DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select threads: %w", err)
	}
	defer rows.Close()

	threads := []*store.Thread{}
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*store.Thread, error) {
	t := &store.Thread{}
	var threadType, promptType, modelType, opts string
	err := row.Scan(&t.ID, &t.Title, &threadType, &t.IsUnread, &t.IsReadOnly,
		&t.Timestamp, &t.CreatedAt, &t.Extra.ModelID, &promptType, &modelType,
		&t.Extra.TitleGenerated, &opts)
	if err != nil {
		return nil, err
	}
	t.Type = store.ThreadType(threadType)
	t.Extra.PromptType = store.PromptType(promptType)
	t.Extra.ModelType = store.ModelType(modelType)
	if err := json.Unmarshal([]byte(opts), &t.Extra.Options); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	return t, nil
}

// AddParticipant adds a user to a thread.
func (s *SQLiteStore) AddParticipant(ctx context.Context, threadID, userID string) error {
	query := `
		INSERT OR IGNORE INTO participants (thread_id, user_id)
		VALUES (?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, threadID, userID); err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// ListParticipants lists the users participating in a thread.
func (s *SQLiteStore) ListParticipants(ctx context.Context, threadID string) ([]*store.User, error) {
	query := `
		SELECT u.id, u.username, u.full_name, u.img_url, u.is_self, u.cannot_message, u.created_at
		FROM users u
		JOIN participants p ON p.user_id = u.id
		WHERE p.thread_id = ?
		ORDER BY u.username
	`
	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

// SetThreadTitle assigns the generated title and flips the latch. The guard
// on title_generated makes the false to true transition happen at most once
// even when two title sessions race; the loser observes zero affected rows.
func (s *SQLiteStore) SetThreadTitle(ctx context.Context, threadID, title string) (bool, error) {
	query := `
		UPDATE threads
		SET title = ?, title_generated = 1, timestamp = ?
		WHERE id = ? AND title_generated = 0
	`
	result, err := s.db.ExecContext(ctx, query, title, time.Now().UTC(), threadID)
	if err != nil {
		return false, fmt.Errorf("update thread title: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// ==== MessageStore implementation ====

// InsertMessage persists a message.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *store.Message) error {
	query := `
		INSERT INTO messages (id, thread_id, sender_id, text, timestamp, seen, is_sender, is_delivered, is_errored)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ThreadID, msg.SenderID, msg.Text, msg.Timestamp,
		msg.Seen, msg.IsSender, msg.IsDelivered, msg.IsErrored)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages retrieves all messages of a thread in timestamp order.
func (s *SQLiteStore) ListMessages(ctx context.Context, threadID string) ([]*store.Message, error) {
	query := `
		SELECT id, thread_id, sender_id, text, timestamp, seen, is_sender, is_delivered, is_errored
		FROM messages
		WHERE thread_id = ?
		ORDER BY timestamp, id
	`
	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	messages := []*store.Message{}
	for rows.Next() {
		m := &store.Message{}
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.Text, &m.Timestamp,
			&m.Seen, &m.IsSender, &m.IsDelivered, &m.IsErrored); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
