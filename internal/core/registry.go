// Package core owns the live-connection registry and the event dispatch path.
package core

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrIdentification is returned when a connection cannot present a user
// identity at handshake time. Such connections are refused, not retried.
var ErrIdentification = errors.New("connection missing user identity")

// Transport is the write side of a live client connection. Implementations
// must preserve send order and tolerate Send/Close from multiple goroutines.
type Transport interface {
	// Send writes one event frame. Returns an error when the transport is
	// closed or the write fails; callers treat that as a delivery miss.
	Send(ctx context.Context, payload []byte) error

	// Open reports whether the transport is still writable.
	Open() bool

	// Close tears the connection down with the given reason.
	Close(reason string) error
}

// Registry maps a user identity to its single live transport. It is the only
// shared mutable structure in the push path; register/unregister are the
// writers, the dispatcher's lookup is the reader.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Transport
	log   *zerolog.Logger
}

// NewRegistry builds an empty connection registry.
func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{
		conns: make(map[string]Transport),
		log:   logger,
	}
}

// Register binds a transport to a user. A connection without an identity is
// rejected with ErrIdentification. A prior connection for the same user is
// replaced and closed: last connection wins.
func (r *Registry) Register(userID string, t Transport) error {
	if userID == "" {
		return ErrIdentification
	}

	r.mu.Lock()
	prev := r.conns[userID]
	r.conns[userID] = t
	size := len(r.conns)
	r.mu.Unlock()

	if prev != nil && prev != t {
		_ = prev.Close("replaced by newer connection")
	}

	r.log.Info().Str("user_id", userID).Int("connections", size).Msg("connection registered")
	return nil
}

// Unregister removes the user's connection. Unregistering an absent user is
// a no-op, not an error.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	_, present := r.conns[userID]
	delete(r.conns, userID)
	size := len(r.conns)
	r.mu.Unlock()

	if present {
		r.log.Info().Str("user_id", userID).Int("connections", size).Msg("connection unregistered")
	}
}

// Release removes the user's entry only if it still points at t. The close
// path of a replaced connection uses this so it cannot evict its replacement.
func (r *Registry) Release(userID string, t Transport) {
	r.mu.Lock()
	if r.conns[userID] == t {
		delete(r.conns, userID)
	}
	size := len(r.conns)
	r.mu.Unlock()

	r.log.Debug().Str("user_id", userID).Int("connections", size).Msg("connection released")
}

// Lookup returns the user's live transport. Absence is a normal outcome: the
// user may simply be offline.
func (r *Registry) Lookup(userID string) (Transport, bool) {
	r.mu.RLock()
	t, ok := r.conns[userID]
	r.mu.RUnlock()
	return t, ok
}

// Size reports the number of live connections, for diagnostics only.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
