package core

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/avoronin/threadcast-server/internal/proto"
)

// Dispatcher serializes server events and delivers them to the connection
// owned by a target user. Delivery is best effort: events for absent or
// closed connections are dropped, never queued or retried, and a slow client
// never throttles the producer.
type Dispatcher struct {
	registry *Registry
	log      *zerolog.Logger
}

// NewDispatcher builds a dispatcher over the given registry.
func NewDispatcher(registry *Registry, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, log: logger}
}

// Dispatch delivers one event to the target user. It never surfaces delivery
// errors to the caller; a missing or unwritable connection is a normal no-op.
// Any access-control decision belongs to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, event proto.ServerEvent) {
	t, ok := d.registry.Lookup(userID)
	if !ok {
		d.log.Debug().Str("user_id", userID).Str("event", string(event.Type)).Msg("no connection, event dropped")
		return
	}
	if !t.Open() {
		d.log.Debug().Str("user_id", userID).Str("event", string(event.Type)).Msg("transport closed, event dropped")
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		// Every ServerEvent variant must serialize; reaching this is a bug.
		d.log.Error().Err(err).Str("event", string(event.Type)).Msg("event serialization failed")
		return
	}

	if err := t.Send(ctx, payload); err != nil {
		d.log.Debug().Err(err).Str("user_id", userID).Str("event", string(event.Type)).Msg("event delivery failed")
	}
}
