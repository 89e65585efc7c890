package http

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/avoronin/threadcast-server/internal/core"
)

const wsWriteTimeout = 10 * time.Second

// WSHandler upgrades HTTP connections and registers them as push transports.
// The push channel is one-way; inbound frames are drained and ignored so the
// keepalive machinery keeps working.
type WSHandler struct {
	registry *core.Registry
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(registry *core.Registry, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{registry: registry, log: logger}
}

// Handle is the gin handler for GET /ws. The client identifies itself with the
// X-User-ID header, or the userID query parameter for clients that cannot set
// headers on the upgrade request.
func (h *WSHandler) Handle(c *gin.Context) {
	r := c.Request

	conn, err := websocket.Accept(c.Writer, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = r.URL.Query().Get("userID")
	}
	if userID == "" {
		h.log.Warn().Err(core.ErrIdentification).Msg("ws connection refused")
		_ = conn.Close(websocket.StatusPolicyViolation, "missing user identity")
		return
	}

	t := newWSTransport(conn)
	if err := h.registry.Register(userID, t); err != nil {
		h.log.Warn().Err(err).Msg("ws registration refused")
		_ = t.Close("registration refused")
		return
	}
	// Release, not Unregister: if this connection was replaced, its teardown
	// must not evict the replacement.
	defer h.registry.Release(userID, t)
	defer t.Close("connection closed")

	// Drain inbound frames until the peer goes away.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				h.log.Debug().Str("user_id", userID).Msg("ws connection closed")
			} else {
				h.log.Debug().Err(err).Str("user_id", userID).Msg("ws read ended")
			}
			return
		}
	}
}

// wsTransport adapts a websocket connection to core.Transport. A mutex
// serializes writers because completion and title sessions push concurrently.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Send(ctx context.Context, payload []byte) error {
	if t.closed.Load() {
		return errors.New("transport closed")
	}

	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.Write(ctx, websocket.MessageText, payload)
}

func (t *wsTransport) Open() bool { return !t.closed.Load() }

func (t *wsTransport) Close(reason string) error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.conn.Close(websocket.StatusNormalClosure, reason)
}
