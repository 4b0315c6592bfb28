package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/beacon/pkg/auth"
	"github.com/cuemby/beacon/pkg/queue"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Connection is one client session. It moves Connecting -> Open -> Closing
// -> Closed and never goes back.
type Connection struct {
	id       string
	ip       string
	identity auth.Identity
	openedAt time.Time

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	queue  *queue.Queue
	// frames written by the read pump (acks, errors, pongs) go through
	// the write pump, the socket's only writer
	control chan types.ServerFrame

	manager *Manager
	logger  zerolog.Logger

	mu          sync.Mutex
	ws          *websocket.Conn
	closeOnce   sync.Once
	closeReason string
}

// ID returns the connection id
func (c *Connection) ID() string { return c.id }

// IP returns the source IP
func (c *Connection) IP() string { return c.ip }

// Identity returns the authenticated principal
func (c *Connection) Identity() auth.Identity { return c.identity }

// OpenedAt returns when the connection was accepted
func (c *Connection) OpenedAt() time.Time { return c.openedAt }

// State returns the current lifecycle state
func (c *Connection) State() types.ConnectionState {
	return types.ConnectionState(c.state.Load())
}

// Context is cancelled when the connection starts closing
func (c *Connection) Context() context.Context { return c.ctx }

// Done is closed when the connection starts closing
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// Queue returns the connection's delivery queue
func (c *Connection) Queue() *queue.Queue { return c.queue }

// CloseReason returns why the connection was closed
func (c *Connection) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

func (c *Connection) transition(from, to types.ConnectionState) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

func (c *Connection) attach(ws *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws = ws
}

// send hands a frame to the write pump. It fails once the connection is
// closing.
func (c *Connection) send(frame types.ServerFrame) error {
	select {
	case c.control <- frame:
		return nil
	case <-c.ctx.Done():
		return types.ErrConnectionClosed
	}
}

// Close tears the connection down: its subscriptions and queue are removed,
// the delivery context is cancelled and the IP slot is released before
// Close returns. Later calls are no-ops.
func (c *Connection) Close(reason string) {
	c.closeOnce.Do(func() {
		if !c.transition(types.StateOpen, types.StateClosing) {
			c.transition(types.StateConnecting, types.StateClosing)
		}

		c.mu.Lock()
		c.closeReason = reason
		ws := c.ws
		c.mu.Unlock()

		topics := c.manager.hub.Registry().RemoveConnection(c.id)
		dropped := c.manager.hub.Queues().Discard(c.id)
		c.cancel()
		c.manager.release(c)

		if ws != nil {
			// WriteControl and Close may run concurrently with the pumps
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
				time.Now().Add(writeWait))
			_ = ws.Close()
		}

		c.state.Store(int32(types.StateClosed))

		c.logger.Info().
			Str("reason", reason).
			Int("topics", len(topics)).
			Int("undelivered", dropped).
			Dur("duration", time.Since(c.openedAt)).
			Msg("Connection closed")
	})
}
