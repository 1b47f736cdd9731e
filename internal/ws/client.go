package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/orbit-social/backend/internal/events"
)

const writeWait = 10 * time.Second

// client is one socket. The write pump is the only goroutine writing data
// frames; the read loop in Server is the only one reading.
type client struct {
	id           string
	conn         *websocket.Conn
	hub          *Hub
	pingInterval time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
	user   string
}

func newClient(conn *websocket.Conn, hub *Hub, buffer int, pingInterval time.Duration, logger *slog.Logger) *client {
	if buffer <= 0 {
		buffer = 64
	}
	return &client{
		id:           uuid.NewString(),
		conn:         conn,
		hub:          hub,
		pingInterval: pingInterval,
		logger:       logger,
		send:         make(chan []byte, buffer),
	}
}

func (c *client) ID() string { return c.id }

// Send queues env without blocking. A client whose buffer is full is too
// slow to keep up: the frame is dropped and the client closed.
func (c *client) Send(env events.Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("marshal frame", "event", env.Type, "error", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("ws client too slow, disconnecting", "conn_id", c.id, "user_id", c.user)
		c.closeLocked()
		return false
	}
}

// close stops the write pump, which then closes the socket.
func (c *client) close() {
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
}

func (c *client) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) userID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *client) setUser(user string) {
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
}

func (c *client) writePump() {
	var tick <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.Remove(c)
				return
			}
		case <-tick:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.Remove(c)
				return
			}
		}
	}
}
