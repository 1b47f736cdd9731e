package ws

import (
	"errors"
	"log/slog"
	"sync"
)

var ErrTooManyConnections = errors.New("too many websocket connections")

// Hub is the set of open sockets, logged in or not. It enforces the
// connection limit and closes everything on shutdown. Fan-out goes through
// the presence registry, not the hub.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int
	logger   *slog.Logger
}

// NewHub creates a hub. maxConns <= 0 means unlimited.
func NewHub(maxConns int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:  make(map[*client]bool),
		maxConns: maxConns,
		logger:   logger,
	}
}

func (h *Hub) Add(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.maxConns > 0 && len(h.clients) >= h.maxConns {
		return ErrTooManyConnections
	}
	h.clients[c] = true
	return nil
}

// Remove drops c and closes it. Removing an unknown client is a no-op.
func (h *Hub) Remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

// Full reports whether a new client would be rejected.
func (h *Hub) Full() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.maxConns > 0 && len(h.clients) >= h.maxConns
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// AnonymousCount is the number of open sockets not bound to a user.
func (h *Hub) AnonymousCount() int {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range clients {
		if c.userID() == "" {
			n++
		}
	}
	return n
}

// CloseAll closes every socket and empties the hub.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]bool)
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
	if len(clients) > 0 {
		h.logger.Info("closed websocket clients", "count", len(clients))
	}
}
