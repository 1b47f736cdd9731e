// Package presencetest provides an in-memory presence.Conn for tests.
package presencetest

import (
	"sync"

	"github.com/google/uuid"
	"github.com/orbit-social/backend/internal/events"
)

// Conn records every envelope it is sent. A closed Conn drops frames.
type Conn struct {
	id string

	mu     sync.Mutex
	frames []events.Envelope
	closed bool
}

func NewConn() *Conn {
	return &Conn{id: uuid.NewString()}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(env events.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames = append(c.frames, env)
	return true
}

// Close makes every later Send fail, like a silently dropped socket.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) Frames() []events.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Envelope, len(c.frames))
	copy(out, c.frames)
	return out
}

// Count returns how many frames of type t were received.
func (c *Conn) Count(t events.Type) int {
	n := 0
	for _, f := range c.Frames() {
		if f.Type == t {
			n++
		}
	}
	return n
}

// Last returns the most recent frame of type t.
func (c *Conn) Last(t events.Type) (events.Envelope, bool) {
	frames := c.Frames()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Type == t {
			return frames[i], true
		}
	}
	return events.Envelope{}, false
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}
