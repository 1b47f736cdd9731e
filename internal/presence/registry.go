// Package presence tracks who is connected and who is watching whom.
//
// Registry maps a user to the single live connection representing that
// user's session. ObserverIndex maps a profile owner to the users currently
// viewing that profile. Both are process-local, guarded by one lock each, and
// never expose their maps: callers get copies.
package presence

import (
	"sort"
	"sync"

	"github.com/orbit-social/backend/internal/events"
)

// Conn is a live transport connection. ID is unique for the lifetime of the
// process and never reused across reconnects. Send must not block; it
// reports false when the frame was dropped.
type Conn interface {
	ID() string
	Send(env events.Envelope) bool
}

// SameConn compares connections by handle.
func SameConn(a, b Conn) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID() == b.ID()
}

type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]Conn),
	}
}

// Register maps user to c, replacing any previous mapping.
func (r *Registry) Register(user string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[user] = c
}

func (r *Registry) Lookup(user string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[user]
	return c, ok
}

// Unregister removes the mapping for user only while it still points at c.
// A disconnect from a superseded connection therefore leaves the newer
// session in place. It reports whether an entry was removed.
func (r *Registry) Unregister(user string, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.conns[user]
	if !ok || !SameConn(current, c) {
		return false
	}
	delete(r.conns, user)
	return true
}

// Conns returns a snapshot of every registered connection.
func (r *Registry) Conns() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		result = append(result, c)
	}
	return result
}

// Users returns the registered user ids, sorted.
func (r *Registry) Users() []string {
	r.mu.RLock()
	result := make([]string, 0, len(r.conns))
	for user := range r.conns {
		result = append(result, user)
	}
	r.mu.RUnlock()
	sort.Strings(result)
	return result
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// BroadcastAll pushes env to every registered connection and returns how
// many accepted it. The lock is released before sending.
func (r *Registry) BroadcastAll(env events.Envelope) int {
	delivered := 0
	for _, c := range r.Conns() {
		if c.Send(env) {
			delivered++
		}
	}
	return delivered
}
