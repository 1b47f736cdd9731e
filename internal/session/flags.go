package session

import (
	"context"
	"sync"
)

// maxReconcileWrites bounds how many corrective writes one reconcile call
// issues while the registry keeps changing underneath it.
const maxReconcileWrites = 3

// onlineFlags tracks, per user, the persisted online flag as last written by
// this process and how many writes are still in flight. Storage calls happen
// outside mu.
type onlineFlags struct {
	mu    sync.Mutex
	users map[string]*flagState
}

type flagState struct {
	inflight int
	stored   bool
	known    bool
}

func newOnlineFlags() *onlineFlags {
	return &onlineFlags{users: make(map[string]*flagState)}
}

func (f *onlineFlags) begin(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.users[userID]
	if !ok {
		st = &flagState{}
		f.users[userID] = st
	}
	st.inflight++
}

func (f *onlineFlags) end(userID string, online bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.users[userID]
	st.inflight--
	st.stored, st.known = online, err == nil
}

// persistOnline writes the flag and records the outcome.
func (c *Controller) persistOnline(ctx context.Context, userID string, online bool) error {
	c.flags.begin(userID)
	err := c.users.SetOnline(ctx, userID, online)
	c.flags.end(userID, online, err)
	return err
}

// reconcile makes the persisted flag agree with the registry once no other
// write for the user is in flight. Every path that writes the flag calls it
// after its registry change, so the last writer to finish sees the final
// registry state.
func (c *Controller) reconcile(ctx context.Context, userID string) {
	for i := 0; i < maxReconcileWrites; i++ {
		want, ok := c.nextCorrection(userID)
		if !ok {
			return
		}
		err := c.users.SetOnline(ctx, userID, want)
		c.flags.end(userID, want, err)
		if err != nil {
			c.logger.Error("reconcile online flag failed", "user_id", userID, "online", want, "error", err)
			return
		}
		c.logger.Warn("online flag corrected", "user_id", userID, "online", want)
	}
}

// nextCorrection reports the value to write, if any, and claims the write.
func (c *Controller) nextCorrection(userID string) (bool, bool) {
	f := c.flags
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.users[userID]
	if !ok || st.inflight > 0 {
		return false, false
	}
	_, want := c.registry.Lookup(userID)
	if !st.known || st.stored == want {
		if !want {
			delete(f.users, userID)
		}
		return false, false
	}
	st.inflight++
	return want, true
}
