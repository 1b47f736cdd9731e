package monitor

import (
	"context"
	"testing"

	"github.com/orbit-social/backend/internal/presence"
	"github.com/orbit-social/backend/internal/presence/presencetest"
)

type fakeClients struct{ total, anon int }

func (f fakeClients) ClientCount() int    { return f.total }
func (f fakeClients) AnonymousCount() int { return f.anon }

func TestSnapshotCountsPresence(t *testing.T) {
	reg := presence.NewRegistry()
	obs := presence.NewObserverIndex()
	c1 := presencetest.NewConn()
	reg.Register("u1", c1)
	reg.Register("u2", presencetest.NewConn())
	obs.AddObserver("u2", "u1", c1)

	s := NewCollector(reg, obs, fakeClients{total: 3, anon: 1}).Snapshot(context.Background())

	if s.OnlineUsers != 2 {
		t.Errorf("OnlineUsers = %d, want 2", s.OnlineUsers)
	}
	if s.ObservedOwners != 1 || s.ObserverEntries != 1 {
		t.Errorf("observers = %d/%d, want 1/1", s.ObservedOwners, s.ObserverEntries)
	}
	if s.WSClients != 3 || s.AnonymousClients != 1 {
		t.Errorf("clients = %d/%d, want 3/1", s.WSClients, s.AnonymousClients)
	}
	if s.Goroutines <= 0 {
		t.Error("goroutine count should be positive")
	}
}

func TestSnapshotWithoutClients(t *testing.T) {
	s := NewCollector(presence.NewRegistry(), presence.NewObserverIndex(), nil).Snapshot(context.Background())
	if s.WSClients != 0 || s.OnlineUsers != 0 {
		t.Errorf("unexpected counts: %+v", s)
	}
}
