package presence_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/orbit-social/backend/internal/events"
	"github.com/orbit-social/backend/internal/presence"
	"github.com/orbit-social/backend/internal/presence/presencetest"
)

func TestRegistryLookupMissing(t *testing.T) {
	r := presence.NewRegistry()
	c, ok := r.Lookup("nobody")
	if ok {
		t.Error("Lookup for missing user returned ok=true")
	}
	if c != nil {
		t.Error("Lookup for missing user returned non-nil conn")
	}
}

func TestRegistryLastWriterWins(t *testing.T) {
	r := presence.NewRegistry()
	c1 := presencetest.NewConn()
	c2 := presencetest.NewConn()

	r.Register("u", c1)
	r.Register("u", c2)

	got, ok := r.Lookup("u")
	if !ok || got.ID() != c2.ID() {
		t.Fatalf("Lookup(u) = %v, want c2", got)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryStaleUnregisterIsNoop(t *testing.T) {
	r := presence.NewRegistry()
	c1 := presencetest.NewConn()
	c2 := presencetest.NewConn()

	r.Register("u", c1)
	r.Register("u", c2)

	if r.Unregister("u", c1) {
		t.Error("Unregister with superseded conn reported removal")
	}
	got, ok := r.Lookup("u")
	if !ok || got.ID() != c2.ID() {
		t.Fatal("stale Unregister removed the newer mapping")
	}

	if !r.Unregister("u", c2) {
		t.Error("Unregister with current conn reported no removal")
	}
	if _, ok := r.Lookup("u"); ok {
		t.Error("user still registered after Unregister with current conn")
	}
}

func TestRegistryUnregisterAbsent(t *testing.T) {
	r := presence.NewRegistry()
	if r.Unregister("ghost", presencetest.NewConn()) {
		t.Error("Unregister of absent user reported removal")
	}
}

func TestRegistryBroadcastAll(t *testing.T) {
	r := presence.NewRegistry()
	a := presencetest.NewConn()
	b := presencetest.NewConn()
	dead := presencetest.NewConn()
	dead.Close()

	r.Register("a", a)
	r.Register("b", b)
	r.Register("dead", dead)

	env := events.Envelope{Type: events.MsgStatusChanged, Payload: events.StatusPayload{UserID: "a", Online: true}}
	if got := r.BroadcastAll(env); got != 2 {
		t.Errorf("BroadcastAll delivered to %d, want 2", got)
	}
	if a.Count(events.MsgStatusChanged) != 1 || b.Count(events.MsgStatusChanged) != 1 {
		t.Error("every live registered conn should receive exactly one frame")
	}
}

func TestRegistryUsersSorted(t *testing.T) {
	r := presence.NewRegistry()
	for _, u := range []string{"c", "a", "b"} {
		r.Register(u, presencetest.NewConn())
	}
	got := r.Users()
	want := []string{"a", "b", "c"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Users() = %v, want %v", got, want)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := presence.NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(3)
		user := fmt.Sprintf("u%d", i%10)
		go func() {
			defer wg.Done()
			c := presencetest.NewConn()
			r.Register(user, c)
			r.Unregister(user, c)
		}()
		go func() {
			defer wg.Done()
			r.Lookup(user)
		}()
		go func() {
			defer wg.Done()
			r.BroadcastAll(events.Envelope{Type: events.MsgStatusChanged})
		}()
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("Len() = %d after every register was undone, want 0", r.Len())
	}
}
