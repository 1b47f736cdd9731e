package router

import (
	"io"
	"log/slog"
	"testing"

	"github.com/orbit-social/backend/internal/events"
	"github.com/orbit-social/backend/internal/model"
	"github.com/orbit-social/backend/internal/presence"
	"github.com/orbit-social/backend/internal/presence/presencetest"
)

type fixture struct {
	registry  *presence.Registry
	observers *presence.ObserverIndex
	router    *Router
}

func newFixture() *fixture {
	reg := presence.NewRegistry()
	obs := presence.NewObserverIndex()
	return &fixture{
		registry:  reg,
		observers: obs,
		router:    New(reg, obs, slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
}

// online registers a fresh connection for user.
func (f *fixture) online(user string) *presencetest.Conn {
	c := presencetest.NewConn()
	f.registry.Register(user, c)
	return c
}

func TestStatusChangedReachesEveryRegisteredConn(t *testing.T) {
	f := newFixture()
	u1 := f.online("u1")
	u2 := f.online("u2")

	n := f.router.Dispatch(events.StatusChanged{UserID: "u1", Online: true}, u1)
	if n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}
	for name, c := range map[string]*presencetest.Conn{"u1": u1, "u2": u2} {
		env, ok := c.Last(events.MsgStatusChanged)
		if !ok {
			t.Fatalf("%s did not receive status-changed", name)
		}
		p := env.Payload.(events.StatusPayload)
		if p.UserID != "u1" || !p.Online {
			t.Errorf("%s payload = %+v", name, p)
		}
	}
}

// An observer receives the owner's post; a bystander does not.
func TestPostCreatedReachesObserversOnly(t *testing.T) {
	f := newFixture()
	u1 := f.online("u1")
	u2 := f.online("u2")
	u3 := f.online("u3")
	f.observers.AddObserver("u1", "u2", u2)

	f.router.Dispatch(events.PostChanged{
		Kind: events.MsgPostCreated,
		Post: model.Post{ID: "p1", UserID: "u1", Text: "hello"},
	}, nil)

	if got := u2.Count(events.MsgPostCreated); got != 1 {
		t.Errorf("observer received %d post-created, want 1", got)
	}
	if got := u3.Count(events.MsgPostCreated); got != 0 {
		t.Errorf("non-observer received %d post-created, want 0", got)
	}
	if got := u1.Count(events.MsgPostCreated); got != 0 {
		t.Errorf("owner received %d post-created, want 0", got)
	}
}

func TestPostEditedAndRemovedUseSameRule(t *testing.T) {
	for _, kind := range []events.Type{events.MsgPostEdited, events.MsgPostRemoved} {
		t.Run(string(kind), func(t *testing.T) {
			f := newFixture()
			viewer := f.online("viewer")
			f.observers.AddObserver("owner", "viewer", viewer)

			n := f.router.Dispatch(events.PostChanged{Kind: kind, Post: model.Post{ID: "p", UserID: "owner"}}, nil)
			if n != 1 || viewer.Count(kind) != 1 {
				t.Errorf("delivered=%d viewer count=%d, want 1/1", n, viewer.Count(kind))
			}
		})
	}
}

// The sender gets its echo; an offline member gets nothing.
func TestChatMessageEchoAndOfflineMember(t *testing.T) {
	f := newFixture()
	c1 := f.online("u1")

	msg := events.ChatMessage{
		Message: model.Message{ID: "m1", ChatID: "c", UserID: "u1", Body: "hi"},
		Members: []string{"u1", "u2"},
	}
	n := f.router.Dispatch(msg, c1)
	if n != 1 {
		t.Errorf("delivered = %d, want 1 (echo only)", n)
	}
	env, ok := c1.Last(events.MsgChatMessage)
	if !ok {
		t.Fatal("sender did not receive echo")
	}
	p := env.Payload.(events.ChatMessagePayload)
	if p.ChatID != "c" || p.SenderID != "u1" || p.MessageID != "m1" || p.Body != "hi" {
		t.Errorf("payload = %+v", p)
	}

	// A later login does not replay the missed message.
	c2 := f.online("u2")
	if c2.Count(events.MsgChatMessage) != 0 {
		t.Error("late joiner should not receive earlier chat message")
	}
}

func TestChatMessageOnlineMembers(t *testing.T) {
	f := newFixture()
	sender := presencetest.NewConn() // origin; registry points elsewhere
	f.registry.Register("u1", presencetest.NewConn())
	u2 := f.online("u2")
	u3 := f.online("u3")
	outsider := f.online("u4")

	msg := events.ChatMessage{
		Message: model.Message{ID: "m", ChatID: "c", UserID: "u1", Body: "yo"},
		Members: []string{"u1", "u2", "u3"},
	}
	if n := f.router.Dispatch(msg, sender); n != 3 {
		t.Errorf("delivered = %d, want 3", n)
	}
	if sender.Count(events.MsgChatMessage) != 1 {
		t.Error("echo should go to the origin connection")
	}
	if u2.Count(events.MsgChatMessage) != 1 || u3.Count(events.MsgChatMessage) != 1 {
		t.Error("online members should receive the message once")
	}
	if outsider.Count(events.MsgChatMessage) != 0 {
		t.Error("non-member received chat message")
	}
}

func TestChatMessageWithoutOriginEchoesViaRegistry(t *testing.T) {
	f := newFixture()
	c1 := f.online("u1")

	f.router.Dispatch(events.ChatMessage{
		Message: model.Message{ID: "m", ChatID: "c", UserID: "u1"},
		Members: []string{"u1"},
	}, nil)

	if c1.Count(events.MsgChatMessage) != 1 {
		t.Error("sender should receive echo through its registered connection")
	}
}

// Owner, observer and actor each receive the like exactly once.
func TestLikeAddedDeduplicatesPerConnection(t *testing.T) {
	f := newFixture()
	u1 := f.online("u1") // post owner
	u3 := f.online("u3") // actor
	u4 := f.online("u4") // observer of u1
	bystander := f.online("u5")
	f.observers.AddObserver("u1", "u4", u4)
	f.observers.AddObserver("u1", "u3", u3)

	n := f.router.Dispatch(events.LikeChanged{
		Kind:        events.MsgLikeAdded,
		Like:        model.Like{ID: "l1", UserID: "u3", PostID: "p1"},
		PostOwnerID: "u1",
	}, u3)

	if n != 4 {
		t.Errorf("delivered = %d, want 4", n)
	}
	for name, c := range map[string]*presencetest.Conn{"owner": u1, "actor": u3, "observer": u4, "bystander": bystander} {
		if got := c.Count(events.MsgLikeAdded); got != 1 {
			t.Errorf("%s received %d like-added, want exactly 1", name, got)
		}
	}
}

func TestLikeOnOwnPostIsNotDuplicated(t *testing.T) {
	f := newFixture()
	u1 := f.online("u1")

	f.router.Dispatch(events.LikeChanged{
		Kind:        events.MsgLikeRemoved,
		Like:        model.Like{ID: "l", UserID: "u1", PostID: "p"},
		PostOwnerID: "u1",
	}, u1)

	if got := u1.Count(events.MsgLikeRemoved); got != 1 {
		t.Errorf("owner-actor received %d like-removed, want 1", got)
	}
}

func TestLikeReachesObserverOnStaleConnection(t *testing.T) {
	f := newFixture()
	f.online("u1")
	watching := presencetest.NewConn() // observer conn not in the registry
	f.observers.AddObserver("u1", "u2", watching)

	f.router.Dispatch(events.LikeChanged{
		Kind:        events.MsgLikeAdded,
		Like:        model.Like{ID: "l", UserID: "u9", PostID: "p"},
		PostOwnerID: "u1",
	}, nil)

	if watching.Count(events.MsgLikeAdded) != 1 {
		t.Error("observer connection should be targeted even when not in the registry")
	}
}

func TestCommentTargetsPostOwner(t *testing.T) {
	f := newFixture()
	owner := f.online("owner")
	actor := f.online("actor")
	observer := presencetest.NewConn()
	f.observers.AddObserver("owner", "viewer", observer)
	f.observers.AddObserver("someone-else", "viewer2", presencetest.NewConn())

	for _, kind := range []events.Type{events.MsgCommentAdded, events.MsgCommentEdited, events.MsgCommentRemoved} {
		f.router.Dispatch(events.CommentChanged{
			Kind:    kind,
			Comment: model.Comment{ID: "c", UserID: "actor", PostID: "p"},
			Post:    model.Post{ID: "p", UserID: "owner"},
		}, actor)

		for name, c := range map[string]*presencetest.Conn{"owner": owner, "actor": actor, "observer": observer} {
			if got := c.Count(kind); got != 1 {
				t.Errorf("%s: %s received %d, want 1", kind, name, got)
			}
		}
	}
}

func TestDroppedConnectionIsSkipped(t *testing.T) {
	f := newFixture()
	live := f.online("live")
	dead := f.online("dead")
	dead.Close()

	n := f.router.Dispatch(events.StatusChanged{UserID: "live", Online: true}, live)
	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if live.Count(events.MsgStatusChanged) != 1 {
		t.Error("live connection should still receive the frame")
	}
}

type unroutable struct{}

func (unroutable) Type() events.Type { return events.MsgVisitorLog }
func (unroutable) Payload() interface{} { return nil }

func TestDispatchUnknownEvent(t *testing.T) {
	f := newFixture()
	c := f.online("u")
	if n := f.router.Dispatch(unroutable{}, c); n != 0 {
		t.Errorf("delivered = %d, want 0", n)
	}
	if len(c.Frames()) != 0 {
		t.Error("unroutable event should not be delivered")
	}
}

func TestSendToOnlyTargetsCaller(t *testing.T) {
	f := newFixture()
	caller := f.online("a")
	other := f.online("b")

	if !f.router.SendTo(caller, events.MsgVisitorLog, events.VisitorLogPayload{OwnerID: "x"}) {
		t.Fatal("SendTo reported failure")
	}
	if caller.Count(events.MsgVisitorLog) != 1 || other.Count(events.MsgVisitorLog) != 0 {
		t.Error("SendTo must reach the caller only")
	}
	if f.router.SendTo(nil, events.MsgVisitorLog, nil) {
		t.Error("SendTo(nil) should report failure")
	}
}

func TestSequenceNumberIncrement(t *testing.T) {
	f := newFixture()
	c := f.online("u")

	for i := 0; i < 5; i++ {
		f.router.SendTo(c, events.MsgOnlineUsers, nil)
	}
	frames := c.Frames()
	for i, env := range frames {
		if env.Seq != uint64(i+1) {
			t.Errorf("frame[%d].Seq = %d, want %d", i, env.Seq, i+1)
		}
	}
}

func TestSequenceNumberWrapAround(t *testing.T) {
	f := newFixture()
	maxUint64 := ^uint64(0)
	f.router.seq.Store(maxUint64 - 1)

	var seqs []uint64
	for i := 0; i < 3; i++ {
		seqs = append(seqs, f.router.envelope(events.MsgError, nil).Seq)
	}
	expected := []uint64{maxUint64, 0, 1}
	for i := range expected {
		if seqs[i] != expected[i] {
			t.Errorf("seq[%d] = %d, want %d", i, seqs[i], expected[i])
		}
	}
}
