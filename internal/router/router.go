// Package router resolves which connections receive a domain event and
// pushes it to them.
//
// Each event type has a fixed targeting rule, looked up in a dispatch table
// and evaluated at the moment of the triggering action. Delivery is
// best-effort: a target whose connection drops the frame is skipped, never
// retried, and a connection resolved through more than one rule receives the
// event once.
package router

import (
	"log/slog"
	"sync/atomic"

	"github.com/orbit-social/backend/internal/events"
	"github.com/orbit-social/backend/internal/presence"
)

// route delivers env for ev and returns how many connections accepted it.
type route func(r *Router, env events.Envelope, ev events.Event, origin presence.Conn) int

var routes = map[events.Type]route{
	events.MsgStatusChanged:  routeStatus,
	events.MsgChatMessage:    routeChat,
	events.MsgPostCreated:    routePost,
	events.MsgPostEdited:     routePost,
	events.MsgPostRemoved:    routePost,
	events.MsgLikeAdded:      routeLike,
	events.MsgLikeRemoved:    routeLike,
	events.MsgCommentAdded:   routeComment,
	events.MsgCommentEdited:  routeComment,
	events.MsgCommentRemoved: routeComment,
}

type Router struct {
	registry  *presence.Registry
	observers *presence.ObserverIndex
	logger    *slog.Logger
	seq       atomic.Uint64
}

func New(registry *presence.Registry, observers *presence.ObserverIndex, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry:  registry,
		observers: observers,
		logger:    logger,
	}
}

// Dispatch fans ev out to its targets. origin is the connection that caused
// the event, or nil when it came from outside the real-time transport.
func (r *Router) Dispatch(ev events.Event, origin presence.Conn) int {
	fn, ok := routes[ev.Type()]
	if !ok {
		r.logger.Warn("no route for event", "event", ev.Type())
		return 0
	}
	env := r.envelope(ev.Type(), ev.Payload())
	n := fn(r, env, ev, origin)
	r.logger.Debug("event dispatched", "event", ev.Type(), "seq", env.Seq, "delivered", n)
	return n
}

// SendTo pushes a single frame to c only. Used for replies that must never
// be broadcast: visitor logs, presence snapshots and errors.
func (r *Router) SendTo(c presence.Conn, t events.Type, payload interface{}) bool {
	if c == nil {
		return false
	}
	return r.deliver(r.envelope(t, payload), []presence.Conn{c}) == 1
}

func (r *Router) envelope(t events.Type, payload interface{}) events.Envelope {
	return events.Envelope{
		Type:    t,
		Seq:     r.seq.Add(1),
		Payload: payload,
	}
}

func (r *Router) deliver(env events.Envelope, targets []presence.Conn) int {
	seen := make(map[string]struct{}, len(targets))
	delivered := 0
	for _, c := range targets {
		if c == nil {
			continue
		}
		if _, dup := seen[c.ID()]; dup {
			continue
		}
		seen[c.ID()] = struct{}{}
		if c.Send(env) {
			delivered++
		} else {
			r.logger.Debug("frame dropped", "event", env.Type, "conn_id", c.ID())
		}
	}
	return delivered
}

func routeStatus(r *Router, env events.Envelope, _ events.Event, _ presence.Conn) int {
	return r.registry.BroadcastAll(env)
}

// routeChat sends to every online member except the sender, looked up in the
// registry, and echoes to the sender through origin. Without an origin the
// echo falls back to the sender's registered connection.
func routeChat(r *Router, env events.Envelope, ev events.Event, origin presence.Conn) int {
	msg, ok := ev.(events.ChatMessage)
	if !ok {
		return 0
	}
	sender := msg.Message.UserID

	var targets []presence.Conn
	for _, member := range msg.Members {
		if member == sender {
			continue
		}
		if c, ok := r.registry.Lookup(member); ok {
			targets = append(targets, c)
		}
	}

	echo := origin
	if echo == nil {
		echo, _ = r.registry.Lookup(sender)
	}
	targets = append(targets, echo)
	return r.deliver(env, targets)
}

func routePost(r *Router, env events.Envelope, ev events.Event, _ presence.Conn) int {
	pc, ok := ev.(events.PostChanged)
	if !ok {
		return 0
	}
	var targets []presence.Conn
	for _, o := range r.observers.ListObservers(pc.Post.UserID) {
		targets = append(targets, o.Conn)
	}
	return r.deliver(env, targets)
}

func routeLike(r *Router, env events.Envelope, ev events.Event, _ presence.Conn) int {
	lc, ok := ev.(events.LikeChanged)
	if !ok {
		return 0
	}
	return r.deliver(env, r.socialTargets(lc.PostOwnerID, lc.Like.UserID))
}

func routeComment(r *Router, env events.Envelope, ev events.Event, _ presence.Conn) int {
	cc, ok := ev.(events.CommentChanged)
	if !ok {
		return 0
	}
	return r.deliver(env, r.socialTargets(cc.Post.UserID, cc.Comment.UserID))
}

// socialTargets is the like/comment rule: every registered connection, plus
// the owner when online and not the actor, plus the owner's observers except
// the actor.
func (r *Router) socialTargets(owner, actor string) []presence.Conn {
	targets := r.registry.Conns()
	if owner != actor {
		if c, ok := r.registry.Lookup(owner); ok {
			targets = append(targets, c)
		}
	}
	for _, o := range r.observers.ListObservers(owner) {
		if o.UserID == actor {
			continue
		}
		targets = append(targets, o.Conn)
	}
	return targets
}
