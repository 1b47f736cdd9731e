// Package session drives the per-user presence state machine
// (Offline -> Online -> Offline) and the visit and chat operations that
// arrive over a live connection.
//
// In-memory state only changes after the collaborators it depends on have
// succeeded: a user whose "online" write failed is never registered. Locks
// inside the registry and observer index are held only for the in-memory
// mutation, never across authentication or storage calls.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/orbit-social/backend/internal/auth"
	"github.com/orbit-social/backend/internal/events"
	"github.com/orbit-social/backend/internal/model"
	"github.com/orbit-social/backend/internal/presence"
	"github.com/orbit-social/backend/internal/router"
	"github.com/orbit-social/backend/internal/store"
)

// ErrTransient wraps a collaborator I/O failure during authentication or a
// persisted-state write. The transition that hit it had no effect.
var ErrTransient = errors.New("transient failure")

type Authenticator interface {
	AuthenticateOnConnect(ctx context.Context, credential string) (string, error)
	AuthenticateOnEvent(ctx context.Context, credential string) (string, error)
}

type UserStore interface {
	SetOnline(ctx context.Context, userID string, online bool) error
	UserByID(ctx context.Context, id string) (model.User, error)
}

type ChatStore interface {
	ChatMembers(ctx context.Context, chatID string) ([]string, error)
	AppendMessage(ctx context.Context, m model.Message) (model.Message, error)
}

// Caller describes who issued an operation. Conn is nil for operations that
// arrive over HTTP. UserID is the identity already bound to the connection,
// if any; a non-empty Credential is authenticated and takes precedence.
type Caller struct {
	Conn       presence.Conn
	UserID     string
	Credential string
}

type Deps struct {
	Auth      Authenticator
	Users     UserStore
	Chats     ChatStore
	Registry  *presence.Registry
	Observers *presence.ObserverIndex
	Router    *router.Router
	Logger    *slog.Logger
}

type Controller struct {
	auth      Authenticator
	users     UserStore
	chats     ChatStore
	registry  *presence.Registry
	observers *presence.ObserverIndex
	router    *router.Router
	logger    *slog.Logger

	flags *onlineFlags
}

func New(d Deps) *Controller {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		auth:      d.Auth,
		users:     d.Users,
		chats:     d.Chats,
		registry:  d.Registry,
		observers: d.Observers,
		router:    d.Router,
		logger:    logger,
		flags:     newOnlineFlags(),
	}
}

// Connect validates a handshake credential. It does not register anything;
// the connection joins the registry on its first login.
func (c *Controller) Connect(ctx context.Context, credential string) (string, error) {
	userID, err := c.auth.AuthenticateOnConnect(ctx, credential)
	if err != nil {
		return "", c.authError(err)
	}
	return userID, nil
}

func (c *Controller) identify(ctx context.Context, caller Caller) (string, error) {
	if caller.Credential != "" {
		userID, err := c.auth.AuthenticateOnEvent(ctx, caller.Credential)
		if err != nil {
			return "", c.authError(err)
		}
		return userID, nil
	}
	if caller.UserID != "" {
		return caller.UserID, nil
	}
	return "", auth.ErrUnauthenticated
}

func (c *Controller) authError(err error) error {
	if errors.Is(err, auth.ErrUnauthenticated) {
		return err
	}
	c.logger.Error("authentication backend failed", "error", err)
	return fmt.Errorf("%w: authenticate: %w", ErrTransient, err)
}

// Login moves the caller's user online on caller.Conn and returns the user
// id. The persisted online flag is written only when the user had no
// registered connection; a repeat login still replaces the connection.
func (c *Controller) Login(ctx context.Context, caller Caller) (string, error) {
	if caller.Conn == nil {
		return "", errors.New("login requires a connection")
	}
	userID, err := c.identify(ctx, caller)
	if err != nil {
		return "", err
	}

	if _, online := c.registry.Lookup(userID); !online {
		if err := c.persistOnline(ctx, userID, true); err != nil {
			c.logger.Error("persist online failed", "user_id", userID, "error", err)
			return "", fmt.Errorf("%w: mark online: %w", ErrTransient, err)
		}
	}
	c.registry.Register(userID, caller.Conn)
	c.reconcile(ctx, userID)
	c.logger.Info("user online", "user_id", userID, "conn_id", caller.Conn.ID())

	c.router.Dispatch(events.StatusChanged{UserID: userID, Online: true}, caller.Conn)
	c.router.SendTo(caller.Conn, events.MsgLoggedIn, events.SessionPayload{UserID: userID})
	c.router.SendTo(caller.Conn, events.MsgOnlineUsers, events.OnlineUsersPayload{UserIDs: c.registry.Users()})
	return userID, nil
}

// Logout moves the user offline when caller.Conn is their live connection.
// A logout from a superseded connection only drops the observer entries that
// connection held, including one superseded while the offline write ran.
func (c *Controller) Logout(ctx context.Context, caller Caller) (string, error) {
	userID, err := c.identify(ctx, caller)
	if err != nil {
		return "", err
	}

	current, online := c.registry.Lookup(userID)
	switch {
	case online && presence.SameConn(current, caller.Conn):
	case online:
		c.observers.RemoveConn(caller.Conn)
		return userID, nil
	default:
		c.observers.RemoveObserverEverywhere(userID)
		return userID, nil
	}

	if err := c.persistOnline(ctx, userID, false); err != nil {
		c.logger.Error("persist offline failed", "user_id", userID, "error", err)
		return "", fmt.Errorf("%w: mark offline: %w", ErrTransient, err)
	}
	if c.registry.Unregister(userID, current) {
		c.observers.RemoveObserverEverywhere(userID)
		c.logger.Info("user offline", "user_id", userID, "conn_id", current.ID(), "reason", "logout")
		c.router.Dispatch(events.StatusChanged{UserID: userID, Online: false}, nil)
	} else {
		c.observers.RemoveConn(caller.Conn)
		c.logger.Info("logout superseded by a newer login", "user_id", userID, "conn_id", caller.Conn.ID())
	}
	c.reconcile(ctx, userID)
	c.router.SendTo(caller.Conn, events.MsgLoggedOut, events.SessionPayload{UserID: userID})
	return userID, nil
}

// Disconnect handles a transport close. userID is the identity bound to the
// connection, empty when it never logged in. Safe to call more than once and
// in any order relative to a newer login by the same user.
func (c *Controller) Disconnect(ctx context.Context, conn presence.Conn, userID string) {
	if conn == nil {
		return
	}
	if userID == "" || !c.registry.Unregister(userID, conn) {
		if owners := c.observers.RemoveConn(conn); len(owners) > 0 {
			c.logger.Debug("stale connection closed", "user_id", userID, "conn_id", conn.ID(), "owners", len(owners))
		}
		return
	}

	c.observers.RemoveObserverEverywhere(userID)
	if err := c.persistOnline(ctx, userID, false); err != nil {
		c.logger.Error("persist offline failed", "user_id", userID, "error", err)
	}
	defer c.reconcile(ctx, userID)
	if _, back := c.registry.Lookup(userID); back {
		c.logger.Info("user logged in again during disconnect", "user_id", userID, "conn_id", conn.ID())
		return
	}
	c.logger.Info("user offline", "user_id", userID, "conn_id", conn.ID(), "reason", "disconnect")
	c.router.Dispatch(events.StatusChanged{UserID: userID, Online: false}, nil)
}

// VisitIn starts the caller watching ownerID's profile and replies with the
// owner's visitor log. Self-visits and empty ids are ignored; an owner that
// does not exist is store.ErrNotFound.
func (c *Controller) VisitIn(ctx context.Context, caller Caller, ownerID string) error {
	userID, err := c.identify(ctx, caller)
	if err != nil {
		return err
	}
	if ownerID != userID {
		if err := c.checkOwner(ctx, ownerID); err != nil {
			return err
		}
	}
	if c.observers.AddObserver(ownerID, userID, caller.Conn) {
		c.logger.Debug("visit started", "owner_id", ownerID, "user_id", userID)
	}
	c.sendVisitorLog(caller.Conn, ownerID)
	return nil
}

func (c *Controller) VisitOut(ctx context.Context, caller Caller, ownerID string) error {
	userID, err := c.identify(ctx, caller)
	if err != nil {
		return err
	}
	if err := c.checkOwner(ctx, ownerID); err != nil {
		return err
	}
	c.observers.RemoveObserver(ownerID, userID)
	c.sendVisitorLog(caller.Conn, ownerID)
	return nil
}

func (c *Controller) checkOwner(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return nil
	}
	if _, err := c.users.UserByID(ctx, ownerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: look up %s: %w", ErrTransient, ownerID, err)
	}
	return nil
}

func (c *Controller) sendVisitorLog(conn presence.Conn, ownerID string) {
	if ownerID == "" {
		return
	}
	visitors := c.observers.ObserverIDs(ownerID)
	if visitors == nil {
		visitors = []string{}
	}
	c.router.SendTo(conn, events.MsgVisitorLog, events.VisitorLogPayload{OwnerID: ownerID, Visitors: visitors})
}

// SendChat persists a chat message from the caller and routes it to the
// chat's online members. Nothing is routed unless the message was stored.
func (c *Controller) SendChat(ctx context.Context, caller Caller, chatID, body string) (model.Message, error) {
	userID, err := c.identify(ctx, caller)
	if err != nil {
		return model.Message{}, err
	}
	members, err := c.chats.ChatMembers(ctx, chatID)
	if err != nil {
		return model.Message{}, err
	}
	if !contains(members, userID) {
		return model.Message{}, store.ErrForbidden
	}

	msg, err := c.chats.AppendMessage(ctx, model.Message{ChatID: chatID, UserID: userID, Body: body})
	if err != nil {
		return model.Message{}, err
	}
	c.router.Dispatch(events.ChatMessage{Message: msg, Members: members}, caller.Conn)
	return msg, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
