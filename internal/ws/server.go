package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orbit-social/backend/internal/auth"
	"github.com/orbit-social/backend/internal/config"
	"github.com/orbit-social/backend/internal/events"
	"github.com/orbit-social/backend/internal/router"
	"github.com/orbit-social/backend/internal/session"
	"github.com/orbit-social/backend/internal/store"
)

// eventTimeout bounds the collaborator calls made for one inbound frame.
const eventTimeout = 10 * time.Second

type handler func(s *Server, ctx context.Context, c *client, in events.Inbound) error

// handlers is the inbound dispatch table. Each frame is handled to completion
// on the connection's read loop before the next one is read.
var handlers = map[events.Type]handler{
	events.CmdLogin:    handleLogin,
	events.CmdLogout:   handleLogout,
	events.CmdChatSend: handleChatSend,
	events.CmdVisitIn:  handleVisitIn,
	events.CmdVisitOut: handleVisitOut,
}

type Options struct {
	WS             config.WSConfig
	AllowedOrigins []string
	CookieName     string
	Logger         *slog.Logger
}

type Server struct {
	hub            *Hub
	sessions       *session.Controller
	router         *router.Router
	cfg            config.WSConfig
	cookieName     string
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	upgrader       websocket.Upgrader
	logger         *slog.Logger
}

func NewServer(hub *Hub, sessions *session.Controller, rt *router.Router, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		hub:            hub,
		sessions:       sessions,
		router:         rt,
		cfg:            opts.WS,
		cookieName:     opts.CookieName,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		logger:         logger,
	}

	for _, origin := range opts.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.hub.Full() {
		http.Error(w, ErrTooManyConnections.Error(), http.StatusServiceUnavailable)
		return
	}
	credential := credentialFrom(r, s.cookieName)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(conn, s.hub, s.cfg.SendBuffer, s.cfg.PingInterval, s.logger)
	if err := s.hub.Add(c); err != nil {
		closeWith(conn, websocket.CloseTryAgainLater, err.Error())
		return
	}

	if credential != "" {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		userID, err := s.sessions.Connect(ctx, credential)
		cancel()
		if err != nil {
			s.hub.Remove(c)
			code := websocket.ClosePolicyViolation
			if !errors.Is(err, auth.ErrUnauthenticated) {
				code = websocket.CloseTryAgainLater
			}
			s.logger.Info("ws handshake rejected", "remote", r.RemoteAddr, "error", err)
			closeWith(conn, code, publicMessage(err))
			return
		}
		c.setUser(userID)
	}

	s.logger.Debug("ws client connected", "conn_id", c.id, "remote", r.RemoteAddr, "user_id", c.userID())
	go c.writePump()
	go s.readLoop(c)
}

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

func (s *Server) readLoop(c *client) {
	defer func() {
		s.hub.Remove(c)
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		s.sessions.Disconnect(ctx, c, c.userID())
		s.logger.Debug("ws client disconnected", "conn_id", c.id, "user_id", c.userID())
	}()

	if s.cfg.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	if s.cfg.PongWait > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("ws read failed", "conn_id", c.id, "error", err)
			}
			return
		}
		if s.cfg.PongWait > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		}
		s.handle(c, data)
	}
}

func (s *Server) handle(c *client, data []byte) {
	var in events.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		s.replyError(c, "", fmt.Errorf("%w: malformed frame", store.ErrInvalid))
		return
	}
	h, ok := handlers[in.Type]
	if !ok {
		s.replyError(c, in.Type, fmt.Errorf("%w: unknown event type %q", store.ErrInvalid, in.Type))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	if err := h(s, ctx, c, in); err != nil {
		s.replyError(c, in.Type, err)
	}
}

// replyError reports a failed operation to the initiating connection only.
func (s *Server) replyError(c *client, op events.Type, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, store.ErrInvalid),
		errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrForbidden):
		s.logger.Info("ws event rejected", "event", op, "conn_id", c.id, "error", err)
	default:
		s.logger.Error("ws event failed", "event", op, "conn_id", c.id, "error", err)
	}
	s.router.SendTo(c, events.MsgError, events.ErrorPayload{Op: op, Message: publicMessage(err)})
}

// publicMessage is the text a client sees for err. Internal details stay in
// the log.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, store.ErrNotFound):
		return "not found"
	case errors.Is(err, store.ErrForbidden):
		return "forbidden"
	case errors.Is(err, store.ErrInvalid):
		return err.Error()
	case errors.Is(err, session.ErrTransient):
		return "temporarily unavailable"
	default:
		return "internal error"
	}
}

func (s *Server) caller(c *client, in events.Inbound) session.Caller {
	return session.Caller{Conn: c, UserID: c.userID(), Credential: in.Token}
}

func handleLogin(s *Server, ctx context.Context, c *client, in events.Inbound) error {
	prev := c.userID()
	userID, err := s.sessions.Login(ctx, s.caller(c, in))
	if err != nil {
		return err
	}
	c.setUser(userID)
	if prev != "" && prev != userID {
		// the socket switched accounts; the old identity leaves with it
		s.sessions.Disconnect(ctx, c, prev)
	}
	return nil
}

func handleLogout(s *Server, ctx context.Context, c *client, in events.Inbound) error {
	if _, err := s.sessions.Logout(ctx, s.caller(c, in)); err != nil {
		return err
	}
	c.setUser("")
	return nil
}

func handleChatSend(s *Server, ctx context.Context, c *client, in events.Inbound) error {
	var p events.ChatSendPayload
	if err := decodePayload(in, &p); err != nil {
		return err
	}
	_, err := s.sessions.SendChat(ctx, s.caller(c, in), p.ChatID, p.Body)
	return err
}

func handleVisitIn(s *Server, ctx context.Context, c *client, in events.Inbound) error {
	var p events.VisitPayload
	if err := decodePayload(in, &p); err != nil {
		return err
	}
	return s.sessions.VisitIn(ctx, s.caller(c, in), p.OwnerID)
}

func handleVisitOut(s *Server, ctx context.Context, c *client, in events.Inbound) error {
	var p events.VisitPayload
	if err := decodePayload(in, &p); err != nil {
		return err
	}
	return s.sessions.VisitOut(ctx, s.caller(c, in), p.OwnerID)
}

func decodePayload(in events.Inbound, v interface{}) error {
	if len(in.Payload) == 0 {
		return fmt.Errorf("%w: missing payload", store.ErrInvalid)
	}
	if err := json.Unmarshal(in.Payload, v); err != nil {
		return fmt.Errorf("%w: bad payload", store.ErrInvalid)
	}
	return nil
}

// credentialFrom extracts the handshake credential: ?token=, a bearer
// header, then the refresh cookie.
func credentialFrom(r *http.Request, cookieName string) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if cookieName != "" {
		if ck, err := r.Cookie(cookieName); err == nil {
			return ck.Value
		}
	}
	return ""
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host
	if host == r.Host {
		return true
	}
	return isLoopback(host)
}

func isLoopback(host string) bool {
	for _, h := range []string{"localhost", "127.0.0.1", "[::1]"} {
		if host == h || strings.HasPrefix(host, h+":") {
			return true
		}
	}
	return host == "::1"
}
