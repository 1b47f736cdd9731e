// Package api serves the JSON HTTP surface: authentication, users, posts,
// likes, comments and chats, plus health and stats. The WebSocket endpoint is
// mounted on the same router.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/orbit-social/backend/internal/auth"
	"github.com/orbit-social/backend/internal/config"
	"github.com/orbit-social/backend/internal/monitor"
	"github.com/orbit-social/backend/internal/session"
	"github.com/orbit-social/backend/internal/social"
	"github.com/orbit-social/backend/internal/store"
)

const maxBodyBytes = 1 << 20

type Deps struct {
	Store    *store.Store
	Social   *social.Service
	Sessions *session.Controller
	Tokens   *auth.JWTService
	Stats    *monitor.Collector
	WS       http.Handler
	Static   http.Handler
	Auth     config.AuthConfig
	Logger   *slog.Logger
}

type API struct {
	store    *store.Store
	social   *social.Service
	sessions *session.Controller
	tokens   *auth.JWTService
	stats    *monitor.Collector
	ws       http.Handler
	static   http.Handler
	cfg      config.AuthConfig
	logger   *slog.Logger
}

func New(d Deps) *API {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		store:    d.Store,
		social:   d.Social,
		sessions: d.Sessions,
		tokens:   d.Tokens,
		stats:    d.Stats,
		ws:       d.WS,
		static:   d.Static,
		cfg:      d.Auth,
		logger:   logger,
	}
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	if a.ws != nil {
		r.Handle("/ws", a.ws)
	}

	r.Group(func(r chi.Router) {
		r.Use(a.requestLogger)

		r.Get("/healthz", a.handleHealth)
		r.Get("/api/stats", a.handleStats)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", a.handleRegister)
			r.Post("/login", a.handleLogin)
			r.Post("/refresh", a.handleRefresh)
			r.Post("/logout", a.handleLogout)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireUser)

			r.Get("/users", a.handleListUsers)
			r.Get("/users/{id}", a.handleGetUser)
			r.Get("/users/{id}/posts", a.handleUserPosts)

			r.Get("/posts", a.handleListPosts)
			r.Post("/posts", a.handleCreatePost)
			r.Get("/posts/{id}", a.handleGetPost)
			r.Put("/posts/{id}", a.handleEditPost)
			r.Delete("/posts/{id}", a.handleDeletePost)

			r.Get("/likes", a.handleMyLikes)
			r.Get("/posts/{id}/likes", a.handlePostLikes)
			r.Post("/posts/{id}/likes", a.handleLike)
			r.Delete("/posts/{id}/likes", a.handleUnlike)

			r.Get("/posts/{id}/comments", a.handlePostComments)
			r.Post("/posts/{id}/comments", a.handleAddComment)
			r.Put("/comments/{id}", a.handleEditComment)
			r.Delete("/comments/{id}", a.handleDeleteComment)

			r.Get("/chats", a.handleListChats)
			r.Post("/chats", a.handleCreateChat)
			r.Get("/chats/{id}", a.handleGetChat)
			r.Patch("/chats/{id}", a.handleRenameChat)
			r.Delete("/chats/{id}", a.handleDeleteChat)
			r.Get("/chats/{id}/messages", a.handleMessages)
			r.Post("/chats/{id}/messages", a.handleSendMessage)
		})
	})

	if a.static != nil {
		r.Handle("/*", a.static)
	}
	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type ctxKey struct{}

// requireUser accepts a Bearer access token and stores its subject in the
// request context.
func (a *API) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			a.writeError(w, auth.ErrUnauthenticated)
			return
		}
		userID, err := a.tokens.ValidateAccess(strings.TrimSpace(token))
		if err != nil {
			a.logger.Info("rejected access token", "path", r.URL.Path)
			a.writeError(w, auth.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

func currentUser(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto status codes. Anything unrecognised is
// logged and reported as a generic 500.
func (a *API) writeError(w http.ResponseWriter, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		status, msg = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, store.ErrForbidden):
		status, msg = http.StatusForbidden, "forbidden"
	case errors.Is(err, store.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, store.ErrDuplicate):
		status, msg = http.StatusConflict, "already exists"
	case errors.Is(err, store.ErrInvalid):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, session.ErrTransient):
		status, msg = http.StatusServiceUnavailable, "temporarily unavailable"
	default:
		a.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorBody{Error: msg})
}

// decode reads a JSON body into v. Malformed input is ErrInvalid.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", store.ErrInvalid)
		}
		return fmt.Errorf("%w: malformed body", store.ErrInvalid)
	}
	return nil
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		a.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if a.stats == nil {
		writeJSON(w, http.StatusOK, monitor.Stats{})
		return
	}
	writeJSON(w, http.StatusOK, a.stats.Snapshot(r.Context()))
}
