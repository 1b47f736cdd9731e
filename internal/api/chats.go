package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/orbit-social/backend/internal/model"
	"github.com/orbit-social/backend/internal/session"
	"github.com/orbit-social/backend/internal/store"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

type createChatRequest struct {
	Role    model.ChatRole `json:"role"`
	Title   string         `json:"title"`
	Members []string       `json:"members"`
}

type renameChatRequest struct {
	Title string `json:"title"`
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

func (a *API) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := a.store.ChatsForUser(r.Context(), currentUser(r))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(chats))
}

func (a *API) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.Role == "" {
		req.Role = model.ChatPrivate
	}
	c, err := a.social.CreateChat(r.Context(), currentUser(r), req.Role, req.Title, req.Members)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) handleGetChat(w http.ResponseWriter, r *http.Request) {
	c, err := a.social.Chat(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleRenameChat(w http.ResponseWriter, r *http.Request) {
	var req renameChatRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	c, err := a.social.RenameChat(r.Context(), currentUser(r), chi.URLParam(r, "id"), req.Title)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := a.social.DeleteChat(r.Context(), currentUser(r), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultMessageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			a.writeError(w, fmt.Errorf("%w: limit must be a positive integer", store.ErrInvalid))
			return
		}
		limit = min(n, maxMessageLimit)
	}
	msgs, err := a.social.Messages(r.Context(), currentUser(r), chi.URLParam(r, "id"), limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(msgs))
}

// handleSendMessage is the HTTP twin of the chat-send socket event: the
// message is stored and then routed to the chat's online members.
func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	body := strings.TrimSpace(req.Message)
	if body == "" {
		a.writeError(w, fmt.Errorf("%w: message is required", store.ErrInvalid))
		return
	}
	msg, err := a.sessions.SendChat(r.Context(), session.Caller{UserID: currentUser(r)}, chi.URLParam(r, "id"), body)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
