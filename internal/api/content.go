package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/orbit-social/backend/internal/model"
	"github.com/orbit-social/backend/internal/store"
)

type postRequest struct {
	Text  string   `json:"text"`
	Files []string `json:"files"`
}

type commentRequest struct {
	Text string `json:"text"`
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.store.ListUsers(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	out := make([]model.PublicUser, 0, len(users))
	for i := range users {
		out = append(out, users[i].Public())
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := a.store.UserByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if u.ID == currentUser(r) {
		writeJSON(w, http.StatusOK, u)
		return
	}
	writeJSON(w, http.StatusOK, u.Public())
}

func (a *API) handleUserPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := a.store.PostsByUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(posts))
}

func (a *API) handleListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := a.store.AllPosts(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(posts))
}

func (a *API) handleGetPost(w http.ResponseWriter, r *http.Request) {
	p, err := a.store.PostByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	p, err := a.social.CreatePost(r.Context(), currentUser(r), req.Text, req.Files)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleEditPost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	p, err := a.social.EditPost(r.Context(), currentUser(r), chi.URLParam(r, "id"), req.Text, req.Files)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	p, err := a.social.DeletePost(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleMyLikes(w http.ResponseWriter, r *http.Request) {
	likes, err := a.store.LikesByUser(r.Context(), currentUser(r))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(likes))
}

func (a *API) handlePostLikes(w http.ResponseWriter, r *http.Request) {
	likes, err := a.store.LikesByPost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(likes))
}

func (a *API) handleLike(w http.ResponseWriter, r *http.Request) {
	l, err := a.social.Like(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (a *API) handleUnlike(w http.ResponseWriter, r *http.Request) {
	l, err := a.social.Unlike(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *API) handlePostComments(w http.ResponseWriter, r *http.Request) {
	comments, err := a.store.CommentsByPost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(comments))
}

func (a *API) handleAddComment(w http.ResponseWriter, r *http.Request) {
	text, err := commentText(w, r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	c, err := a.social.AddComment(r.Context(), currentUser(r), chi.URLParam(r, "id"), text)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) handleEditComment(w http.ResponseWriter, r *http.Request) {
	text, err := commentText(w, r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	c, err := a.social.EditComment(r.Context(), currentUser(r), chi.URLParam(r, "id"), text)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	c, err := a.social.DeleteComment(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func commentText(w http.ResponseWriter, r *http.Request) (string, error) {
	var req commentRequest
	if err := decode(w, r, &req); err != nil {
		return "", err
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", fmt.Errorf("%w: comment text is required", store.ErrInvalid)
	}
	return text, nil
}

// nonNil keeps empty collections encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
