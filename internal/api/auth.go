package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/orbit-social/backend/internal/auth"
	"github.com/orbit-social/backend/internal/model"
	"github.com/orbit-social/backend/internal/store"
)

const minPasswordLen = 6

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Password string `json:"password"`
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type authResponse struct {
	User model.User `json:"user"`
	auth.Pair
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if !strings.Contains(req.Email, "@") || strings.TrimSpace(req.Username) == "" {
		a.writeError(w, fmt.Errorf("%w: email and username are required", store.ErrInvalid))
		return
	}
	if len(req.Password) < minPasswordLen {
		a.writeError(w, fmt.Errorf("%w: password must be at least %d characters", store.ErrInvalid, minPasswordLen))
		return
	}

	hash, err := auth.HashPassword(req.Password, a.cfg.BcryptCost)
	if err != nil {
		a.writeError(w, err)
		return
	}
	u, err := a.store.CreateUser(r.Context(), model.User{
		Email:        req.Email,
		Username:     req.Username,
		FullName:     strings.TrimSpace(req.FullName),
		PasswordHash: hash,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.logger.Info("user registered", "user_id", u.ID)
	a.issue(w, r, http.StatusCreated, u)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	u, err := a.store.UserByLogin(r.Context(), req.Login)
	if errors.Is(err, store.ErrNotFound) {
		a.writeError(w, auth.ErrUnauthenticated)
		return
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		a.logger.Info("login rejected", "user_id", u.ID)
		a.writeError(w, auth.ErrUnauthenticated)
		return
	}
	a.issue(w, r, http.StatusOK, u)
}

// handleRefresh rotates the refresh token: the presented one must be the
// token on file, and it is replaced by a fresh pair.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := a.refreshCredential(w, r)
	if token == "" {
		a.writeError(w, auth.ErrUnauthenticated)
		return
	}
	userID, err := a.tokens.ValidateRefresh(token)
	if err != nil {
		a.writeError(w, auth.ErrUnauthenticated)
		return
	}
	owner, err := a.store.FindRefreshToken(r.Context(), token)
	if errors.Is(err, store.ErrNotFound) || (err == nil && owner != userID) {
		a.clearCookie(w)
		a.writeError(w, auth.ErrUnauthenticated)
		return
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	u, err := a.store.UserByID(r.Context(), userID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.issue(w, r, http.StatusOK, u)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := a.refreshCredential(w, r); token != "" {
		err := a.store.DeleteRefreshToken(r.Context(), token)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			a.writeError(w, err)
			return
		}
	}
	a.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// refreshCredential reads the refresh token from the cookie, falling back to
// a JSON body for clients that cannot hold cookies.
func (a *API) refreshCredential(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(a.cfg.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if r.Body == nil || r.ContentLength == 0 {
		return ""
	}
	var req refreshRequest
	if err := decode(w, r, &req); err != nil {
		return ""
	}
	return strings.TrimSpace(req.RefreshToken)
}

func (a *API) issue(w http.ResponseWriter, r *http.Request, status int, u model.User) {
	pair, err := a.tokens.Issue(u.ID, u.Username)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.store.SaveRefreshToken(r.Context(), u.ID, pair.RefreshToken, pair.RefreshExpiresAt); err != nil {
		a.writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.CookieName,
		Value:    pair.RefreshToken,
		Path:     "/",
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, status, authResponse{User: u, Pair: pair})
}

func (a *API) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
