// Package model holds the persisted social-network entities shared by the
// storage layer, the HTTP API and the real-time event payloads.
package model

import "time"

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	FullName     string    `json:"fullName,omitempty"`
	PasswordHash string    `json:"-"`
	IsOnline     bool      `json:"isOnline"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Public returns the projection of the user that is safe to hand to other users.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:       u.ID,
		Username: u.Username,
		FullName: u.FullName,
		IsOnline: u.IsOnline,
	}
}

type PublicUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
	IsOnline bool   `json:"isOnline"`
}

type Post struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Text      string     `json:"text"`
	Files     []string   `json:"files,omitempty"`
	Edited    bool       `json:"isEdit"`
	EditedAt  *time.Time `json:"lastEdit,omitempty"`
	CreatedAt time.Time  `json:"date"`
}

type Like struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	PostID    string    `json:"postId"`
	CreatedAt time.Time `json:"date"`
}

type Comment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	PostID    string    `json:"postId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"date"`
}

type ChatRole string

const (
	ChatPrivate ChatRole = "private"
	ChatGroup   ChatRole = "group"
)

func (r ChatRole) Valid() bool {
	return r == ChatPrivate || r == ChatGroup
}

type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Role      ChatRole  `json:"role"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasMember reports whether userID belongs to the chat.
func (c *Chat) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	UserID    string    `json:"userId"`
	Body      string    `json:"message"`
	CreatedAt time.Time `json:"date"`
}
