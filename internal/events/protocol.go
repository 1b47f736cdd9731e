package events

import (
	"encoding/json"

	"github.com/orbit-social/backend/internal/model"
)

// Type names a frame on the real-time wire, in either direction.
type Type string

// Outbound frames pushed to clients.
const (
	MsgStatusChanged  Type = "status-changed"
	MsgChatMessage    Type = "chat-message"
	MsgPostCreated    Type = "post-created"
	MsgPostEdited     Type = "post-edited"
	MsgPostRemoved    Type = "post-removed"
	MsgLikeAdded      Type = "like-added"
	MsgLikeRemoved    Type = "like-removed"
	MsgCommentAdded   Type = "comment-added"
	MsgCommentEdited  Type = "comment-edited"
	MsgCommentRemoved Type = "comment-removed"
	MsgVisitorLog     Type = "visitor-log"
	MsgOnlineUsers    Type = "online-users"
	MsgLoggedIn       Type = "logged-in"
	MsgLoggedOut      Type = "logged-out"
	MsgError          Type = "error"
)

// Inbound frames sent by clients.
const (
	CmdLogin    Type = "login"
	CmdLogout   Type = "logout"
	CmdChatSend Type = "chat-send"
	CmdVisitIn  Type = "visit-in"
	CmdVisitOut Type = "visit-out"
)

// Envelope is the outbound frame. Seq increases monotonically per process so
// clients can spot gaps and re-fetch state.
type Envelope struct {
	Type    Type        `json:"type"`
	Seq     uint64      `json:"seq,omitempty"`
	Payload interface{} `json:"payload"`
}

// Inbound is a client frame. Token carries an optional credential for event
// types that authenticate independently of the handshake.
type Inbound struct {
	Type    Type            `json:"type"`
	Token   string          `json:"token,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ChatSendPayload struct {
	ChatID string `json:"chatId"`
	Body   string `json:"body"`
}

type VisitPayload struct {
	OwnerID string `json:"ownerId"`
}

type StatusPayload struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

type ChatMessagePayload struct {
	ChatID    string        `json:"chatId"`
	SenderID  string        `json:"senderId"`
	MessageID string        `json:"messageId"`
	Body      string        `json:"body"`
	Message   model.Message `json:"message"`
}

type PostPayload struct {
	Post model.Post `json:"post"`
}

type LikePayload struct {
	Like        model.Like `json:"like"`
	PostOwnerID string     `json:"postOwnerId"`
}

type CommentPayload struct {
	Comment model.Comment `json:"comment"`
	Post    model.Post    `json:"post"`
}

type VisitorLogPayload struct {
	OwnerID  string   `json:"ownerId"`
	Visitors []string `json:"visitors"`
}

type OnlineUsersPayload struct {
	UserIDs []string `json:"userIds"`
}

type SessionPayload struct {
	UserID string `json:"userId"`
}

type ErrorPayload struct {
	Op      Type   `json:"op,omitempty"`
	Message string `json:"message"`
}
