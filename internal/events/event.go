package events

import "github.com/orbit-social/backend/internal/model"

// Event is a domain event handed to the router. Each variant carries enough
// data for a recipient to render the update without a follow-up fetch.
type Event interface {
	Type() Type
	Payload() interface{}
}

type StatusChanged struct {
	UserID string
	Online bool
}

func (StatusChanged) Type() Type { return MsgStatusChanged }

func (e StatusChanged) Payload() interface{} {
	return StatusPayload{UserID: e.UserID, Online: e.Online}
}

// ChatMessage is routed to Members other than the sender. The message must
// already be persisted.
type ChatMessage struct {
	Message model.Message
	Members []string
}

func (ChatMessage) Type() Type { return MsgChatMessage }

func (e ChatMessage) Payload() interface{} {
	return ChatMessagePayload{
		ChatID:    e.Message.ChatID,
		SenderID:  e.Message.UserID,
		MessageID: e.Message.ID,
		Body:      e.Message.Body,
		Message:   e.Message,
	}
}

// PostChanged covers post-created, post-edited and post-removed.
type PostChanged struct {
	Kind Type
	Post model.Post
}

func (e PostChanged) Type() Type { return e.Kind }

func (e PostChanged) Payload() interface{} {
	return PostPayload{Post: e.Post}
}

// LikeChanged covers like-added and like-removed. The actor is Like.UserID.
type LikeChanged struct {
	Kind        Type
	Like        model.Like
	PostOwnerID string
}

func (e LikeChanged) Type() Type { return e.Kind }

func (e LikeChanged) Payload() interface{} {
	return LikePayload{Like: e.Like, PostOwnerID: e.PostOwnerID}
}

// CommentChanged covers comment-added, comment-edited and comment-removed.
// The actor is Comment.UserID and the targeted owner is Post.UserID.
type CommentChanged struct {
	Kind    Type
	Comment model.Comment
	Post    model.Post
}

func (e CommentChanged) Type() Type { return e.Kind }

func (e CommentChanged) Payload() interface{} {
	return CommentPayload{Comment: e.Comment, Post: e.Post}
}
