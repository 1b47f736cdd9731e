// Package social implements the post, like, comment and chat operations
// exposed over HTTP. Every mutation is written to storage first and only
// then handed to the router.
package social

import (
	"context"
	"log/slog"

	"github.com/orbit-social/backend/internal/events"
	"github.com/orbit-social/backend/internal/model"
	"github.com/orbit-social/backend/internal/presence"
	"github.com/orbit-social/backend/internal/store"
)

type Store interface {
	CreatePost(ctx context.Context, p model.Post) (model.Post, error)
	PostByID(ctx context.Context, id string) (model.Post, error)
	UpdatePost(ctx context.Context, id, text string, files []string) (model.Post, error)
	DeletePost(ctx context.Context, id string) error

	AddLike(ctx context.Context, userID, postID string) (model.Like, error)
	RemoveLike(ctx context.Context, userID, postID string) (model.Like, error)

	AddComment(ctx context.Context, userID, postID, text string) (model.Comment, error)
	CommentByID(ctx context.Context, id string) (model.Comment, error)
	UpdateComment(ctx context.Context, id, text string) (model.Comment, error)
	DeleteComment(ctx context.Context, id string) error

	CreateChat(ctx context.Context, role model.ChatRole, title string, members []string) (model.Chat, error)
	ChatByID(ctx context.Context, id string) (model.Chat, error)
	RenameChat(ctx context.Context, id, title string) (model.Chat, error)
	DeleteChat(ctx context.Context, id string) error
	MessagesByChat(ctx context.Context, chatID string, limit int) ([]model.Message, error)
}

// Dispatcher is the part of the router the service needs.
type Dispatcher interface {
	Dispatch(ev events.Event, origin presence.Conn) int
}

type Service struct {
	store  Store
	router Dispatcher
	logger *slog.Logger
}

func NewService(s Store, router Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, router: router, logger: logger}
}

func (s *Service) publish(ev events.Event) {
	n := s.router.Dispatch(ev, nil)
	s.logger.Debug("published", "event", ev.Type(), "delivered", n)
}

func (s *Service) CreatePost(ctx context.Context, userID, text string, files []string) (model.Post, error) {
	p, err := s.store.CreatePost(ctx, model.Post{UserID: userID, Text: text, Files: files})
	if err != nil {
		return model.Post{}, err
	}
	s.publish(events.PostChanged{Kind: events.MsgPostCreated, Post: p})
	return p, nil
}

// ownPost loads a post and checks that userID wrote it.
func (s *Service) ownPost(ctx context.Context, userID, postID string) (model.Post, error) {
	p, err := s.store.PostByID(ctx, postID)
	if err != nil {
		return model.Post{}, err
	}
	if p.UserID != userID {
		return model.Post{}, store.ErrForbidden
	}
	return p, nil
}

func (s *Service) EditPost(ctx context.Context, userID, postID, text string, files []string) (model.Post, error) {
	if _, err := s.ownPost(ctx, userID, postID); err != nil {
		return model.Post{}, err
	}
	p, err := s.store.UpdatePost(ctx, postID, text, files)
	if err != nil {
		return model.Post{}, err
	}
	s.publish(events.PostChanged{Kind: events.MsgPostEdited, Post: p})
	return p, nil
}

func (s *Service) DeletePost(ctx context.Context, userID, postID string) (model.Post, error) {
	p, err := s.ownPost(ctx, userID, postID)
	if err != nil {
		return model.Post{}, err
	}
	if err := s.store.DeletePost(ctx, postID); err != nil {
		return model.Post{}, err
	}
	s.publish(events.PostChanged{Kind: events.MsgPostRemoved, Post: p})
	return p, nil
}

func (s *Service) Like(ctx context.Context, userID, postID string) (model.Like, error) {
	p, err := s.store.PostByID(ctx, postID)
	if err != nil {
		return model.Like{}, err
	}
	l, err := s.store.AddLike(ctx, userID, postID)
	if err != nil {
		return model.Like{}, err
	}
	s.publish(events.LikeChanged{Kind: events.MsgLikeAdded, Like: l, PostOwnerID: p.UserID})
	return l, nil
}

func (s *Service) Unlike(ctx context.Context, userID, postID string) (model.Like, error) {
	p, err := s.store.PostByID(ctx, postID)
	if err != nil {
		return model.Like{}, err
	}
	l, err := s.store.RemoveLike(ctx, userID, postID)
	if err != nil {
		return model.Like{}, err
	}
	s.publish(events.LikeChanged{Kind: events.MsgLikeRemoved, Like: l, PostOwnerID: p.UserID})
	return l, nil
}

func (s *Service) AddComment(ctx context.Context, userID, postID, text string) (model.Comment, error) {
	p, err := s.store.PostByID(ctx, postID)
	if err != nil {
		return model.Comment{}, err
	}
	c, err := s.store.AddComment(ctx, userID, postID, text)
	if err != nil {
		return model.Comment{}, err
	}
	s.publish(events.CommentChanged{Kind: events.MsgCommentAdded, Comment: c, Post: p})
	return c, nil
}

// ownComment loads a comment written by userID together with its post.
func (s *Service) ownComment(ctx context.Context, userID, commentID string) (model.Comment, model.Post, error) {
	c, err := s.store.CommentByID(ctx, commentID)
	if err != nil {
		return model.Comment{}, model.Post{}, err
	}
	if c.UserID != userID {
		return model.Comment{}, model.Post{}, store.ErrForbidden
	}
	p, err := s.store.PostByID(ctx, c.PostID)
	if err != nil {
		return model.Comment{}, model.Post{}, err
	}
	return c, p, nil
}

func (s *Service) EditComment(ctx context.Context, userID, commentID, text string) (model.Comment, error) {
	_, p, err := s.ownComment(ctx, userID, commentID)
	if err != nil {
		return model.Comment{}, err
	}
	c, err := s.store.UpdateComment(ctx, commentID, text)
	if err != nil {
		return model.Comment{}, err
	}
	s.publish(events.CommentChanged{Kind: events.MsgCommentEdited, Comment: c, Post: p})
	return c, nil
}

func (s *Service) DeleteComment(ctx context.Context, userID, commentID string) (model.Comment, error) {
	c, p, err := s.ownComment(ctx, userID, commentID)
	if err != nil {
		return model.Comment{}, err
	}
	if err := s.store.DeleteComment(ctx, commentID); err != nil {
		return model.Comment{}, err
	}
	s.publish(events.CommentChanged{Kind: events.MsgCommentRemoved, Comment: c, Post: p})
	return c, nil
}

// CreateChat creates a chat that always includes its creator.
func (s *Service) CreateChat(ctx context.Context, userID string, role model.ChatRole, title string, members []string) (model.Chat, error) {
	return s.store.CreateChat(ctx, role, title, append([]string{userID}, members...))
}

// Chat returns a chat the user belongs to. Non-members get ErrForbidden.
func (s *Service) Chat(ctx context.Context, userID, chatID string) (model.Chat, error) {
	c, err := s.store.ChatByID(ctx, chatID)
	if err != nil {
		return model.Chat{}, err
	}
	if !c.HasMember(userID) {
		return model.Chat{}, store.ErrForbidden
	}
	return c, nil
}

func (s *Service) RenameChat(ctx context.Context, userID, chatID, title string) (model.Chat, error) {
	if _, err := s.Chat(ctx, userID, chatID); err != nil {
		return model.Chat{}, err
	}
	return s.store.RenameChat(ctx, chatID, title)
}

func (s *Service) DeleteChat(ctx context.Context, userID, chatID string) error {
	if _, err := s.Chat(ctx, userID, chatID); err != nil {
		return err
	}
	return s.store.DeleteChat(ctx, chatID)
}

func (s *Service) Messages(ctx context.Context, userID, chatID string, limit int) ([]model.Message, error) {
	if _, err := s.Chat(ctx, userID, chatID); err != nil {
		return nil, err
	}
	return s.store.MessagesByChat(ctx, chatID, limit)
}
