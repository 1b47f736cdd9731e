package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/orbit-social/backend/internal/model"
)

const postColumns = `id, user_id, text, files, edited, edited_at, created_at`

func scanPost(row rowScanner) (model.Post, error) {
	var (
		p        model.Post
		files    string
		editedAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Text, &files, &p.Edited, &editedAt, &p.CreatedAt); err != nil {
		return model.Post{}, err
	}
	if files != "" {
		if err := json.Unmarshal([]byte(files), &p.Files); err != nil {
			return model.Post{}, fmt.Errorf("decode files of post %s: %w", p.ID, err)
		}
	}
	if editedAt.Valid {
		t := editedAt.Time
		p.EditedAt = &t
	}
	return p, nil
}

func encodeFiles(files []string) (string, error) {
	if files == nil {
		files = []string{}
	}
	b, err := json.Marshal(files)
	return string(b), err
}

func (s *Store) CreatePost(ctx context.Context, p model.Post) (model.Post, error) {
	p.Text = strings.TrimSpace(p.Text)
	if p.UserID == "" || (p.Text == "" && len(p.Files) == 0) {
		return model.Post{}, ErrInvalid
	}
	files, err := encodeFiles(p.Files)
	if err != nil {
		return model.Post{}, err
	}
	p.ID = newID()
	p.Edited = false
	p.EditedAt = nil
	p.CreatedAt = s.now()

	_, err = s.db.ExecContext(ctx, `
INSERT INTO posts (id, user_id, text, files, edited, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.UserID, p.Text, files, false, p.CreatedAt)
	if err != nil {
		return model.Post{}, fmt.Errorf("create post: %w", translate(err))
	}
	return p, nil
}

func (s *Store) PostByID(ctx context.Context, id string) (model.Post, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id))
	if err != nil {
		return model.Post{}, translate(err)
	}
	return p, nil
}

// UpdatePost replaces the text and files of a post and marks it edited.
func (s *Store) UpdatePost(ctx context.Context, id, text string, files []string) (model.Post, error) {
	text = strings.TrimSpace(text)
	if text == "" && len(files) == 0 {
		return model.Post{}, ErrInvalid
	}
	encoded, err := encodeFiles(files)
	if err != nil {
		return model.Post{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET text = $1, files = $2, edited = $3, edited_at = $4 WHERE id = $5`,
		text, encoded, true, s.now(), id)
	if err != nil {
		return model.Post{}, fmt.Errorf("update post: %w", err)
	}
	if err := affectedOne(res); err != nil {
		return model.Post{}, err
	}
	return s.PostByID(ctx, id)
}

// DeletePost removes a post together with its likes and comments.
func (s *Store) DeletePost(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM likes WHERE post_id = $1`,
		`DELETE FROM comments WHERE post_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete post %s: %w", id, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete post %s: %w", id, err)
	}
	if err := affectedOne(res); err != nil {
		return err
	}
	return tx.Commit()
}

// PostsByUser lists a user's posts, newest first.
func (s *Store) PostsByUser(ctx context.Context, userID string) ([]model.Post, error) {
	return s.queryPosts(ctx, `SELECT `+postColumns+` FROM posts WHERE user_id = $1 ORDER BY created_at DESC, id`, userID)
}

// AllPosts lists every post, newest first.
func (s *Store) AllPosts(ctx context.Context) ([]model.Post, error) {
	return s.queryPosts(ctx, `SELECT `+postColumns+` FROM posts ORDER BY created_at DESC, id`)
}

func (s *Store) queryPosts(ctx context.Context, query string, args ...interface{}) ([]model.Post, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var out []model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddLike records userID liking postID. Liking twice returns ErrDuplicate;
// an unknown post returns ErrNotFound.
func (s *Store) AddLike(ctx context.Context, userID, postID string) (model.Like, error) {
	if _, err := s.PostByID(ctx, postID); err != nil {
		return model.Like{}, err
	}
	l := model.Like{ID: newID(), UserID: userID, PostID: postID, CreatedAt: s.now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO likes (id, user_id, post_id, created_at) VALUES ($1, $2, $3, $4)`,
		l.ID, l.UserID, l.PostID, l.CreatedAt)
	if err != nil {
		return model.Like{}, fmt.Errorf("add like: %w", translate(err))
	}
	return l, nil
}

// RemoveLike deletes the like and returns it.
func (s *Store) RemoveLike(ctx context.Context, userID, postID string) (model.Like, error) {
	var l model.Like
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, post_id, created_at FROM likes WHERE user_id = $1 AND post_id = $2`,
		userID, postID).Scan(&l.ID, &l.UserID, &l.PostID, &l.CreatedAt)
	if err != nil {
		return model.Like{}, translate(err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM likes WHERE id = $1`, l.ID)
	if err != nil {
		return model.Like{}, fmt.Errorf("remove like: %w", err)
	}
	if err := affectedOne(res); err != nil {
		return model.Like{}, err
	}
	return l, nil
}

func (s *Store) LikesByUser(ctx context.Context, userID string) ([]model.Like, error) {
	return s.queryLikes(ctx, `SELECT id, user_id, post_id, created_at FROM likes WHERE user_id = $1 ORDER BY created_at`, userID)
}

func (s *Store) LikesByPost(ctx context.Context, postID string) ([]model.Like, error) {
	return s.queryLikes(ctx, `SELECT id, user_id, post_id, created_at FROM likes WHERE post_id = $1 ORDER BY created_at`, postID)
}

func (s *Store) queryLikes(ctx context.Context, query string, args ...interface{}) ([]model.Like, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query likes: %w", err)
	}
	defer rows.Close()

	var out []model.Like
	for rows.Next() {
		var l model.Like
		if err := rows.Scan(&l.ID, &l.UserID, &l.PostID, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const commentColumns = `id, user_id, post_id, text, created_at`

func scanComment(row rowScanner) (model.Comment, error) {
	var c model.Comment
	err := row.Scan(&c.ID, &c.UserID, &c.PostID, &c.Text, &c.CreatedAt)
	return c, err
}

func (s *Store) AddComment(ctx context.Context, userID, postID, text string) (model.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Comment{}, ErrInvalid
	}
	if _, err := s.PostByID(ctx, postID); err != nil {
		return model.Comment{}, err
	}
	c := model.Comment{ID: newID(), UserID: userID, PostID: postID, Text: text, CreatedAt: s.now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO comments (id, user_id, post_id, text, created_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.UserID, c.PostID, c.Text, c.CreatedAt)
	if err != nil {
		return model.Comment{}, fmt.Errorf("add comment: %w", translate(err))
	}
	return c, nil
}

func (s *Store) CommentByID(ctx context.Context, id string) (model.Comment, error) {
	c, err := scanComment(s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = $1`, id))
	if err != nil {
		return model.Comment{}, translate(err)
	}
	return c, nil
}

func (s *Store) UpdateComment(ctx context.Context, id, text string) (model.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Comment{}, ErrInvalid
	}
	res, err := s.db.ExecContext(ctx, `UPDATE comments SET text = $1 WHERE id = $2`, text, id)
	if err != nil {
		return model.Comment{}, fmt.Errorf("update comment: %w", err)
	}
	if err := affectedOne(res); err != nil {
		return model.Comment{}, err
	}
	return s.CommentByID(ctx, id)
}

func (s *Store) DeleteComment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return affectedOne(res)
}

// CommentsByPost lists comments oldest first.
func (s *Store) CommentsByPost(ctx context.Context, postID string) ([]model.Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE post_id = $1 ORDER BY created_at, id`, postID)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	var out []model.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
