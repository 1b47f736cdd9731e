package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/orbit-social/backend/internal/model"
)

// pairKey identifies the private chat between two users regardless of order.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

func uniqueMembers(members []string) []string {
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// CreateChat creates a chat and its membership. A private chat has exactly
// two members and at most one exists per pair; a second one returns
// ErrDuplicate.
func (s *Store) CreateChat(ctx context.Context, role model.ChatRole, title string, members []string) (model.Chat, error) {
	if !role.Valid() {
		return model.Chat{}, ErrInvalid
	}
	members = uniqueMembers(members)
	var key sql.NullString
	switch role {
	case model.ChatPrivate:
		if len(members) != 2 {
			return model.Chat{}, ErrInvalid
		}
		key = sql.NullString{String: pairKey(members[0], members[1]), Valid: true}
		title = ""
	case model.ChatGroup:
		if len(members) == 0 {
			return model.Chat{}, ErrInvalid
		}
		title = strings.TrimSpace(title)
	}

	c := model.Chat{ID: newID(), Title: title, Role: role, Members: members, CreatedAt: s.now()}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Chat{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chats (id, title, role, pair_key, created_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Title, string(c.Role), key, c.CreatedAt); err != nil {
		return model.Chat{}, fmt.Errorf("create chat: %w", translate(err))
	}
	for _, m := range members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2)`, c.ID, m); err != nil {
			return model.Chat{}, fmt.Errorf("add member %s: %w", m, translate(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Chat{}, err
	}
	return c, nil
}

func (s *Store) ChatByID(ctx context.Context, id string) (model.Chat, error) {
	var (
		c    model.Chat
		role string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, role, created_at FROM chats WHERE id = $1`, id).
		Scan(&c.ID, &c.Title, &role, &c.CreatedAt)
	if err != nil {
		return model.Chat{}, translate(err)
	}
	c.Role = model.ChatRole(role)
	c.Members, err = s.members(ctx, id)
	if err != nil {
		return model.Chat{}, err
	}
	return c, nil
}

// ChatMembers resolves the member ids of a chat.
func (s *Store) ChatMembers(ctx context.Context, chatID string) ([]string, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM chats WHERE id = $1`, chatID).Scan(&exists)
	if err != nil {
		return nil, translate(err)
	}
	return s.members(ctx, chatID)
}

func (s *Store) members(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM chat_members WHERE chat_id = $1 ORDER BY user_id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ChatsForUser lists the chats userID belongs to, newest first.
func (s *Store) ChatsForUser(ctx context.Context, userID string) ([]model.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT c.id, c.title, c.role, c.created_at
FROM chats c
JOIN chat_members m ON m.chat_id = c.id
WHERE m.user_id = $1
ORDER BY c.created_at DESC, c.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}

	var chats []model.Chat
	for rows.Next() {
		var (
			c    model.Chat
			role string
		)
		if err := rows.Scan(&c.ID, &c.Title, &role, &c.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		c.Role = model.ChatRole(role)
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range chats {
		if chats[i].Members, err = s.members(ctx, chats[i].ID); err != nil {
			return nil, err
		}
	}
	return chats, nil
}

// RenameChat sets the title of a group chat. Private chats have no title.
func (s *Store) RenameChat(ctx context.Context, id, title string) (model.Chat, error) {
	c, err := s.ChatByID(ctx, id)
	if err != nil {
		return model.Chat{}, err
	}
	if c.Role != model.ChatGroup {
		return model.Chat{}, ErrInvalid
	}
	c.Title = strings.TrimSpace(title)
	if _, err := s.db.ExecContext(ctx, `UPDATE chats SET title = $1 WHERE id = $2`, c.Title, id); err != nil {
		return model.Chat{}, fmt.Errorf("rename chat: %w", err)
	}
	return c, nil
}

// DeleteChat removes the chat with its members and messages.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM messages WHERE chat_id = $1`,
		`DELETE FROM chat_members WHERE chat_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete chat %s: %w", id, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete chat %s: %w", id, err)
	}
	if err := affectedOne(res); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendMessage persists a chat message with a fresh id and timestamp.
func (s *Store) AppendMessage(ctx context.Context, m model.Message) (model.Message, error) {
	m.Body = strings.TrimSpace(m.Body)
	if m.ChatID == "" || m.UserID == "" || m.Body == "" {
		return model.Message{}, ErrInvalid
	}
	m.ID = newID()
	m.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, user_id, body, created_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ChatID, m.UserID, m.Body, m.CreatedAt)
	if err != nil {
		return model.Message{}, fmt.Errorf("append message: %w", translate(err))
	}
	return m, nil
}

// MessagesByChat returns up to limit of the most recent messages, oldest
// first. A non-positive limit returns all of them.
func (s *Store) MessagesByChat(ctx context.Context, chatID string, limit int) ([]model.Message, error) {
	query := `SELECT id, chat_id, user_id, body, created_at FROM messages WHERE chat_id = $1 ORDER BY created_at DESC, id DESC`
	args := []interface{}{chatID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
