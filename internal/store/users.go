package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/orbit-social/backend/internal/model"
)

const userColumns = `id, email, username, full_name, password_hash, is_online, created_at`

func scanUser(row rowScanner) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.FullName, &u.PasswordHash, &u.IsOnline, &u.CreatedAt)
	return u, err
}

// CreateUser inserts u with a fresh id. Email and username are unique;
// a clash returns ErrDuplicate.
func (s *Store) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	u.Email = strings.TrimSpace(strings.ToLower(u.Email))
	u.Username = strings.TrimSpace(u.Username)
	if u.Email == "" || u.Username == "" || u.PasswordHash == "" {
		return model.User{}, ErrInvalid
	}
	u.ID = newID()
	u.IsOnline = false
	u.CreatedAt = s.now()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (id, email, username, full_name, password_hash, is_online, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.Username, u.FullName, u.PasswordHash, u.IsOnline, u.CreatedAt)
	if err != nil {
		return model.User{}, fmt.Errorf("create user: %w", translate(err))
	}
	return u, nil
}

func (s *Store) UserByID(ctx context.Context, id string) (model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return model.User{}, translate(err)
	}
	return u, nil
}

// UserByLogin finds a user by email or username.
func (s *Store) UserByLogin(ctx context.Context, login string) (model.User, error) {
	login = strings.TrimSpace(login)
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1 OR username = $2`,
		strings.ToLower(login), login))
	if err != nil {
		return model.User{}, translate(err)
	}
	return u, nil
}

// SetOnline persists the user's online flag.
func (s *Store) SetOnline(ctx context.Context, userID string, online bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_online = $1 WHERE id = $2`, online, userID)
	if err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	return affectedOne(res)
}

// ResetOnline clears every online flag. Run at startup, when no socket can
// be connected yet.
func (s *Store) ResetOnline(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_online = $1 WHERE is_online = $2`, false, true)
	if err != nil {
		return 0, fmt.Errorf("reset online: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
