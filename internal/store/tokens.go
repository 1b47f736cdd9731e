package store

import (
	"context"
	"fmt"
	"time"
)

// SaveRefreshToken stores token as the user's only refresh token, replacing
// any earlier one.
func (s *Store) SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO refresh_tokens (user_id, token, expires_at, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE SET
  token = excluded.token,
  expires_at = excluded.expires_at,
  created_at = excluded.created_at`,
		userID, token, expiresAt.UTC(), s.now())
	if err != nil {
		return fmt.Errorf("save refresh token: %w", translate(err))
	}
	return nil
}

// FindRefreshToken returns the owner of an unexpired stored token.
func (s *Store) FindRefreshToken(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM refresh_tokens WHERE token = $1 AND expires_at > $2`,
		token, s.now()).Scan(&userID)
	if err != nil {
		return "", translate(err)
	}
	return userID, nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return affectedOne(res)
}
