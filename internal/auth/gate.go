package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/orbit-social/backend/internal/store"
)

// RefreshTokens looks up a stored refresh token. It returns
// store.ErrNotFound when the token was never issued or has been revoked.
type RefreshTokens interface {
	FindRefreshToken(ctx context.Context, token string) (string, error)
}

// Gate resolves credentials presented on the real-time transport to a user
// id. It accepts an access token, or a refresh token that is still on file
// (clients may hold only the refresh cookie).
type Gate struct {
	tokens  TokenService
	refresh RefreshTokens
}

func NewGate(tokens TokenService, refresh RefreshTokens) *Gate {
	return &Gate{tokens: tokens, refresh: refresh}
}

// AuthenticateOnConnect validates the credential presented at handshake.
func (g *Gate) AuthenticateOnConnect(ctx context.Context, credential string) (string, error) {
	return g.authenticate(ctx, credential)
}

// AuthenticateOnEvent validates a credential carried by an individual
// inbound event, which may be fresher than the handshake one.
func (g *Gate) AuthenticateOnEvent(ctx context.Context, credential string) (string, error) {
	return g.authenticate(ctx, credential)
}

func (g *Gate) authenticate(ctx context.Context, credential string) (string, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(credential), "Bearer "))
	if credential == "" {
		return "", ErrUnauthenticated
	}

	if userID, err := g.tokens.ValidateAccess(credential); err == nil {
		return userID, nil
	}

	userID, err := g.tokens.ValidateRefresh(credential)
	if err != nil {
		return "", ErrUnauthenticated
	}
	if g.refresh == nil {
		return userID, nil
	}

	owner, err := g.refresh.FindRefreshToken(ctx, credential)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrUnauthenticated
	}
	if err != nil {
		return "", fmt.Errorf("lookup refresh token: %w", err)
	}
	if owner != userID {
		return "", ErrUnauthenticated
	}
	return userID, nil
}
