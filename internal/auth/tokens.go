package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrUnauthenticated covers every absent, malformed, expired or revoked
// credential. Callers never learn which.
var ErrUnauthenticated = errors.New("unauthenticated")

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

// TokenService validates credentials and resolves them to a user id.
type TokenService interface {
	ValidateAccess(token string) (string, error)
	ValidateRefresh(token string) (string, error)
}

// Pair is what login, registration and refresh hand back to a client.
type Pair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type claims struct {
	jwt.RegisteredClaims
	Username string `json:"usr,omitempty"`
	Kind     string `json:"typ"`
}

// JWTService issues and validates HS256 access and refresh tokens signed
// with separate secrets.
type JWTService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewJWTService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *JWTService {
	return &JWTService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

func (s *JWTService) Issue(userID, username string) (Pair, error) {
	now := s.now()
	access, accessExp, err := s.sign(userID, username, kindAccess, s.accessSecret, now, s.accessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshExp, err := s.sign(userID, username, kindRefresh, s.refreshSecret, now, s.refreshTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *JWTService) sign(userID, username, kind string, secret []byte, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Username: username,
		Kind:     kind,
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, exp, nil
}

func (s *JWTService) ValidateAccess(token string) (string, error) {
	return s.validate(token, kindAccess, s.accessSecret)
}

func (s *JWTService) ValidateRefresh(token string) (string, error) {
	return s.validate(token, kindRefresh, s.refreshSecret)
}

func (s *JWTService) validate(token, kind string, secret []byte) (string, error) {
	if token == "" {
		return "", ErrUnauthenticated
	}
	c := &claims{}
	parsed, err := jwt.ParseWithClaims(token, c,
		func(*jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return "", ErrUnauthenticated
	}
	if c.Kind != kind || c.Subject == "" {
		return "", ErrUnauthenticated
	}
	return c.Subject, nil
}
