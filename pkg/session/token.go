// Package session issues and verifies the signed session tokens that
// authorize a deletion.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer   = "glass-erp/deleteflow"
	audience = "deleteflow"
)

// ErrMissingToken is returned when the caller presents no token.
var ErrMissingToken = errors.New("session token missing")

// Claims identifies the user a session token was issued to.
type Claims struct {
	jwt.RegisteredClaims
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// TokenManager signs and validates HS256 session tokens.
type TokenManager struct {
	secret []byte
	now    func() time.Time
}

// NewTokenManager returns a manager for secret. The secret must not be empty.
func NewTokenManager(secret []byte) (*TokenManager, error) {
	if len(secret) == 0 {
		return nil, errors.New("session secret is required")
	}
	return &TokenManager{secret: secret, now: time.Now}, nil
}

// GenerateToken creates a signed token for userID valid for duration.
func (tm *TokenManager) GenerateToken(userID string, roles, permissions []string, duration time.Duration) (string, error) {
	now := tm.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
		},
		Roles:       roles,
		Permissions: permissions,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a token string.
func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenSignatureInvalid
}

// Verify reports whether tokenString is a valid, unexpired session token.
func (tm *TokenManager) Verify(_ context.Context, tokenString string) error {
	_, err := tm.ValidateToken(tokenString)
	return err
}
