// Package auth signs session cookies, hashes passwords and attaches the
// visitor's identity to each request.
//
// SESSION COOKIE FLOW:
//  1. POST /api/login verifies the password and creates a session row
//  2. The session id (a random UUID) is wrapped in a signed JWT and set as
//     the HttpOnly "session" cookie
//  3. On every request the Sessions middleware validates the JWT, looks the
//     session id up in the store and puts the user id in the context
//
// The JWT only proves the cookie was issued by this server. The session row
// is what binds it to a user, so dropping the row logs the user out even
// while the cookie is still unexpired.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionLifetime is how long a session cookie stays valid.
const SessionLifetime = 30 * 24 * time.Hour

const issuer = "threadboard"

// MinSecretLength is the shortest accepted signing key.
const MinSecretLength = 32

// TokenService signs and validates session cookies.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given HMAC key.
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: session key must be at least %d characters", MinSecretLength)
	}
	return &TokenService{secret: []byte(secret)}, nil
}

type claims struct {
	jwt.RegisteredClaims
}

// Generate signs a cookie value for sessionID valid for SessionLifetime.
func (s *TokenService) Generate(sessionID uuid.UUID) (string, error) {
	return s.GenerateWithDuration(sessionID, SessionLifetime)
}

// GenerateWithDuration signs a cookie value with a custom lifetime.
// Used in tests to mint already-expired tokens.
func (s *TokenService) GenerateWithDuration(sessionID uuid.UUID, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate verifies a cookie value and returns the session id inside it.
//
// Rejects tokens that are expired, signed with another key or algorithm,
// issued by someone else, or whose subject is not a UUID.
func (s *TokenService) Validate(tokenStr string) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, fmt.Errorf("auth: token expired")
		}
		return uuid.Nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return uuid.Nil, fmt.Errorf("auth: invalid token claims")
	}

	sessionID, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("auth: token subject is not a session id: %w", err)
	}

	return sessionID, nil
}
