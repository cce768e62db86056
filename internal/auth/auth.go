// Package auth holds the bearer session sent with every REST and socket call.
//
// The client never logs in itself; it is handed a token (config or file).
// JWT tokens are inspected for their exp claim so an expired session fails
// fast, before any request is issued. Opaque tokens never expire locally.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Errors
var (
	ErrNoSession      = errors.New("no session")
	ErrSessionExpired = errors.New("session expired")
)

// TokenSource yields the bearer token for the next call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Session is a TokenSource backed by a single replaceable token.
type Session struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time // Zero when the token carries no expiry

	// Leeway treats tokens about to expire as already expired.
	leeway time.Duration
	now    func() time.Time
}

// NewSession creates a session. An empty token yields a session that fails
// with ErrNoSession until Set is called.
func NewSession(token string) (*Session, error) {
	s := &Session{
		leeway: 5 * time.Second,
		now:    time.Now,
	}
	if token == "" {
		return s, nil
	}
	if err := s.Set(token); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadSession reads a token from a file.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	return NewSession(strings.TrimSpace(string(data)))
}

// Set replaces the token.
func (s *Session) Set(token string) error {
	expiresAt, err := expiryOf(token)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.token = token
	s.expiresAt = expiresAt
	s.mu.Unlock()
	return nil
}

// Clear drops the token; subsequent calls fail with ErrNoSession.
func (s *Session) Clear() {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

// ExpiresAt returns the token expiry, zero if unknown.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Token returns the current token or ErrNoSession / ErrSessionExpired.
func (s *Session) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" {
		return "", ErrNoSession
	}
	if !s.expiresAt.IsZero() && !s.now().Add(s.leeway).Before(s.expiresAt) {
		return "", ErrSessionExpired
	}
	return s.token, nil
}

// expiryOf reads the exp claim of a JWT without verifying it; the backend
// verifies. Tokens that are not three dot-separated segments are opaque.
func expiryOf(token string) (time.Time, error) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, nil
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse session token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}
