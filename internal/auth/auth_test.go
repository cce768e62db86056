package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "user-1"}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestSession_Token(t *testing.T) {
	token := signedToken(t, time.Now().Add(time.Hour))

	s, err := NewSession(token)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	got, err := s.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if got != token {
		t.Error("Token returned a different token")
	}
	if s.ExpiresAt().IsZero() {
		t.Error("ExpiresAt is zero for a token with exp")
	}
}

func TestSession_Expired(t *testing.T) {
	s, err := NewSession(signedToken(t, time.Now().Add(-time.Minute)))
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if _, err := s.Token(context.Background()); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("err = %v, want ErrSessionExpired", err)
	}
}

func TestSession_ExpiresWithClock(t *testing.T) {
	exp := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	s, err := NewSession(signedToken(t, exp))
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	s.now = func() time.Time { return exp.Add(-time.Minute) }
	if _, err := s.Token(context.Background()); err != nil {
		t.Errorf("Token before expiry failed: %v", err)
	}

	// Inside the leeway window.
	s.now = func() time.Time { return exp.Add(-2 * time.Second) }
	if _, err := s.Token(context.Background()); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("err = %v, want ErrSessionExpired", err)
	}
}

func TestSession_NoSession(t *testing.T) {
	s, err := NewSession("")
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if _, err := s.Token(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}

	if err := s.Set("opaque-token"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got, _ := s.Token(context.Background()); got != "opaque-token" {
		t.Errorf("Token = %q, want opaque-token", got)
	}

	s.Clear()
	if _, err := s.Token(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("after Clear err = %v, want ErrNoSession", err)
	}
}

func TestSession_JWTWithoutExp(t *testing.T) {
	s, err := NewSession(signedToken(t, time.Time{}))
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if !s.ExpiresAt().IsZero() {
		t.Error("ExpiresAt should be zero without exp claim")
	}
}

func TestSession_MalformedJWT(t *testing.T) {
	if _, err := NewSession("aaa.bbb.ccc"); err == nil {
		t.Error("expected error for malformed jwt")
	}
}

func TestSession_CanceledContext(t *testing.T) {
	s, _ := NewSession("opaque")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Token(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestLoadSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  opaque-token\n"), 0600); err != nil {
		t.Fatalf("write token: %v", err)
	}

	s, err := LoadSession(path)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if got, _ := s.Token(context.Background()); got != "opaque-token" {
		t.Errorf("Token = %q, want opaque-token", got)
	}

	if _, err := LoadSession(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}
