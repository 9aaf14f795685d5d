package auth

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)

	token, err := m.GenerateToken("u1", "Alice", "s1", "en", "ko")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != "u1" || claims.UserName != "Alice" || claims.SessionID != "s1" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
	if claims.SourceLang != "en" || claims.TargetLang != "ko" {
		t.Fatalf("language claims mismatch: %+v", claims)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	m := NewJWTManager("secret-a", time.Hour)
	other := NewJWTManager("secret-b", time.Hour)

	token, err := m.GenerateToken("u1", "Alice", "s1", "en", "ko")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.ValidateToken(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	m := NewJWTManager("test-secret", -time.Minute)

	token, err := m.GenerateToken("u1", "Alice", "s1", "en", "ko")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.ValidateToken(token); err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	if _, err := m.ValidateToken("not-a-token"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
