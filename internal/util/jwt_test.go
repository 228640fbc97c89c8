package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJWTManagerGenerateAndParse(t *testing.T) {
	manager := NewJWTManager("top-secret", time.Minute)

	token, expiresAt, err := manager.Generate("staff-42", "staff@example.com")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if token == "" {
		t.Fatalf("expected token to be non-empty")
	}
	if expiresAt.Before(time.Now()) {
		t.Fatalf("expected expiry in the future")
	}

	claims, err := manager.Parse(token)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if claims.Owner() != "staff-42" {
		t.Fatalf("expected owner staff-42, got %q", claims.Owner())
	}
	if claims.Email != "staff@example.com" {
		t.Fatalf("expected email claim, got %q", claims.Email)
	}
}

func TestJWTManagerParseExpiredToken(t *testing.T) {
	manager := NewJWTManager("secret", -time.Minute)
	token, _, err := manager.Generate("staff-1", "user@example.com")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	if _, err := manager.Parse(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestJWTManagerRejectsWrongSecret(t *testing.T) {
	token, _, err := NewJWTManager("one", time.Minute).Generate("staff-1", "")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if _, err := NewJWTManager("two", time.Minute).Parse(token); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestInspectTokenSkipsSignature(t *testing.T) {
	token, _, err := NewJWTManager("unknown-to-console", time.Minute).Generate("", "staff@example.com")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	claims, err := InspectToken(token)
	if err != nil {
		t.Fatalf("InspectToken returned error: %v", err)
	}
	if claims.Owner() != "staff@example.com" {
		t.Fatalf("expected email fallback owner, got %q", claims.Owner())
	}
}

func TestBearerTokenFailsFastWhenExpired(t *testing.T) {
	raw, expiresAt, err := NewJWTManager("s", time.Minute).Generate("staff-1", "")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	src := NewBearerToken(raw)
	if got, err := src.Token(context.Background()); err != nil || got != raw {
		t.Fatalf("expected raw token, got %q, %v", got, err)
	}

	src.now = func() time.Time { return expiresAt.Add(time.Second) }
	if _, err := src.Token(context.Background()); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestBearerTokenOpaqueAndMissing(t *testing.T) {
	if got, err := NewBearerToken(" opaque-token ").Token(context.Background()); err != nil || got != "opaque-token" {
		t.Fatalf("expected opaque token, got %q, %v", got, err)
	}
	if _, err := NewBearerToken("").Token(context.Background()); !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("expected ErrTokenMissing, got %v", err)
	}
}

func TestSwappableTokenKeepsLatest(t *testing.T) {
	tokens := NewSwappableToken("first")

	got, err := tokens.Token(context.Background())
	if err != nil || got != "first" {
		t.Fatalf("expected first token, got %q (%v)", got, err)
	}

	tokens.Set("  ")
	if got, _ := tokens.Token(context.Background()); got != "first" {
		t.Fatalf("blank token must not replace the current one, got %q", got)
	}

	tokens.Set("second")
	if got, _ := tokens.Token(context.Background()); got != "second" {
		t.Fatalf("expected second token, got %q", got)
	}
}
