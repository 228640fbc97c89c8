package util

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenMissing = errors.New("bearer token missing")
	ErrTokenExpired = errors.New("bearer token expired")
)

// Claims is the subset of the Job Service access token the console reads.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Owner identifies the dashboard user a token belongs to.
func (c *Claims) Owner() string {
	if c == nil {
		return ""
	}
	if sub := strings.TrimSpace(c.Subject); sub != "" {
		return sub
	}
	return strings.TrimSpace(c.Email)
}

type JWTManager struct {
	secret []byte
	ttl    time.Duration
}

func NewJWTManager(secret string, ttl time.Duration) *JWTManager {
	return &JWTManager{secret: []byte(secret), ttl: ttl}
}

func (m *JWTManager) Generate(subject, email string) (string, time.Time, error) {
	expiresAt := time.Now().Add(m.ttl)
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (m *JWTManager) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// InspectToken decodes claims without verifying the signature. The Job
// Service remains the authority; this only lets the console fail fast on an
// expired token and attribute sessions to their owner.
func InspectToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// TokenSource supplies the bearer token for outgoing Job Service calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// BearerToken is a fixed token handed over by the dashboard user.
type BearerToken struct {
	raw       string
	expiresAt time.Time
	now       func() time.Time
}

// NewBearerToken accepts opaque tokens as well as JWTs; only JWTs get an
// expiry check.
func NewBearerToken(raw string) *BearerToken {
	raw = strings.TrimSpace(raw)
	b := &BearerToken{raw: raw, now: time.Now}
	if claims, err := InspectToken(raw); err == nil && claims.ExpiresAt != nil {
		b.expiresAt = claims.ExpiresAt.Time
	}
	return b
}

func (b *BearerToken) Token(ctx context.Context) (string, error) {
	if b == nil || b.raw == "" {
		return "", ErrTokenMissing
	}
	if !b.expiresAt.IsZero() && b.now().After(b.expiresAt) {
		return "", ErrTokenExpired
	}
	return b.raw, nil
}

func (b *BearerToken) ExpiresAt() time.Time {
	return b.expiresAt
}

// SwappableToken lets a long-lived session pick up the token of the latest
// request from the same user.
type SwappableToken struct {
	mu      sync.RWMutex
	current *BearerToken
}

func NewSwappableToken(raw string) *SwappableToken {
	return &SwappableToken{current: NewBearerToken(raw)}
}

func (s *SwappableToken) Set(raw string) {
	if strings.TrimSpace(raw) == "" {
		return
	}
	next := NewBearerToken(raw)
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
}

func (s *SwappableToken) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()
	return current.Token(ctx)
}
