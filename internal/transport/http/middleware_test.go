package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/njprem/Visitor_Invite_Console/internal/util"
)

func serveWithBearer(verifier *util.JWTManager, header string) (*httptest.ResponseRecorder, string) {
	e := echo.New()
	var owner string
	e.GET("/me", func(c echo.Context) error {
		owner, _ = CurrentOwner(c)
		return c.String(http.StatusOK, currentToken(c))
	}, RequireBearer(verifier))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, owner
}

func unsignedToken(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("job-service-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestRequireBearerRejectsBadHeaders(t *testing.T) {
	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer"} {
		rec, _ := serveWithBearer(nil, header)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
}

func TestRequireBearerVerifiesSignature(t *testing.T) {
	verifier := util.NewJWTManager("console-secret", time.Hour)
	token, _, err := verifier.Generate("user-9", "user9@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	rec, owner := serveWithBearer(verifier, "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if owner != "user-9" || rec.Body.String() != token {
		t.Fatalf("unexpected owner %q or token %q", owner, rec.Body.String())
	}

	forged := unsignedToken(t, util.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-9"}})
	if rec, _ := serveWithBearer(verifier, "Bearer "+forged); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a token signed with another key, got %d", rec.Code)
	}
}

func TestRequireBearerInspectsWithoutVerifier(t *testing.T) {
	token := unsignedToken(t, util.Claims{
		Email: "planner@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	rec, owner := serveWithBearer(nil, "bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if owner != "planner@example.com" {
		t.Fatalf("expected owner from email claim, got %q", owner)
	}

	expired := unsignedToken(t, util.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	if rec, _ := serveWithBearer(nil, "Bearer "+expired); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an expired token, got %d", rec.Code)
	}

	anonymous := unsignedToken(t, util.Claims{})
	if rec, _ := serveWithBearer(nil, "Bearer "+anonymous); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a token without subject, got %d", rec.Code)
	}
}
