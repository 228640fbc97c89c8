package http

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/njprem/Visitor_Invite_Console/internal/util"
)

const (
	contextOwnerKey = "owner"
	contextTokenKey = "token"
)

// RequireBearer accepts the dashboard user's Job Service token. With a
// verifier the signature is checked; otherwise the token is only decoded so
// sessions can be attributed and expired tokens rejected early.
func RequireBearer(verifier *util.JWTManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if strings.TrimSpace(authHeader) == "" {
				return c.JSON(http.StatusUnauthorized, util.Error("missing authorization header"))
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return c.JSON(http.StatusUnauthorized, util.Error("invalid authorization header"))
			}
			token := strings.TrimSpace(parts[1])
			if token == "" {
				return c.JSON(http.StatusUnauthorized, util.Error("invalid authorization header"))
			}

			claims, err := readClaims(verifier, token)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, util.Error(err.Error()))
			}
			owner := claims.Owner()
			if owner == "" {
				return c.JSON(http.StatusUnauthorized, util.Error("token does not identify a user"))
			}
			if _, err := util.NewBearerToken(token).Token(c.Request().Context()); err != nil {
				return c.JSON(http.StatusUnauthorized, util.Error(err.Error()))
			}

			c.Set(contextOwnerKey, owner)
			c.Set(contextTokenKey, token)
			return next(c)
		}
	}
}

func readClaims(verifier *util.JWTManager, token string) (*util.Claims, error) {
	if verifier != nil {
		return verifier.Parse(token)
	}
	return util.InspectToken(token)
}

func CurrentOwner(c echo.Context) (string, bool) {
	owner, ok := c.Get(contextOwnerKey).(string)
	return owner, ok && owner != ""
}

func currentToken(c echo.Context) string {
	token, _ := c.Get(contextTokenKey).(string)
	return token
}
