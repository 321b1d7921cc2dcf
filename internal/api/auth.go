package api

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// withTenantAuth validates a bearer/cookie JWT and binds its subject claim
// as the request's tenant_id, then requires it match the :tenant_id path
// param. Generalizes runtime.EchoAuthMiddleware's subject-extraction
// pattern: the teacher authenticates a user, C5 authenticates a tenant, but
// the token shape and validation steps are the same.
func withTenantAuth(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tok := extractToken(c)
			if tok == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
			}
			parsed, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) { return secret, nil })
			if err != nil || !parsed.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			claims, ok := parsed.Claims.(jwt.MapClaims)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			sub, ok := claims["sub"].(string)
			if !ok || sub == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if pathTenant := c.Param("tenant_id"); pathTenant != "" && pathTenant != sub {
				return echo.NewHTTPError(http.StatusForbidden, "token tenant does not match path tenant")
			}
			c.Set("tenant_id", sub)
			return next(c)
		}
	}
}

func extractToken(c echo.Context) string {
	if h := c.Request().Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return h[7:]
	}
	if ck, err := c.Cookie("tenant_auth"); err == nil {
		return ck.Value
	}
	return ""
}
