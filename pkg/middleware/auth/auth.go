package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/cart_recovery/pkg/session"
	"github.com/Skotchmaster/cart_recovery/pkg/tokens"
)

const accessCookie = "accessToken"

// Authenticator verifies access tokens issued by the auth service. It never
// issues or refreshes tokens itself.
type Authenticator struct {
	JWTSecret []byte
}

func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{JWTSecret: secret}
}

type ValidatorFunc func(claims *tokens.AccessClaims) error

// Optional links a valid access token to the request session. Anonymous
// requests and bad tokens pass through unchanged.
func (m *Authenticator) Optional(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if claims, err := m.claims(c); err == nil {
			setUserContext(c, claims)
		}
		return next(c)
	}
}

func (m *Authenticator) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return m.require(next, func(claims *tokens.AccessClaims) error {
		if claims.Role != "admin" {
			return echo.NewHTTPError(http.StatusForbidden, "admin access required")
		}
		return nil
	})
}

func (m *Authenticator) require(next echo.HandlerFunc, validator ValidatorFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, err := m.claims(c)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
		}
		if validator != nil {
			if vErr := validator(claims); vErr != nil {
				return vErr
			}
		}
		setUserContext(c, claims)
		return next(c)
	}
}

func (m *Authenticator) claims(c echo.Context) (*tokens.AccessClaims, error) {
	raw := bearer(c.Request().Header.Get(echo.HeaderAuthorization))
	if raw == "" {
		if ck, err := c.Cookie(accessCookie); err == nil {
			raw = ck.Value
		}
	}
	if raw == "" || len(m.JWTSecret) == 0 {
		return nil, tokens.ErrInvalidToken
	}
	return tokens.AccessClaimsFromToken(raw, m.JWTSecret)
}

func bearer(h string) string {
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func setUserContext(c echo.Context, claims *tokens.AccessClaims) {
	c.Set("user_id", claims.Subject)
	c.Set("role", claims.Role)
	c.Set("email", claims.Email)
	c.Set("name", claims.Name)

	req := c.Request()
	sess, _ := session.FromContext(req.Context())
	sess.CustomerID = claims.Subject
	sess.Role = claims.Role
	c.SetRequest(req.WithContext(session.IntoContext(req.Context(), sess)))
}
