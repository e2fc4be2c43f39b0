package sessionmw

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/cart_recovery/pkg/logging"
	"github.com/Skotchmaster/cart_recovery/pkg/session"
)

const cookieMaxAge = 90 * 24 * time.Hour

// Resolve attaches a session.Context to every request. The id is taken from
// the X-Session-ID header, then the session cookie; a new one is minted when
// neither holds a well-formed id.
func Resolve() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			id := req.Header.Get(session.HeaderName)
			if !session.Valid(id) {
				id = ""
				if ck, err := c.Cookie(session.CookieName); err == nil && session.Valid(ck.Value) {
					id = ck.Value
				}
			}

			var sess session.Context
			if id == "" {
				sess = session.Mint()
				c.SetCookie(&http.Cookie{
					Name:     session.CookieName,
					Value:    sess.ID,
					Path:     "/",
					MaxAge:   int(cookieMaxAge.Seconds()),
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			} else {
				sess = session.Context{ID: id}
			}
			c.Response().Header().Set(session.HeaderName, sess.ID)

			ctx := session.IntoContext(req.Context(), sess)
			ctx = logging.IntoContext(ctx, logging.FromContext(ctx).With("session_id", sess.ID))
			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}

// From returns the session resolved for this request.
func From(c echo.Context) session.Context {
	if s, ok := session.FromContext(c.Request().Context()); ok {
		return s
	}
	return session.Context{}
}
