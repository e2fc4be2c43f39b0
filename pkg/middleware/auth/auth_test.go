package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/cart_recovery/pkg/session"
	"github.com/Skotchmaster/cart_recovery/pkg/tokens"
)

var secret = []byte("test-jwt-secret")

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := tokens.NewAccessToken("user-1", role, time.Now().Add(time.Hour), secret)
	require.NoError(t, err)
	return tok
}

func serve(h echo.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	e := echo.New()
	e.GET("/", h)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequireAdmin(t *testing.T) {
	m := NewAuthenticator(secret)
	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "no token", want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "user role", header: "Bearer " + token(t, "user"), want: http.StatusForbidden},
		{name: "admin", header: "Bearer " + token(t, "admin"), want: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := serve(m.RequireAdmin(ok), req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestOptional_LinksCustomerToSession(t *testing.T) {
	m := NewAuthenticator(secret)

	var got session.Context
	h := func(c echo.Context) error {
		got, _ = session.FromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: token(t, "user")})
	req = req.WithContext(session.IntoContext(req.Context(), session.Context{ID: "s1"}))

	rec := serve(m.Optional(h), req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, "user-1", got.CustomerID)
	assert.True(t, got.Authenticated())
}
