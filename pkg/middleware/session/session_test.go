package sessionmw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/cart_recovery/pkg/session"
)

func run(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, session.Context) {
	t.Helper()

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got session.Context
	h := Resolve()(func(c echo.Context) error {
		got = From(c)
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, h(c))
	return rec, got
}

func TestResolve_UsesHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(session.HeaderName, "s1")

	rec, got := run(t, req)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, "s1", rec.Header().Get(session.HeaderName))
	assert.Empty(t, rec.Header().Get("Set-Cookie"))
}

func TestResolve_FallsBackToCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "from-cookie"})

	_, got := run(t, req)
	assert.Equal(t, "from-cookie", got.ID)
}

func TestResolve_MintsWhenMissingOrMalformed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(session.HeaderName, "not valid!")

	rec, got := run(t, req)
	require.True(t, session.Valid(got.ID))
	assert.NotEqual(t, "not valid!", got.ID)
	assert.Equal(t, got.ID, rec.Header().Get(session.HeaderName))
	assert.Contains(t, rec.Header().Get("Set-Cookie"), session.CookieName+"="+got.ID)
}
