package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	middleware "github.com/Skotchmaster/cart_recovery/pkg/middleware/auth"
	"github.com/Skotchmaster/cart_recovery/pkg/session"
	"github.com/Skotchmaster/cart_recovery/pkg/tokens"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/cache"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/detector"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/notify"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/offer"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/recovery"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/repo"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/search"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/service"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/testutil"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/textgen"
)

var jwtSecret = []byte("access-secret")

type fixture struct {
	e     *echo.Echo
	repo  *repo.GormRepo
	clock *testutil.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	testutil.SeedProduct(t, db, 1, "Laptop", "250", "electronics")
	testutil.SeedProduct(t, db, 2, "Headphones", "50", "electronics")

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := testutil.NewClock()
	r := &repo.GormRepo{DB: db}
	rec := &testutil.Recorder{}
	carts := &service.CartService{Repo: r, Cache: cache.NewRedisCache(client, time.Minute), Events: rec, Now: clock.Now}
	popups := notify.NewPopup(client, time.Hour)

	rs := &recovery.Service{
		Repo:            r,
		Generator:       textgen.WithFallback(nil, 0),
		Notifier:        notify.NewDispatcher(1, 0).Register(models.ChannelPopup, popups),
		Carts:           carts,
		Events:          rec,
		Policy:          offer.DefaultPolicy(),
		Channels:        []models.Channel{models.ChannelEmail, models.ChannelPopup},
		DeliveryTimeout: time.Second,
		FollowUpStep:    decimal.NewFromInt(5),
		FollowUpCap:     decimal.NewFromInt(25),
		FrontendURL:     "http://shop.test",
		PublicBaseURL:   "http://api.test",
		TrackingSecret:  []byte("tracking-secret"),
		TrackingTTL:     time.Hour,
		Now:             clock.Now,
	}
	det := &detector.Detector{
		Repo:        r,
		Emitter:     rs,
		Carts:       carts,
		Events:      rec,
		Threshold:   30 * time.Minute,
		Batch:       10,
		Concurrency: 2,
		MaxAttempts: 3,
		Now:         clock.Now,
	}

	e := echo.New()
	Register(e, &Deps{
		Cart:     &CartHTTP{Svc: carts, Searcher: &search.Catalog{DB: db}},
		Events:   &EventsHTTP{Svc: &service.BehaviorService{Repo: r, Carts: carts, Events: rec, Policy: offer.DefaultPolicy(), Now: clock.Now}, PopupIdleSeconds: 30},
		Recovery: &RecoveryHTTP{Svc: rs, Popups: popups},
		Admin:    &AdminHTTP{Repo: r, Recovery: rs, Detector: det},
		Auth:     middleware.NewAuthenticator(jwtSecret),
	})
	return &fixture{e: e, repo: r, clock: clock}
}

type req struct {
	method, path string
	body         any
	session      string
	role         string
}

func (f *fixture) do(t *testing.T, r req) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	switch b := r.body.(type) {
	case nil:
		body = bytes.NewReader(nil)
	case string:
		body = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	hr := httptest.NewRequest(r.method, r.path, body)
	hr.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if r.session != "" {
		hr.Header.Set(session.HeaderName, r.session)
	}
	if r.role != "" {
		tok, err := tokens.NewAccessToken("user-"+r.role, r.role, time.Now().Add(time.Hour), jwtSecret)
		require.NoError(t, err)
		hr.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, hr)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func items(pairs ...int) map[string]any {
	list := make([]map[string]int, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		list = append(list, map[string]int{"product_id": pairs[i], "quantity": pairs[i+1]})
	}
	return map[string]any{"items": list}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, req{method: http.MethodGet, path: "/health/live"}).Code)
	assert.Equal(t, http.StatusOK, f.do(t, req{method: http.MethodGet, path: "/health/ready"}).Code)
}

func TestCart_ReplaceAndGet(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, req{method: http.MethodPut, path: "/api/v1/cart/items", session: "s1", body: items(1, 1, 2, 2)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "s1", rec.Header().Get(session.HeaderName))
	cart := decode[models.Cart](t, rec)
	assert.True(t, cart.Total.Equal(decimal.NewFromInt(350)))
	assert.Equal(t, 2, cart.ItemCount)

	rec = f.do(t, req{method: http.MethodGet, path: "/api/v1/cart", session: "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[models.Cart](t, rec)
	assert.Equal(t, cart.ID, got.ID)
	assert.True(t, got.Total.Equal(decimal.NewFromInt(350)))

	rec = f.do(t, req{method: http.MethodDelete, path: "/api/v1/cart/items", session: "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := decode[models.Cart](t, rec)
	assert.Equal(t, cart.ID, cleared.ID)
	assert.True(t, cleared.Total.IsZero())
}

func TestCart_MintsSessionWhenMissing(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, req{method: http.MethodGet, path: "/api/v1/cart"})
	require.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get(session.HeaderName)
	assert.True(t, session.Valid(id))
	assert.Contains(t, rec.Header().Get("Set-Cookie"), session.CookieName+"="+id)
}

func TestCart_UnknownProductIs422(t *testing.T) {
	f := newFixture(t)
	f.do(t, req{method: http.MethodPut, path: "/api/v1/cart/items", session: "s3", body: items(2, 1)})

	rec := f.do(t, req{method: http.MethodPut, path: "/api/v1/cart/items", session: "s3", body: items(9999, 1)})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.EqualValues(t, 9999, body["product_id"])

	cart := decode[models.Cart](t, f.do(t, req{method: http.MethodGet, path: "/api/v1/cart", session: "s3"}))
	assert.True(t, cart.Total.Equal(decimal.NewFromInt(50)))
}

func TestCart_MalformedBodyIs400(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, req{method: http.MethodPut, path: "/api/v1/cart/items", session: "s1", body: "{"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProducts(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, req{method: http.MethodGet, path: "/api/v1/products/1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Laptop", decode[models.Product](t, rec).Name)

	assert.Equal(t, http.StatusNotFound, f.do(t, req{method: http.MethodGet, path: "/api/v1/products/999"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, req{method: http.MethodGet, path: "/api/v1/products/abc"}).Code)

	rec = f.do(t, req{method: http.MethodGet, path: "/api/v1/products/search?q=lap"})
	require.Equal(t, http.StatusOK, rec.Code)
	found := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, found["total"])

	assert.Equal(t, http.StatusBadRequest, f.do(t, req{method: http.MethodGet, path: "/api/v1/products/search"}).Code)

	rec = f.do(t, req{method: http.MethodGet, path: "/api/v1/products?page=1&size=1"})
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string]any](t, rec)
	assert.EqualValues(t, 2, list["total"])
	assert.Len(t, list["items"], 1)
}

func TestEvents_ExitIntentReturnsPopupOffer(t *testing.T) {
	f := newFixture(t)
	f.do(t, req{method: http.MethodPut, path: "/api/v1/cart/items", session: "s1", body: items(1, 1)})

	rec := f.do(t, req{method: http.MethodPost, path: "/api/v1/events", session: "s1", body: map[string]any{"type": "exit_intent", "page_url": "/cart"}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	popup, ok := body["popup"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "percentage", popup["type"])
	assert.Equal(t, "15", popup["value"])

	rec = f.do(t, req{method: http.MethodPost, path: "/api/v1/events", session: "s1", body: map[string]any{"type": "page_view", "page_url": "/products/1"}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotContains(t, rec.Body.String(), "popup")

	rec = f.do(t, req{method: http.MethodPost, path: "/api/v1/events", session: "s1", body: map[string]any{"type": "scroll"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestClientConfig(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, req{method: http.MethodGet, path: "/api/v1/client-config"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.EqualValues(t, 30, body["popup_idle_seconds"])
	assert.Equal(t, session.HeaderName, body["session_header"])
}

func TestAdmin_RequiresAdminRole(t *testing.T) {
	f := newFixture(t)
	path := "/api/v1/admin/analytics/abandoned-carts"

	assert.Equal(t, http.StatusUnauthorized, f.do(t, req{method: http.MethodGet, path: path}).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, req{method: http.MethodGet, path: path, role: "user"}).Code)
	assert.Equal(t, http.StatusOK, f.do(t, req{method: http.MethodGet, path: path, role: "admin"}).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, req{method: http.MethodPost, path: "/api/v1/carts/1/recovery-email"}).Code)
}

func TestRecoveryFlow_PopupTrackingAndCheckout(t *testing.T) {
	f := newFixture(t)
	cart := decode[models.Cart](t, f.do(t, req{method: http.MethodPut, path: "/api/v1/cart/items", session: "s1", body: items(1, 1)}))

	f.clock.Advance(31 * time.Minute)
	rec := f.do(t, req{method: http.MethodPost, path: "/api/v1/admin/detector/run", role: "admin"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pass := decode[detector.PassResult](t, rec)
	assert.Equal(t, 1, pass.Abandoned)
	assert.Equal(t, 1, pass.Emitted)

	summary := decode[map[string]any](t, f.do(t, req{method: http.MethodGet, path: "/api/v1/admin/analytics/abandoned-carts", role: "admin"}))
	assert.EqualValues(t, 1, summary["total_abandoned"])
	assert.True(t, decimal.RequireFromString(summary["total_value"].(string)).Equal(decimal.NewFromInt(250)))

	rec = f.do(t, req{method: http.MethodGet, path: "/api/v1/recovery/popup", session: "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	popup := decode[notify.PopupPayload](t, rec)
	assert.True(t, popup.Offer.Value.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, http.StatusNoContent, f.do(t, req{method: http.MethodGet, path: "/api/v1/recovery/popup", session: "s1"}).Code)

	tok := strings.TrimPrefix(popup.ClickURL, "http://api.test/r/c/")
	require.NotEqual(t, popup.ClickURL, tok)

	rec = f.do(t, req{method: http.MethodGet, path: "/r/o/" + tok})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get(echo.HeaderContentType))

	rec = f.do(t, req{method: http.MethodGet, path: "/r/c/" + tok})
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "http://shop.test/checkout/"+strconv.Itoa(int(cart.ID)), rec.Header().Get(echo.HeaderLocation))

	rec = f.do(t, req{method: http.MethodPost, path: "/api/v1/recovery/accept", session: "s1", body: map[string]string{"token": tok}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "recovered", decode[map[string]any](t, rec)["cart_status"])

	attempts := decode[map[string]any](t, f.do(t, req{method: http.MethodGet, path: "/api/v1/admin/recovery-attempts?status=sent", role: "admin"}))
	require.EqualValues(t, 1, attempts["total"])
	first := attempts["items"].([]any)[0].(map[string]any)
	assert.Equal(t, true, first["opened"])
	assert.Equal(t, true, first["clicked"])
	assert.Equal(t, true, first["recovered"])

	rec = f.do(t, req{method: http.MethodPost, path: "/api/v1/cart/checkout", session: "s1", body: map[string]string{}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[models.Order](t, rec)
	assert.True(t, order.Discount.Equal(decimal.RequireFromString("37.5")))
	assert.True(t, order.Total.Equal(decimal.RequireFromString("212.5")))
}

func TestTracking_BadTokens(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, req{method: http.MethodGet, path: "/r/o/not-a-token"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pixel, rec.Body.Bytes())

	rec = f.do(t, req{method: http.MethodGet, path: "/r/c/not-a-token"})
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "http://shop.test", rec.Header().Get(echo.HeaderLocation))

	rec = f.do(t, req{method: http.MethodPost, path: "/api/v1/recovery/accept", body: map[string]string{"token": "not-a-token"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAdmin_ManualEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart := decode[models.Cart](t, f.do(t, req{method: http.MethodPut, path: "/api/v1/cart/items", session: "s1", body: items(2, 1)}))

	path := "/api/v1/carts/" + strconv.Itoa(int(cart.ID)) + "/recovery-email"
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(t, req{method: http.MethodPost, path: path, role: "admin"}).Code)

	f.clock.Advance(31 * time.Minute)
	stored, err := f.repo.GetCartByID(ctx, cart.ID)
	require.NoError(t, err)
	_, err = f.repo.MarkAbandoned(ctx, *stored, f.clock.Now().Add(-30*time.Minute), f.clock.Now())
	require.NoError(t, err)

	rec := f.do(t, req{method: http.MethodPost, path: path, role: "admin"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	a := decode[models.RecoveryAttempt](t, rec)
	assert.Equal(t, models.ChannelPopup, a.Channel)

	assert.Equal(t, http.StatusUnprocessableEntity, f.do(t, req{method: http.MethodPost, path: path, role: "admin"}).Code)

	events := decode[map[string]any](t, f.do(t, req{method: http.MethodGet, path: "/api/v1/admin/abandonment-events?status=emitted", role: "admin"}))
	assert.EqualValues(t, 1, events["total"])
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(t, req{method: http.MethodGet, path: "/api/v1/admin/abandonment-events?status=bogus", role: "admin"}).Code)
}

func TestAdmin_RetryRejectsSentAttempt(t *testing.T) {
	f := newFixture(t)
	f.do(t, req{method: http.MethodPut, path: "/api/v1/cart/items", session: "s1", body: items(1, 1)})
	f.clock.Advance(31 * time.Minute)
	f.do(t, req{method: http.MethodPost, path: "/api/v1/admin/detector/run", role: "admin"})

	attempts, _, err := f.repo.ListAttempts(context.Background(), "", 0, 10)
	require.NoError(t, err)
	require.Len(t, attempts, 1)

	path := "/api/v1/admin/recovery-attempts/" + strconv.Itoa(int(attempts[0].ID)) + "/retry"
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(t, req{method: http.MethodPost, path: path, role: "admin"}).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, req{method: http.MethodPost, path: "/api/v1/admin/recovery-attempts/999/retry", role: "admin"}).Code)
}

func TestAdmin_Promotions(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, req{method: http.MethodPost, path: "/api/v1/admin/promotions", role: "admin", body: map[string]any{
		"name": "Audio week", "priority": 5, "category": "electronics",
		"offer_type": "percentage", "offer_value": "20", "description": "20% off audio",
		"starts_at": "2026-03-01T00:00:00Z", "ends_at": "2026-03-08T00:00:00Z",
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, req{method: http.MethodGet, path: "/api/v1/admin/promotions", role: "admin"})
	require.Equal(t, http.StatusOK, rec.Code)
	promos := decode[[]models.Promotion](t, rec)
	require.Len(t, promos, 1)
	assert.True(t, promos[0].OfferValue.Equal(decimal.NewFromInt(20)))

	f.do(t, req{method: http.MethodPut, path: "/api/v1/cart/items", session: "s1", body: items(2, 1)})
	rec = f.do(t, req{method: http.MethodPost, path: "/api/v1/events", session: "s1", body: map[string]any{"type": "exit_intent"}})
	popup := decode[map[string]any](t, rec)["popup"].(map[string]any)
	assert.Equal(t, "20", popup["value"])
	assert.Equal(t, "20% off audio", popup["description"])

	rec = f.do(t, req{method: http.MethodPost, path: "/api/v1/admin/promotions", role: "admin", body: map[string]any{
		"name": "Broken", "offer_type": "bogo",
	}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCart_InvalidCustomerEmailKeepsItems(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, req{method: http.MethodPut, path: "/api/v1/cart/items", session: "s4", body: map[string]any{
		"items":          []map[string]int{{"product_id": 1, "quantity": 1}},
		"customer_email": "not-an-email",
	}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	cart := decode[models.Cart](t, f.do(t, req{method: http.MethodGet, path: "/api/v1/cart", session: "s4"}))
	assert.Zero(t, cart.ItemCount)
	assert.True(t, cart.Total.IsZero())
	assert.Empty(t, cart.CustomerEmail)
}

func TestCart_OversizedQuantityIs422(t *testing.T) {
	f := newFixture(t)
	huge := int(^uint(0) >> 1)

	rec := f.do(t, req{method: http.MethodPut, path: "/api/v1/cart/items", session: "s5", body: items(2, huge, 2, huge)})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decode[map[string]any](t, rec)["product_id"])

	rec = f.do(t, req{method: http.MethodPut, path: "/api/v1/cart/items", session: "s5", body: items(2, huge)})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	cart := decode[models.Cart](t, f.do(t, req{method: http.MethodGet, path: "/api/v1/cart", session: "s5"}))
	assert.Zero(t, cart.ItemCount)
}
