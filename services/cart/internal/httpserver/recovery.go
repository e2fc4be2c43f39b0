package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/cart_recovery/pkg/logging"
	sessionmw "github.com/Skotchmaster/cart_recovery/pkg/middleware/session"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/notify"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/recovery"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/transport"
)

// 1x1 transparent GIF
var pixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0xff, 0xff, 0xff,
	0x00, 0x00, 0x00, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type PopupInbox interface {
	Take(ctx context.Context, sessionID string) (*notify.PopupPayload, error)
}

type RecoveryHTTP struct {
	Svc *recovery.Service
	// Popups is nil when the popup channel is not configured.
	Popups PopupInbox
}

// Pixel always answers with the image; tracking failures are only logged.
func (h *RecoveryHTTP) Pixel(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "recovery.pixel")

	if err := h.Svc.MarkOpened(ctx, c.Param("token")); err != nil {
		l.Warn("mark_opened_failed", "error", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.Blob(http.StatusOK, "image/gif", pixel)
}

func (h *RecoveryHTTP) Click(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "recovery.click")

	target, err := h.Svc.MarkClicked(ctx, c.Param("token"))
	if err != nil {
		l.Warn("mark_clicked_failed", "error", err)
		return c.Redirect(http.StatusFound, h.Svc.FrontendURL)
	}
	return c.Redirect(http.StatusFound, target)
}

func (h *RecoveryHTTP) Accept(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "recovery.accept")

	var req transport.AcceptRequest
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return badBody(c, l, "accept", err)
	}
	a, cart, err := h.Svc.Accept(ctx, req.Token)
	if err != nil {
		return fail(c, l, "accept", err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"attempt_id":   a.ID,
		"cart_id":      cart.ID,
		"cart_status":  cart.Status,
		"checkout_url": h.Svc.CheckoutURL(cart.ID),
	})
}

// Popup hands the storefront the pending on-site message for this session,
// once.
func (h *RecoveryHTTP) Popup(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "recovery.popup")

	if h.Popups == nil {
		return c.NoContent(http.StatusNoContent)
	}
	p, err := h.Popups.Take(ctx, sessionmw.From(c).ID)
	if err != nil {
		return fail(c, l, "take_popup", err)
	}
	if p == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, p)
}
