package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/cart_recovery/pkg/logging"
	sessionmw "github.com/Skotchmaster/cart_recovery/pkg/middleware/session"
	"github.com/Skotchmaster/cart_recovery/pkg/session"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/service"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/transport"
)

type EventsHTTP struct {
	Svc              *service.BehaviorService
	PopupIdleSeconds int
}

// Record accepts client behavior events. Route changes arrive here as
// page_view events.
func (h *EventsHTTP) Record(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "events.record")

	var req transport.EventRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c, l, "record_event", err)
	}
	res, err := h.Svc.Record(ctx, sessionmw.From(c), req)
	if err != nil {
		return fail(c, l, "record_event", err)
	}
	if res.Popup != nil {
		l.Info("exit_intent_offer", "offer_type", res.Popup.Type, "offer_value", res.Popup.Value.String())
	}
	return c.JSON(http.StatusAccepted, transport.EventResponse{ID: res.Event.ID, Popup: res.Popup})
}

func (h *EventsHTTP) ClientConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, transport.ClientConfigResponse{
		PopupIdleSeconds: h.PopupIdleSeconds,
		SessionHeader:    session.HeaderName,
	})
}
