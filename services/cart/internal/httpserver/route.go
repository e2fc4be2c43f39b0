package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	middleware "github.com/Skotchmaster/cart_recovery/pkg/middleware/auth"
	sessionmw "github.com/Skotchmaster/cart_recovery/pkg/middleware/session"
)

type Deps struct {
	Cart     *CartHTTP
	Events   *EventsHTTP
	Recovery *RecoveryHTTP
	Admin    *AdminHTTP
	Auth     *middleware.Authenticator
	// Ready reports whether dependencies answer; nil means always ready.
	Ready func(ctx context.Context) error
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if d.Ready != nil {
			if err := d.Ready(c.Request().Context()); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// tracking links are opened from mail clients, outside any session
	e.GET("/r/o/:token", d.Recovery.Pixel)
	e.GET("/r/c/:token", d.Recovery.Click)

	api := e.Group("/api/v1", sessionmw.Resolve(), d.Auth.Optional)

	api.GET("/cart", d.Cart.GetCart)
	api.PUT("/cart/items", d.Cart.ReplaceItems)
	api.DELETE("/cart/items", d.Cart.Clear)
	api.PUT("/cart/customer", d.Cart.AttachCustomer)
	api.POST("/cart/checkout", d.Cart.Checkout)

	api.GET("/products", d.Cart.ListProducts)
	api.GET("/products/search", d.Cart.Search)
	api.GET("/products/:id", d.Cart.GetProduct)

	api.POST("/events", d.Events.Record)
	api.GET("/client-config", d.Events.ClientConfig)

	api.GET("/recovery/popup", d.Recovery.Popup)
	api.POST("/recovery/accept", d.Recovery.Accept)

	api.POST("/carts/:id/recovery-email", d.Admin.ManualEmail, d.Auth.RequireAdmin)

	admin := api.Group("/admin", d.Auth.RequireAdmin)
	admin.GET("/analytics/abandoned-carts", d.Admin.AbandonedCarts)
	admin.GET("/recovery-attempts", d.Admin.ListAttempts)
	admin.POST("/recovery-attempts/:id/retry", d.Admin.RetryAttempt)
	admin.GET("/abandonment-events", d.Admin.ListEvents)
	admin.POST("/detector/run", d.Admin.RunDetector)
	admin.GET("/promotions", d.Admin.ListPromotions)
	admin.POST("/promotions", d.Admin.CreatePromotion)
}
