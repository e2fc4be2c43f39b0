package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/cart_recovery/pkg/logging"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/detector"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/offer"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/recovery"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/repo"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/service"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/transport"
)

type PassRunner interface {
	RunPass(ctx context.Context) (detector.PassResult, error)
}

type AdminHTTP struct {
	Repo     *repo.GormRepo
	Recovery *recovery.Service
	Detector PassRunner
}

func (h *AdminHTTP) AbandonedCarts(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.abandoned_carts")

	limit := parseIntDefault(c.QueryParam("limit"), 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	sum, err := h.Repo.AbandonedSummary(ctx, limit)
	if err != nil {
		return fail(c, l, "abandoned_summary", err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *AdminHTTP) ListAttempts(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.list_attempts")

	status := models.DeliveryStatus(c.QueryParam("status"))
	switch status {
	case "", models.DeliveryPending, models.DeliverySent, models.DeliveryFailed:
	default:
		return fail(c, l, "list_attempts", &service.ValidationError{Reason: "unknown status " + string(status)})
	}
	p, size, offset := page(c)
	items, total, err := h.Repo.ListAttempts(ctx, status, offset, size)
	if err != nil {
		return fail(c, l, "list_attempts", err)
	}
	return c.JSON(http.StatusOK, transport.PageResponse[models.RecoveryAttempt]{Items: items, Total: total, Page: p, Size: size})
}

func (h *AdminHTTP) RetryAttempt(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.retry_attempt")

	id, ok := parseID(c, "id")
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "id is not a positive integer")
	}
	a, err := h.Recovery.Retry(ctx, id)
	if err != nil {
		return fail(c, l, "retry_attempt", err)
	}
	l.Info("retry_attempt_done", "attempt_id", a.ID, "delivery_status", a.DeliveryStatus)
	return c.JSON(http.StatusOK, a)
}

func (h *AdminHTTP) ListEvents(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.list_events")

	status := models.EventStatus(c.QueryParam("status"))
	switch status {
	case "", models.EventPending, models.EventEmitted, models.EventFailed, models.EventSuperseded:
	default:
		return fail(c, l, "list_events", &service.ValidationError{Reason: "unknown status " + string(status)})
	}
	p, size, offset := page(c)
	items, total, err := h.Repo.ListEvents(ctx, status, offset, size)
	if err != nil {
		return fail(c, l, "list_events", err)
	}
	return c.JSON(http.StatusOK, transport.PageResponse[models.AbandonmentEvent]{Items: items, Total: total, Page: p, Size: size})
}

func (h *AdminHTTP) RunDetector(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.run_detector")

	res, err := h.Detector.RunPass(ctx)
	if err != nil {
		l.Error("run_detector_failed", "status", 500, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]any{"result": res, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, res)
}

func (h *AdminHTTP) ListPromotions(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.list_promotions")

	promos, err := h.Repo.ListPromotions(ctx)
	if err != nil {
		return fail(c, l, "list_promotions", err)
	}
	return c.JSON(http.StatusOK, promos)
}

func (h *AdminHTTP) CreatePromotion(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.create_promotion")

	var req transport.CreatePromotionRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c, l, "create_promotion", err)
	}
	p, err := promotionFrom(req)
	if err != nil {
		return fail(c, l, "create_promotion", err)
	}
	if err := h.Repo.CreatePromotion(ctx, p); err != nil {
		return fail(c, l, "create_promotion", err)
	}
	l.Info("create_promotion_success", "promotion_id", p.ID)
	return c.JSON(http.StatusCreated, p)
}

func (h *AdminHTTP) ManualEmail(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.manual_email")

	id, ok := parseID(c, "id")
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "id is not a positive integer")
	}
	a, err := h.Recovery.ManualEmit(ctx, id)
	if err != nil {
		return fail(c, l, "manual_email", err)
	}
	l.Info("manual_email_done", "attempt_id", a.ID, "delivery_status", a.DeliveryStatus)
	return c.JSON(http.StatusCreated, a)
}

var hundred = decimal.NewFromInt(100)

func promotionFrom(req transport.CreatePromotionRequest) (*models.Promotion, error) {
	invalid := func(reason string) error { return &service.ValidationError{Reason: reason} }

	if req.Name == "" {
		return nil, invalid("name is required")
	}
	p := &models.Promotion{
		Name:         req.Name,
		Priority:     req.Priority,
		Category:     req.Category,
		OfferType:    req.OfferType,
		FreeShipping: req.FreeShipping,
		Description:  req.Description,
		Active:       true,
		MinCartValue: decimal.Zero,
		OfferValue:   decimal.Zero,
	}

	switch offer.Type(req.OfferType) {
	case offer.TypePercentage:
		v, err := decimal.NewFromString(req.OfferValue)
		if err != nil || !v.IsPositive() || v.GreaterThan(hundred) {
			return nil, invalid("offer_value must be a percentage in (0, 100]")
		}
		p.OfferValue = v
	case offer.TypeFreeShipping:
		p.FreeShipping = true
	default:
		return nil, invalid("offer_type must be percentage or free_shipping")
	}

	if req.MinCartValue != "" {
		v, err := decimal.NewFromString(req.MinCartValue)
		if err != nil || v.IsNegative() {
			return nil, invalid("min_cart_value must be a non-negative amount")
		}
		p.MinCartValue = v
	}

	var err error
	if p.StartsAt, err = parseTime(req.StartsAt); err != nil {
		return nil, invalid("starts_at must be RFC3339")
	}
	if p.EndsAt, err = parseTime(req.EndsAt); err != nil {
		return nil, invalid("ends_at must be RFC3339")
	}
	if p.StartsAt != nil && p.EndsAt != nil && !p.EndsAt.After(*p.StartsAt) {
		return nil, invalid("ends_at must be after starts_at")
	}
	return p, nil
}

func parseTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
