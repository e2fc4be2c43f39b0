package httpserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/cart_recovery/services/cart/internal/service"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/transport"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}

// page reads ?page=&size= and returns page, size and the row offset.
func page(c echo.Context) (int, int, int) {
	p := parseIntDefault(c.QueryParam("page"), 1)
	if p < 1 {
		p = 1
	}
	size := parseIntDefault(c.QueryParam("size"), defaultPageSize)
	if size < 1 || size > maxPageSize {
		size = defaultPageSize
	}
	return p, size, (p - 1) * size
}

func parseID(c echo.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

// fail maps service errors to responses. op names the event in logs.
func fail(c echo.Context, l *slog.Logger, op string, err error) error {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		l.Warn(op+"_failed", "status", http.StatusUnprocessableEntity, "reason", ve.Reason, "error", err)
		return c.JSON(http.StatusUnprocessableEntity, transport.ValidationErrorResponse{Error: ve.Error(), ProductID: ve.ProductID})
	case errors.Is(err, service.ErrValidation):
		l.Warn(op+"_failed", "status", http.StatusUnprocessableEntity, "error", err)
		return c.JSON(http.StatusUnprocessableEntity, transport.ValidationErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrNotFound):
		l.Warn(op+"_failed", "status", http.StatusNotFound, "error", err)
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		l.Error(op+"_failed", "status", http.StatusInternalServerError, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}

func badBody(c echo.Context, l *slog.Logger, op string, err error) error {
	l.Warn(op+"_failed", "status", http.StatusBadRequest, "reason", "invalid body", "error", err)
	return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
}
