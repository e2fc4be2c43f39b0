package httpserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/cart_recovery/pkg/logging"
	sessionmw "github.com/Skotchmaster/cart_recovery/pkg/middleware/session"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/search"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/service"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/transport"
)

type CartHTTP struct {
	Svc      *service.CartService
	Searcher search.Searcher
}

func (h *CartHTTP) GetCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.get")

	cart, err := h.Svc.GetCart(ctx, sessionmw.From(c))
	if err != nil {
		return fail(c, l, "get_cart", err)
	}
	return c.JSON(http.StatusOK, cart)
}

func (h *CartHTTP) ReplaceItems(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.replace_items")

	var req transport.ReplaceItemsRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c, l, "replace_items", err)
	}

	if err := service.CheckEmail(req.CustomerEmail); err != nil {
		return fail(c, l, "replace_items", err)
	}

	sess := sessionmw.From(c)
	cart, err := h.Svc.ReplaceItems(ctx, sess, req.Items)
	if err != nil {
		return fail(c, l, "replace_items", err)
	}

	email, name := req.CustomerEmail, req.CustomerName
	if email == "" && cart.CustomerEmail == "" {
		email, _ = c.Get("email").(string)
		if service.CheckEmail(email) != nil {
			email = ""
		}
		if name == "" {
			name, _ = c.Get("name").(string)
		}
	}
	if email != "" || name != "" {
		if cart, err = h.Svc.AttachCustomer(ctx, sess, email, name); err != nil {
			return fail(c, l, "replace_items", err)
		}
	}

	l.Info("replace_items_success", "cart_id", cart.ID, "item_count", cart.ItemCount)
	return c.JSON(http.StatusOK, cart)
}

func (h *CartHTTP) Clear(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.clear")

	cart, err := h.Svc.Clear(ctx, sessionmw.From(c))
	if err != nil {
		return fail(c, l, "clear_cart", err)
	}
	return c.JSON(http.StatusOK, cart)
}

func (h *CartHTTP) AttachCustomer(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.attach_customer")

	var req transport.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c, l, "attach_customer", err)
	}
	cart, err := h.Svc.AttachCustomer(ctx, sessionmw.From(c), req.Email, req.Name)
	if err != nil {
		return fail(c, l, "attach_customer", err)
	}
	return c.JSON(http.StatusOK, cart)
}

func (h *CartHTTP) Checkout(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.checkout")

	var req transport.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c, l, "checkout", err)
	}
	order, err := h.Svc.Checkout(ctx, sessionmw.From(c), req)
	if err != nil {
		return fail(c, l, "checkout", err)
	}
	l.Info("checkout_success", "order_id", order.ID, "total", order.Total.String())
	return c.JSON(http.StatusCreated, order)
}

func (h *CartHTTP) GetProduct(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product.get")

	id, ok := parseID(c, "id")
	if !ok {
		l.Warn("get_product_failed", "status", 400, "reason", "id is not a positive integer")
		return echo.NewHTTPError(http.StatusBadRequest, "id is not a positive integer")
	}
	p, err := h.Svc.GetProduct(ctx, id)
	if err != nil {
		return fail(c, l, "get_product", err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *CartHTTP) ListProducts(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product.list")

	p, size, offset := page(c)
	items, total, err := h.Svc.Repo.ListProducts(ctx, offset, size)
	if err != nil {
		return fail(c, l, "list_products", err)
	}
	return c.JSON(http.StatusOK, transport.PageResponse[models.Product]{Items: items, Total: total, Page: p, Size: size})
}

func (h *CartHTTP) Search(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "product.search")

	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		l.Warn("search_failed", "status", 400, "reason", "empty query")
		return echo.NewHTTPError(http.StatusBadRequest, "query error")
	}
	_, size, offset := page(c)
	res, err := h.Searcher.Search(ctx, q, offset, size)
	if err != nil {
		return fail(c, l, "search", err)
	}
	return c.JSON(http.StatusOK, transport.SearchResponse{Total: res.Total, Items: res.Items})
}
