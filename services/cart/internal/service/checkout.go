package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Skotchmaster/cart_recovery/pkg/session"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/offer"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/transport"
)

var hundred = decimal.NewFromInt(100)

// Checkout places a simulated order for the session's open cart and marks
// the cart completed. A cart recovered through an offer gets that offer's
// percentage off.
func (s *CartService) Checkout(ctx context.Context, sess session.Context, req transport.CheckoutRequest) (*models.Order, error) {
	if err := checkSession(sess); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(sess.ID)
	defer unlock()

	quote := func(cart *models.Cart, attempt *models.RecoveryAttempt) (*models.Order, error) {
		if len(cart.Items) == 0 {
			return nil, &ValidationError{Reason: "cart is empty"}
		}

		order := &models.Order{
			Email:    req.Email,
			Status:   models.OrderStatusNew,
			Subtotal: decimal.Zero,
			Discount: decimal.Zero,
		}
		if order.Email == "" {
			order.Email = cart.CustomerEmail
		}
		for _, it := range cart.Items {
			line := it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
			order.Items = append(order.Items, models.OrderItem{
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				UnitPrice: it.Price,
				LineTotal: line,
			})
			order.Subtotal = order.Subtotal.Add(line)
		}

		if cart.Status == models.CartRecovered && attempt != nil && attempt.Recovered &&
			attempt.OfferType == string(offer.TypePercentage) {
			order.Discount = order.Subtotal.Mul(attempt.OfferValue).Div(hundred).Round(2)
		}
		order.Total = order.Subtotal.Sub(order.Discount)
		return order, nil
	}

	order, cart, err := s.Repo.CompleteCart(ctx, sess.ID, s.now(), quote)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &ValidationError{Reason: "cart is empty"}
	}
	if err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}

	s.invalidate(ctx, sess.ID)
	s.publish(ctx, "order_completed", cart)
	return order, nil
}
