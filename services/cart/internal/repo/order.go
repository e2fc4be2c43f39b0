package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
)

// QuoteFunc builds the order for a locked cart. attempt is the recovered
// attempt of the cart's current episode, else its latest attempt, or nil.
type QuoteFunc func(cart *models.Cart, attempt *models.RecoveryAttempt) (*models.Order, error)

// CompleteCart turns the session's open cart into an order and marks the cart
// completed. Checking out an abandoned cart counts as a recovery of its latest
// attempt.
func (r *GormRepo) CompleteCart(ctx context.Context, sessionID string, now time.Time, quote QuoteFunc) (*models.Order, *models.Cart, error) {
	var (
		order *models.Order
		cart  *models.Cart
	)
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := openCart(tx, sessionID)
		if err != nil {
			return err
		}
		if err := loadItems(tx, c); err != nil {
			return err
		}

		var attempt *models.RecoveryAttempt
		if c.Episode > 0 {
			if attempt, err = checkoutAttempt(tx, c.ID, c.Episode); err != nil {
				return err
			}
		}

		order, err = quote(c, attempt)
		if err != nil {
			return err
		}
		order.CartID = c.ID
		order.SessionID = c.SessionID
		order.CreatedAt = now
		if err := tx.Create(order).Error; err != nil {
			return err
		}

		if c.Status == models.CartAbandoned && attempt != nil && !attempt.Recovered {
			if err := tx.Model(&models.RecoveryAttempt{}).Where("id = ?", attempt.ID).
				Updates(map[string]any{"recovered": true, "recovered_at": now}).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&models.Cart{}).Where("id = ?", c.ID).Updates(map[string]any{
			"status":       models.CartCompleted,
			"completed_at": now,
			"version":      gorm.Expr("version + 1"),
		}).Error; err != nil {
			return err
		}

		cart = &models.Cart{}
		return tx.First(cart, c.ID).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return order, cart, nil
}

// checkoutAttempt prefers the attempt that brought the shopper back over any
// follow-up sent after it.
func checkoutAttempt(tx *gorm.DB, cartID, episode uint) (*models.RecoveryAttempt, error) {
	var a models.RecoveryAttempt
	err := tx.Where("cart_id = ? AND episode = ? AND recovered = ?", cartID, episode, true).
		Order("sequence DESC").
		First(&a).Error
	if err == nil {
		return &a, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return latestAttempt(tx, cartID, episode)
}
