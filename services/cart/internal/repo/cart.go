package repo

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
)

// openCart locks the session's latest non-completed cart.
func openCart(tx *gorm.DB, sessionID string) (*models.Cart, error) {
	var cart models.Cart
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("session_id = ? AND status <> ?", sessionID, models.CartCompleted).
		Order("id DESC").
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func resolveCart(tx *gorm.DB, sessionID string, now time.Time) (*models.Cart, error) {
	cart, err := openCart(tx, sessionID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	cart = &models.Cart{
		SessionID: sessionID,
		Status:    models.CartActive,
		Total:     decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Create(cart).Error; err != nil {
		return nil, err
	}
	return cart, nil
}

func loadItems(tx *gorm.DB, cart *models.Cart) error {
	cart.Items = nil
	return tx.Where("cart_id = ?", cart.ID).
		Order("position").
		Preload("Product").
		Find(&cart.Items).Error
}

// ResolveCart returns the session's open cart, creating an empty active one
// when there is none.
func (r *GormRepo) ResolveCart(ctx context.Context, sessionID string, now time.Time) (*models.Cart, error) {
	var cart *models.Cart
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := resolveCart(tx, sessionID, now)
		if err != nil {
			return err
		}
		cart = c
		return loadItems(tx, cart)
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// ReplaceItems swaps the whole item list of the session's open cart and
// writes the new total in the same transaction. An abandoned or recovered
// cart becomes active again.
func (r *GormRepo) ReplaceItems(ctx context.Context, sessionID string, lines []models.CartItem, total decimal.Decimal, now time.Time) (*models.Cart, error) {
	var cart *models.Cart
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := resolveCart(tx, sessionID, now)
		if err != nil {
			return err
		}

		if err := tx.Where("cart_id = ?", c.ID).Delete(&models.CartItem{}).Error; err != nil {
			return err
		}
		if len(lines) > 0 {
			for i := range lines {
				lines[i].ID = 0
				lines[i].CartID = c.ID
				lines[i].Position = i
				lines[i].Product = nil
			}
			if err := tx.Create(&lines).Error; err != nil {
				return err
			}
		}

		updates := map[string]any{
			"total":      total,
			"item_count": len(lines),
			"updated_at": now,
			"version":    gorm.Expr("version + 1"),
		}
		if c.Status == models.CartAbandoned || c.Status == models.CartRecovered {
			updates["status"] = models.CartActive
		}
		if err := tx.Model(&models.Cart{}).Where("id = ?", c.ID).Updates(updates).Error; err != nil {
			return err
		}

		cart = &models.Cart{}
		if err := tx.First(cart, c.ID).Error; err != nil {
			return err
		}
		return loadItems(tx, cart)
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// AttachCustomer stores recipient details on the open cart. Idle time is not
// reset.
func (r *GormRepo) AttachCustomer(ctx context.Context, sessionID, customerID, email, name string, now time.Time) (*models.Cart, error) {
	var cart *models.Cart
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := resolveCart(tx, sessionID, now)
		if err != nil {
			return err
		}
		updates := map[string]any{}
		if customerID != "" {
			updates["customer_id"] = customerID
		}
		if email != "" {
			updates["customer_email"] = email
		}
		if name != "" {
			updates["customer_name"] = name
		}
		if len(updates) > 0 {
			if err := tx.Model(&models.Cart{}).Where("id = ?", c.ID).Updates(updates).Error; err != nil {
				return err
			}
		}
		cart = &models.Cart{}
		if err := tx.First(cart, c.ID).Error; err != nil {
			return err
		}
		return loadItems(tx, cart)
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func (r *GormRepo) GetCartByID(ctx context.Context, id uint) (*models.Cart, error) {
	var cart models.Cart
	db := r.DB.WithContext(ctx)
	if err := db.First(&cart, id).Error; err != nil {
		return nil, err
	}
	if err := loadItems(db, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}
