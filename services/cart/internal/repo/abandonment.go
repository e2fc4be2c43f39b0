package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
)

// IdleCarts lists active, non-empty carts untouched since cutoff, oldest first.
func (r *GormRepo) IdleCarts(ctx context.Context, cutoff time.Time, limit int) ([]models.Cart, error) {
	var carts []models.Cart
	err := r.DB.WithContext(ctx).
		Where("status = ? AND item_count > 0 AND updated_at <= ?", models.CartActive, cutoff).
		Order("updated_at").
		Limit(limit).
		Find(&carts).Error
	return carts, err
}

// MarkAbandoned moves a cart read by IdleCarts to abandoned and records the
// pending abandonment event in one transaction. The update is guarded by the
// version that was read, so a mutation in between yields
// ErrConcurrencyConflict and nothing is written.
func (r *GormRepo) MarkAbandoned(ctx context.Context, cart models.Cart, cutoff, now time.Time) (*models.AbandonmentEvent, error) {
	var ev *models.AbandonmentEvent
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Cart{}).
			Where("id = ? AND version = ? AND status = ? AND item_count > 0 AND updated_at <= ?",
				cart.ID, cart.Version, models.CartActive, cutoff).
			Updates(map[string]any{
				"status":       models.CartAbandoned,
				"version":      gorm.Expr("version + 1"),
				"episode":      gorm.Expr("episode + 1"),
				"abandoned_at": gorm.Expr("COALESCE(abandoned_at, ?)", now),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConcurrencyConflict
		}

		ev = &models.AbandonmentEvent{
			CartID:      cart.ID,
			Episode:     cart.Episode + 1,
			SessionID:   cart.SessionID,
			Status:      models.EventPending,
			AbandonedAt: now,
		}
		return tx.Create(ev).Error
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (r *GormRepo) PendingEvents(ctx context.Context, maxAttempts, limit int) ([]models.AbandonmentEvent, error) {
	var events []models.AbandonmentEvent
	err := r.DB.WithContext(ctx).
		Where("status = ? AND attempts < ?", models.EventPending, maxAttempts).
		Order("id").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *GormRepo) GetEvent(ctx context.Context, id uint) (*models.AbandonmentEvent, error) {
	var ev models.AbandonmentEvent
	if err := r.DB.WithContext(ctx).First(&ev, id).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

// RecordEmitFailure counts a failed emission. It returns true once the event
// has used up maxAttempts and was parked as failed.
func (r *GormRepo) RecordEmitFailure(ctx context.Context, id uint, cause string, maxAttempts int) (bool, error) {
	failed := false
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ev models.AbandonmentEvent
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND status = ?", id, models.EventPending).
			First(&ev).Error; err != nil {
			return err
		}

		attempts := ev.Attempts + 1
		updates := map[string]any{"attempts": attempts, "last_error": cause}
		if attempts >= maxAttempts {
			updates["status"] = models.EventFailed
			failed = true
		}
		return tx.Model(&ev).Updates(updates).Error
	})
	return failed, err
}

// EventFor returns the abandonment event of one episode, or nil.
func (r *GormRepo) EventFor(ctx context.Context, cartID, episode uint) (*models.AbandonmentEvent, error) {
	var ev models.AbandonmentEvent
	err := r.DB.WithContext(ctx).Where("cart_id = ? AND episode = ?", cartID, episode).First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// SupersedeEvent parks a still pending event whose cart moved on.
func (r *GormRepo) SupersedeEvent(ctx context.Context, id uint) error {
	return r.DB.WithContext(ctx).Model(&models.AbandonmentEvent{}).
		Where("id = ? AND status = ?", id, models.EventPending).
		Update("status", models.EventSuperseded).Error
}

func (r *GormRepo) SetEventStatus(ctx context.Context, id uint, status models.EventStatus) error {
	return r.DB.WithContext(ctx).Model(&models.AbandonmentEvent{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *GormRepo) ListEvents(ctx context.Context, status models.EventStatus, offset, limit int) ([]models.AbandonmentEvent, int64, error) {
	var (
		events []models.AbandonmentEvent
		total  int64
	)
	db := r.DB.WithContext(ctx).Model(&models.AbandonmentEvent{})
	if status != "" {
		db = db.Where("status = ?", status)
	}
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Order("id DESC").Offset(offset).Limit(limit).Find(&events).Error; err != nil {
		return nil, 0, err
	}
	return events, total, nil
}
