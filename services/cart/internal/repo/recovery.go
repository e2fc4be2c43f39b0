package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
)

// RecordAttempt stores a new attempt. When eventID is set the abandonment
// event is marked emitted in the same transaction; an event that is no longer
// pending yields ErrConcurrencyConflict.
func (r *GormRepo) RecordAttempt(ctx context.Context, a *models.RecoveryAttempt, eventID uint) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if eventID != 0 {
			res := tx.Model(&models.AbandonmentEvent{}).
				Where("id = ? AND status = ?", eventID, models.EventPending).
				Update("status", models.EventEmitted)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrConcurrencyConflict
			}
		}
		return tx.Create(a).Error
	})
}

// UpdateDelivery writes the content and delivery outcome of an attempt.
func (r *GormRepo) UpdateDelivery(ctx context.Context, a *models.RecoveryAttempt) error {
	return r.DB.WithContext(ctx).Model(a).
		Select("subject", "body", "delivery_status", "delivery_error", "sent_at").
		Updates(a).Error
}

func (r *GormRepo) GetAttempt(ctx context.Context, id uint) (*models.RecoveryAttempt, error) {
	var a models.RecoveryAttempt
	if err := r.DB.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *GormRepo) ListAttempts(ctx context.Context, status models.DeliveryStatus, offset, limit int) ([]models.RecoveryAttempt, int64, error) {
	var (
		attempts []models.RecoveryAttempt
		total    int64
	)
	db := r.DB.WithContext(ctx).Model(&models.RecoveryAttempt{})
	if status != "" {
		db = db.Where("delivery_status = ?", status)
	}
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Order("id DESC").Offset(offset).Limit(limit).Find(&attempts).Error; err != nil {
		return nil, 0, err
	}
	return attempts, total, nil
}

func (r *GormRepo) AttemptsForCart(ctx context.Context, cartID uint) ([]models.RecoveryAttempt, error) {
	var attempts []models.RecoveryAttempt
	err := r.DB.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Order("episode, sequence").
		Find(&attempts).Error
	return attempts, err
}

func (r *GormRepo) CountAttempts(ctx context.Context, cartID, episode uint) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.RecoveryAttempt{}).
		Where("cart_id = ? AND episode = ?", cartID, episode).
		Count(&n).Error
	return n, err
}

// FollowUpCandidates lists first attempts sent before `before` that have not
// converted, whose cart is still abandoned in the same episode and that have
// no follow-up yet.
func (r *GormRepo) FollowUpCandidates(ctx context.Context, before time.Time, limit int) ([]models.RecoveryAttempt, error) {
	var attempts []models.RecoveryAttempt
	err := r.DB.WithContext(ctx).
		Table("recovery_attempts AS a").
		Select("a.*").
		Joins("JOIN carts c ON c.id = a.cart_id").
		Where("a.sequence = ? AND a.delivery_status = ? AND a.recovered = ? AND a.sent_at <= ?",
			1, models.DeliverySent, false, before).
		Where("c.status = ? AND c.episode = a.episode", models.CartAbandoned).
		Where("NOT EXISTS (SELECT 1 FROM recovery_attempts f WHERE f.cart_id = a.cart_id AND f.episode = a.episode AND f.sequence > a.sequence)").
		Order("a.id").
		Limit(limit).
		Find(&attempts).Error
	return attempts, err
}

// markFlag flips one outcome flag false to true. It reports whether this call
// changed anything.
func (r *GormRepo) markFlag(ctx context.Context, id uint, flag, stampCol string, now time.Time) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&models.RecoveryAttempt{}).
		Where("id = ? AND "+flag+" = ?", id, false).
		Updates(map[string]any{flag: true, stampCol: now})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if _, err := r.GetAttempt(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *GormRepo) MarkOpened(ctx context.Context, id uint, now time.Time) (bool, error) {
	return r.markFlag(ctx, id, "opened", "opened_at", now)
}

func (r *GormRepo) MarkClicked(ctx context.Context, id uint, now time.Time) (bool, error) {
	return r.markFlag(ctx, id, "clicked", "clicked_at", now)
}

// MarkRecovered sets the recovered flag and moves a cart that is still
// abandoned in the attempt's episode to recovered.
func (r *GormRepo) MarkRecovered(ctx context.Context, id uint, now time.Time) (*models.RecoveryAttempt, *models.Cart, error) {
	var (
		attempt models.RecoveryAttempt
		cart    models.Cart
	)
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&attempt, id).Error; err != nil {
			return err
		}
		if !attempt.Recovered {
			if err := tx.Model(&models.RecoveryAttempt{}).Where("id = ?", attempt.ID).
				Updates(map[string]any{"recovered": true, "recovered_at": now}).Error; err != nil {
				return err
			}
			attempt.Recovered = true
			attempt.RecoveredAt = &now
		}

		if err := tx.Model(&models.Cart{}).
			Where("id = ? AND status = ? AND episode = ?", attempt.CartID, models.CartAbandoned, attempt.Episode).
			Updates(map[string]any{
				"status":       models.CartRecovered,
				"recovered_at": gorm.Expr("COALESCE(recovered_at, ?)", now),
				"version":      gorm.Expr("version + 1"),
			}).Error; err != nil {
			return err
		}
		return tx.First(&cart, attempt.CartID).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return &attempt, &cart, nil
}

// latestAttempt returns the newest attempt of a cart's episode, or nil.
func latestAttempt(tx *gorm.DB, cartID, episode uint) (*models.RecoveryAttempt, error) {
	var a models.RecoveryAttempt
	err := tx.Where("cart_id = ? AND episode = ?", cartID, episode).
		Order("sequence DESC").
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
