package repo

import (
	"context"
	"time"

	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
)

// ActivePromotions returns enabled promotions whose window contains now.
func (r *GormRepo) ActivePromotions(ctx context.Context, now time.Time) ([]models.Promotion, error) {
	var promos []models.Promotion
	err := r.DB.WithContext(ctx).
		Where("active = ?", true).
		Where("starts_at IS NULL OR starts_at <= ?", now).
		Where("ends_at IS NULL OR ends_at > ?", now).
		Order("priority DESC, id").
		Find(&promos).Error
	return promos, err
}

func (r *GormRepo) CreatePromotion(ctx context.Context, p *models.Promotion) error {
	return r.DB.WithContext(ctx).Create(p).Error
}

func (r *GormRepo) ListPromotions(ctx context.Context) ([]models.Promotion, error) {
	var promos []models.Promotion
	err := r.DB.WithContext(ctx).Order("id").Find(&promos).Error
	return promos, err
}
