package repo

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
)

type AbandonedSummary struct {
	TotalAbandoned int64           `json:"total_abandoned"`
	TotalValue     decimal.Decimal `json:"total_value"`
	Carts          []models.Cart   `json:"carts"`
}

func (r *GormRepo) AbandonedSummary(ctx context.Context, limit int) (*AbandonedSummary, error) {
	db := r.DB.WithContext(ctx)

	var agg struct {
		TotalAbandoned int64
		TotalValue     decimal.NullDecimal
	}
	if err := db.Model(&models.Cart{}).
		Select("COUNT(*) AS total_abandoned, SUM(total) AS total_value").
		Where("status = ?", models.CartAbandoned).
		Scan(&agg).Error; err != nil {
		return nil, err
	}

	out := &AbandonedSummary{TotalAbandoned: agg.TotalAbandoned, TotalValue: decimal.Zero}
	if agg.TotalValue.Valid {
		out.TotalValue = agg.TotalValue.Decimal
	}
	if err := db.Where("status = ?", models.CartAbandoned).
		Order("abandoned_at DESC").
		Limit(limit).
		Find(&out.Carts).Error; err != nil {
		return nil, err
	}
	return out, nil
}
