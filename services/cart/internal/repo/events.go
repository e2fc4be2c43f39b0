package repo

import (
	"context"

	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
)

func (r *GormRepo) SaveBehaviorEvent(ctx context.Context, ev *models.BehaviorEvent) error {
	return r.DB.WithContext(ctx).Create(ev).Error
}

func (r *GormRepo) SessionEvents(ctx context.Context, sessionID string, limit int) ([]models.BehaviorEvent, error) {
	var events []models.BehaviorEvent
	err := r.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("occurred_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
