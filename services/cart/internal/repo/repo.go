package repo

import (
	"errors"

	"gorm.io/gorm"

	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
)

// ErrConcurrencyConflict means a guarded update found the row changed since it
// was read.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

type GormRepo struct {
	DB *gorm.DB
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Product{},
		&models.Cart{},
		&models.CartItem{},
		&models.AbandonmentEvent{},
		&models.RecoveryAttempt{},
		&models.BehaviorEvent{},
		&models.Promotion{},
		&models.Order{},
		&models.OrderItem{},
	)
}
