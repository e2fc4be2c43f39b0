package repo

import (
	"context"

	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
)

func (r *GormRepo) GetProduct(ctx context.Context, id uint) (*models.Product, error) {
	var p models.Product
	if err := r.DB.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ProductsByIDs returns the known products keyed by id. Unknown ids are
// simply absent.
func (r *GormRepo) ProductsByIDs(ctx context.Context, ids []uint) (map[uint]models.Product, error) {
	out := make(map[uint]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var products []models.Product
	if err := r.DB.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

func (r *GormRepo) ListProducts(ctx context.Context, offset, limit int) ([]models.Product, int64, error) {
	var (
		products []models.Product
		total    int64
	)
	db := r.DB.WithContext(ctx).Model(&models.Product{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Order("id").Offset(offset).Limit(limit).Find(&products).Error; err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

// SeedProducts inserts products whose name is not in the catalog yet.
func (r *GormRepo) SeedProducts(ctx context.Context, products []models.Product) (int, error) {
	created := 0
	db := r.DB.WithContext(ctx)
	for i := range products {
		var n int64
		if err := db.Model(&models.Product{}).Where("name = ?", products[i].Name).Count(&n).Error; err != nil {
			return created, err
		}
		if n > 0 {
			continue
		}
		if err := db.Create(&products[i]).Error; err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}
