package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRepository stores views in the order_views table.
type GormRepository struct {
	db *gorm.DB
}

var _ Repository = (*GormRepository)(nil)

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Migrate creates or updates the order_views table.
func (r *GormRepository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&OrderView{})
}

func (r *GormRepository) Get(ctx context.Context, id uuid.UUID) (OrderView, error) {
	var v OrderView
	err := r.db.WithContext(ctx).First(&v, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return OrderView{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
		}
		return OrderView{}, fmt.Errorf("failed to load order view %s: %w", id, err)
	}
	return v, nil
}

// Save upserts view unless the stored row has caught up already.
func (r *GormRepository) Save(ctx context.Context, view OrderView) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "rider_id", "driver_id", "price", "reason", "revision", "placed_at", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "order_views.revision < excluded.revision"},
		}},
	}).Create(&view).Error
	if err != nil {
		return fmt.Errorf("failed to save order view %s: %w", view.ID, err)
	}
	return nil
}
