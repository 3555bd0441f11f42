package shippinglog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-escrow/internal/repo"
	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
	"github.com/angelmondragon/marketplace-escrow/pkg/pagination"
)

// Repository persists audit rows. There is no update or delete path.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, entry *models.ShippingLog) error
	ListByOrder(ctx context.Context, orderID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.ShippingLog, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a shipping log repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Bound(tx)}
}

func (r *repository) Insert(ctx context.Context, entry *models.ShippingLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.DB(ctx).Create(entry).Error
}

// ListByOrder returns entries oldest first so the trail reads chronologically.
func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.ShippingLog, error) {
	var rows []models.ShippingLog
	err := r.DB(ctx).
		Where("order_id = ?", orderID).
		Scopes(pagination.Keyset(cursor, pagination.OldestFirst, limit)).
		Find(&rows).Error
	return rows, err
}
