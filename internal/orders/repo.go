package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-escrow/internal/repo"
	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	"github.com/angelmondragon/marketplace-escrow/pkg/pagination"
)

type repository struct {
	repo.Base
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) Create(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	return r.Conn(ctx, tx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return repo.First[models.Order](r.DB(ctx).Where("id = ?", id))
}

// FindByIDForUpdate takes a row lock on Postgres so concurrent release triggers serialize.
func (r *repository) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Order, error) {
	return repo.First[models.Order](repo.ForUpdate(r.Conn(ctx, tx)).Where("id = ?", id))
}

func (r *repository) FindByProviderShipmentID(ctx context.Context, providerShipmentID string) (*models.Order, error) {
	return repo.First[models.Order](r.DB(ctx).Where("provider_shipment_id = ?", providerShipmentID))
}

// Save writes the named columns from order. updated_at is always refreshed.
func (r *repository) Save(ctx context.Context, tx *gorm.DB, order *models.Order, columns []string) error {
	if len(columns) == 0 {
		return nil
	}
	return r.Conn(ctx, tx).Model(order).Select(columns).Updates(order).Error
}

// MarkEscrowReleased flips escrow_released only while it is still false and writes the named
// columns in the same statement. It reports false when another writer got there first.
func (r *repository) MarkEscrowReleased(ctx context.Context, tx *gorm.DB, order *models.Order, columns []string) (bool, error) {
	order.EscrowReleased = true
	selected := append([]string{"escrow_released"}, columns...)
	res := r.Conn(ctx, tx).
		Model(order).
		Where("escrow_released = ?", false).
		Select(selected).
		Updates(order)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListInspectionDue returns premium orders whose inspection window closed without a release.
func (r *repository) ListInspectionDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.DB(ctx).
		Model(&models.Order{}).
		Where("verification_level = ?", enums.VerificationLevelPremium).
		Where("escrow_released = ?", false).
		Where("inspection_period_end IS NOT NULL AND inspection_period_end <= ?", now.UTC()).
		Where("shipping_status NOT IN ?", []enums.ShippingStatus{enums.ShippingStatusCancelled, enums.ShippingStatusReturned}).
		Order("inspection_period_end ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repository) ListByParticipant(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.DB(ctx).
		Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Scopes(pagination.Keyset(cursor, pagination.NewestFirst, limit)).
		Find(&rows).Error
	return rows, err
}
