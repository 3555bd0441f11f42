package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
	"github.com/angelmondragon/marketplace-escrow/pkg/pagination"
)

// Repository defines persistence operations for the orders table. Write methods take an
// optional transaction; a nil tx runs against the base connection.
type Repository interface {
	Create(ctx context.Context, tx *gorm.DB, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Order, error)
	FindByProviderShipmentID(ctx context.Context, providerShipmentID string) (*models.Order, error)
	Save(ctx context.Context, tx *gorm.DB, order *models.Order, columns []string) error
	MarkEscrowReleased(ctx context.Context, tx *gorm.DB, order *models.Order, columns []string) (bool, error)
	ListInspectionDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListByParticipant(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Order, error)
}
