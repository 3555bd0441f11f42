package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
)

// maxErrorLen bounds last_error and error_message; provider errors can embed whole HTML pages.
const maxErrorLen = 1024

var errNoTx = errors.New("transaction required")

func clip(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}

// Repository owns outbox_events. Writers only append; the publisher marks
// rows and the retention job prunes them.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errNoTx
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return tx.Create(&event).Error
}

// FetchUnpublishedForPublish returns the oldest pending rows below the attempt
// ceiling. On postgres the rows stay locked (SKIP LOCKED) until tx ends, so
// parallel publishers take disjoint batches.
func (r *Repository) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errNoTx
	}
	query := tx.Where("published_at IS NULL")
	if maxAttempts > 0 {
		query = query.Where("attempt_count < ?", maxAttempts)
	}
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var rows []models.OutboxEvent
	err := query.Order("created_at ASC, id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	return mark(tx, id, map[string]any{
		"published_at": time.Now().UTC(),
		"last_error":   nil,
	})
}

func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, cause error) error {
	return mark(tx, id, map[string]any{
		"last_error":    errorText(cause),
		"attempt_count": gorm.Expr("attempt_count + 1"),
	})
}

// MarkTerminalTx pins attempt_count at the ceiling so the row is never fetched again.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, cause error, ceiling int) error {
	return mark(tx, id, map[string]any{
		"last_error":    errorText(cause),
		"attempt_count": ceiling,
	})
}

func mark(tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	if tx == nil {
		return errNoTx
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(updates).Error
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return clip(err.Error())
}

// DeletePublishedBefore prunes delivered rows. Pending rows are never deleted, whatever their age.
func (r *Repository) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	conn := r.db
	if tx != nil {
		conn = tx
	}
	res := conn.WithContext(ctx).
		Where("published_at IS NOT NULL AND published_at < ?", cutoff.UTC()).
		Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}
