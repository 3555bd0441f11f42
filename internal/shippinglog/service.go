package shippinglog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/pagination"
	"github.com/angelmondragon/marketplace-escrow/pkg/types"
)

// Entry is one audit record to append.
type Entry struct {
	OrderID uuid.UUID
	Action  enums.ShippingLogAction
	Status  string
	Outcome string
	Source  enums.ShippingEventSource
	ActorID *uuid.UUID
	Payload types.RawJSON
	Notes   string
}

// EntryView is an audit row as returned by the API.
type EntryView struct {
	ID        uuid.UUID                 `json:"id"`
	Action    enums.ShippingLogAction   `json:"action"`
	Status    string                    `json:"status"`
	Outcome   string                    `json:"outcome"`
	Source    enums.ShippingEventSource `json:"source"`
	ActorID   *uuid.UUID                `json:"actor_id,omitempty"`
	Payload   types.RawJSON             `json:"payload,omitempty"`
	Notes     *string                   `json:"notes,omitempty"`
	CreatedAt time.Time                 `json:"created_at"`
}

// Page is a cursor page of audit rows.
type Page struct {
	Items      []EntryView `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// Service appends to and reads the order audit trail.
type Service interface {
	// Append writes within tx when it is non-nil, so the row commits or rolls back with the state change.
	Append(ctx context.Context, tx *gorm.DB, entry Entry) error
	ListByOrder(ctx context.Context, orderID uuid.UUID, params pagination.Params) (*Page, error)
}

type service struct {
	repo Repository
}

// NewService builds the audit service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shipping log repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Append(ctx context.Context, tx *gorm.DB, entry Entry) error {
	if entry.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if entry.Action == "" || entry.Outcome == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "action and outcome are required")
	}
	if entry.Source == "" {
		entry.Source = enums.ShippingEventSourceSystem
	}
	row := &models.ShippingLog{
		OrderID: entry.OrderID,
		Action:  entry.Action,
		Status:  entry.Status,
		Outcome: entry.Outcome,
		Source:  entry.Source,
		ActorID: entry.ActorID,
		Payload: entry.Payload,
	}
	if entry.Notes != "" {
		notes := entry.Notes
		row.Notes = &notes
	}
	if err := s.repo.WithTx(tx).Insert(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append shipping log")
	}
	return nil
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID, params pagination.Params) (*Page, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListByOrder(ctx, orderID, cursor, params.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list shipping logs")
	}

	rows, next := pagination.Trim(rows, params.Limit, func(row models.ShippingLog) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	page := &Page{Items: make([]EntryView, 0, len(rows)), NextCursor: next}
	for _, row := range rows {
		page.Items = append(page.Items, EntryView{
			ID:        row.ID,
			Action:    row.Action,
			Status:    row.Status,
			Outcome:   row.Outcome,
			Source:    row.Source,
			ActorID:   row.ActorID,
			Payload:   row.Payload,
			Notes:     row.Notes,
			CreatedAt: row.CreatedAt,
		})
	}
	return page, nil
}
