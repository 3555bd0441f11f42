package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	"github.com/angelmondragon/marketplace-escrow/pkg/types"
)

// ShippingLog is an append-only audit row for every status change or escrow action on an order.
type ShippingLog struct {
	ID        uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID                 `gorm:"column:order_id;type:uuid;not null"`
	Action    enums.ShippingLogAction   `gorm:"column:action;not null"`
	Status    string                    `gorm:"column:status;not null"`
	Outcome   string                    `gorm:"column:outcome;not null"`
	Source    enums.ShippingEventSource `gorm:"column:source;not null"`
	ActorID   *uuid.UUID                `gorm:"column:actor_id;type:uuid"`
	Payload   types.RawJSON             `gorm:"column:payload;type:jsonb"`
	Notes     *string                   `gorm:"column:notes"`
	CreatedAt time.Time                 `gorm:"column:created_at;autoCreateTime"`
}
