package enums

import "slices"

// OutboxAggregateType names the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder  OutboxAggregateType = "order"
	AggregateWallet OutboxAggregateType = "wallet"
)

func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains([]OutboxAggregateType{AggregateOrder, AggregateWallet}, a)
}

// OutboxEventType names the domain event carried by an outbox row.
type OutboxEventType string

const (
	EventShippingStatusChanged     OutboxEventType = "shipping_status_changed"
	EventInspectionStarted         OutboxEventType = "inspection_started"
	EventEscrowReleased            OutboxEventType = "escrow_released"
	EventShipmentFailed            OutboxEventType = "shipment_failed"
	EventWalletWithdrawalCompleted OutboxEventType = "wallet_withdrawal_completed"
)

var outboxEventTypes = []OutboxEventType{
	EventShippingStatusChanged,
	EventInspectionStarted,
	EventEscrowReleased,
	EventShipmentFailed,
	EventWalletWithdrawalCompleted,
}

func (e OutboxEventType) IsValid() bool {
	return slices.Contains(outboxEventTypes, e)
}

// OutboxDLQErrorReason records why a row left the outbox without publishing.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)
