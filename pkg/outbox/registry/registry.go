// Package registry maps outbox event types to their topic and payload schema
// and decodes stored rows back into typed events for the publisher.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-escrow/pkg/config"
	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	"github.com/angelmondragon/marketplace-escrow/pkg/outbox"
	"github.com/angelmondragon/marketplace-escrow/pkg/outbox/payloads"
)

// MaxEnvelopeVersion is the newest envelope layout this build can decode.
const MaxEnvelopeVersion = 1

type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that will never publish, however often it is retried.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func permanent(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

func describe[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:      eventType,
		AggregateType:  aggregate,
		Topic:          topic,
		PayloadFactory: func() any { return new(T) },
	}
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NewEventRegistry routes order events to the escrow topic and wallet events
// to the wallet topic, falling back to the escrow topic when none is set.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	escrowTopic := strings.TrimSpace(cfg.EscrowTopic)
	if escrowTopic == "" {
		return nil, errors.New("escrow topic is required")
	}
	walletTopic := strings.TrimSpace(cfg.WalletTopic)
	if walletTopic == "" {
		walletTopic = escrowTopic
	}

	descriptors := []EventDescriptor{
		describe[payloads.ShippingStatusChangedEvent](enums.EventShippingStatusChanged, enums.AggregateOrder, escrowTopic),
		describe[payloads.InspectionStartedEvent](enums.EventInspectionStarted, enums.AggregateOrder, escrowTopic),
		describe[payloads.EscrowReleasedEvent](enums.EventEscrowReleased, enums.AggregateOrder, escrowTopic),
		describe[payloads.ShipmentFailedEvent](enums.EventShipmentFailed, enums.AggregateOrder, escrowTopic),
		describe[payloads.WalletWithdrawalCompletedEvent](enums.EventWalletWithdrawalCompleted, enums.AggregateWallet, walletTopic),
	}
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(descriptors))}
	for _, d := range descriptors {
		reg.entries[d.EventType] = d
	}
	return reg, nil
}

// Topics lists every topic some event type routes to.
func (r *EventRegistry) Topics() []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range r.entries {
		if !seen[d.Topic] {
			seen[d.Topic] = true
			out = append(out, d.Topic)
		}
	}
	return out
}

// Resolve checks the row against its descriptor and decodes the typed payload.
// Every failure is non-retryable: the row's bytes will not change on retry.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, permanent("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, permanent("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, permanent("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, permanent("decode envelope: %w", err)
	}
	if envelope.Version > MaxEnvelopeVersion {
		return nil, permanent("envelope version %d is newer than %d", envelope.Version, MaxEnvelopeVersion)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, permanent("payload missing for %s", event.EventType)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, permanent("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
