package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	"github.com/angelmondragon/marketplace-escrow/pkg/metrics"
	"github.com/angelmondragon/marketplace-escrow/pkg/outbox"
	"github.com/angelmondragon/marketplace-escrow/pkg/outbox/registry"
)

// relay publishes a single row and records its outcome in the same tx.
// A returned error aborts the batch; publish failures are outcomes, not errors.
func (s *Service) relay(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (string, error) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"order_id":       event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	})

	resolved, err := s.resolver.Resolve(event)
	if err != nil {
		return s.deadLetterRow(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err)
	}
	topic := resolved.Descriptor.Topic
	ctx = s.logg.WithFields(ctx, map[string]any{
		"topic":    topic,
		"event_id": resolved.Envelope.EventID,
	})

	pubErr := s.publish(ctx, topic, event, resolved)
	if pubErr == nil {
		if err := s.events.MarkPublishedTx(tx, event.ID); err != nil {
			return "", fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.logg.Info(ctx, "outbox event published")
		return metrics.RelayPublished, nil
	}

	var permanent registry.NonRetryableError
	if errors.As(pubErr, &permanent) {
		return s.deadLetterRow(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, pubErr)
	}
	if event.AttemptCount+1 >= s.maxAttempts {
		return s.deadLetterRow(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("max publish attempts reached: %w", pubErr))
	}

	s.logg.Warn(s.logg.WithField(ctx, "error", pubErr.Error()), "outbox publish failed, will retry")
	if err := s.events.MarkFailedTx(tx, event.ID, pubErr); err != nil {
		return "", fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	return metrics.RelayRetry, nil
}

// deadLetterRow copies the row into outbox_dlq and stops further attempts.
func (s *Service) deadLetterRow(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) (string, error) {
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        cause.Error(),
	}), "outbox event moved to dead letter")

	if err := s.deadLetter.InsertTx(tx, outbox.DeadLetterFor(event, reason, cause, time.Now())); err != nil {
		return "", fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.events.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return "", fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return metrics.RelayDeadLettered, nil
}
