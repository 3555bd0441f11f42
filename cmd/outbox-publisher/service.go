package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-escrow/pkg/config"
	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
	"github.com/angelmondragon/marketplace-escrow/pkg/metrics"
	"github.com/angelmondragon/marketplace-escrow/pkg/outbox/registry"
)

const (
	fallbackBatchSize   = 50
	fallbackIdle        = 500 * time.Millisecond
	fallbackMaxAttempts = 10
	publishDeadline     = 15 * time.Second
	backoffCeiling      = 10 * time.Second
	jitterSpread        = 250 * time.Millisecond
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type brokerPinger interface {
	Ping(context.Context) error
}

type eventStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterStore interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// ServiceParams wires the relay. Topics defaults to Pub/Sub publishers from Broker.
type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         txRunner
	Broker     brokerPinger
	Events     eventStore
	DeadLetter deadLetterStore
	Resolver   eventResolver
	Topics     topicLookup
	Metrics    *metrics.OutboxMetrics
}

// Service drains outbox_events into Pub/Sub. Each row ends a batch as
// published, scheduled for retry, or moved to the dead-letter table.
type Service struct {
	logg       *logger.Logger
	db         txRunner
	broker     brokerPinger
	events     eventStore
	deadLetter deadLetterStore
	resolver   eventResolver
	topics     topicLookup
	metrics    *metrics.OutboxMetrics

	batchSize   int
	maxAttempts int
	idle        time.Duration

	jitterMu sync.Mutex
	jitter   *rand.Rand
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.Config == nil:
		return nil, errors.New("config is required")
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.Broker == nil:
		return nil, errors.New("pubsub client is required")
	case p.Events == nil:
		return nil, errors.New("outbox repository is required")
	case p.DeadLetter == nil:
		return nil, errors.New("dlq repository is required")
	case p.Resolver == nil:
		return nil, errors.New("event registry is required")
	case p.Topics == nil:
		return nil, errors.New("topic lookup is required")
	}

	return &Service{
		logg:        p.Logger,
		db:          p.DB,
		broker:      p.Broker,
		events:      p.Events,
		deadLetter:  p.DeadLetter,
		resolver:    p.Resolver,
		topics:      p.Topics,
		metrics:     p.Metrics,
		batchSize:   positiveOr(p.Config.Outbox.BatchSize, fallbackBatchSize),
		maxAttempts: positiveOr(p.Config.Outbox.MaxAttempts, fallbackMaxAttempts),
		idle:        idleInterval(p.Config.Outbox.PollIntervalMS),
		jitter:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func idleInterval(ms int) time.Duration {
	if ms <= 0 {
		return fallbackIdle
	}
	return time.Duration(ms) * time.Millisecond
}

// Run polls until ctx is cancelled. Database errors back off exponentially;
// a full batch with no retries is followed immediately by another drain.
func (s *Service) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{
		"database": s.db.Ping,
		"pubsub":   s.broker.Ping,
	} {
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	delay := s.idle
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		handled, retried, err := s.drain(ctx)
		switch {
		case err != nil:
			s.metrics.IncBatchError()
			s.logg.Error(ctx, "outbox publisher batch error", err)
			delay = min(delay*2, backoffCeiling)
		case handled >= s.batchSize && retried == 0:
			delay = s.idle
			continue
		default:
			delay = s.idle
		}

		if err := s.wait(ctx, delay); err != nil {
			return err
		}
	}
}

// drain claims one batch inside a transaction and relays every row in it.
// It returns the number of rows handled and how many of those were left for retry.
func (s *Service) drain(ctx context.Context) (handled, retried int, err error) {
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		batch, err := s.events.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		for _, event := range batch {
			outcome, err := s.relay(ctx, tx, event)
			if err != nil {
				return err
			}
			s.metrics.IncRelayed(string(event.EventType), outcome)
			if outcome == metrics.RelayRetry {
				retried++
			}
			handled++
		}
		return nil
	})
	return handled, retried, err
}

func (s *Service) wait(ctx context.Context, d time.Duration) error {
	s.jitterMu.Lock()
	d += time.Duration(s.jitter.Int63n(int64(jitterSpread)))
	s.jitterMu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
