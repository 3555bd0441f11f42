package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
)

const (
	OutboxRetentionJobName = "outbox-retention"
	outboxRetentionDays    = 30
	outboxRetentionEvery   = 24 * time.Hour
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type publishedPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository publishedPruner
	// Retention is in days; zero keeps published events for 30 days.
	Retention int
}

// outboxRetentionJob deletes events the publisher delivered more than the
// retention window ago. Unpublished rows are never touched.
type outboxRetentionJob struct {
	logg   *logger.Logger
	db     txRunner
	pruner publishedPruner
	keep   time.Duration
	now    func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	days := params.Retention
	if days <= 0 {
		days = outboxRetentionDays
	}
	return &outboxRetentionJob{
		logg:   params.Logger,
		db:     params.DB,
		pruner: params.Repository,
		keep:   time.Duration(days) * 24 * time.Hour,
		now:    time.Now,
	}, nil
}

func (j *outboxRetentionJob) Name() string         { return OutboxRetentionJobName }
func (j *outboxRetentionJob) Every() time.Duration { return outboxRetentionEvery }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.keep)
	var deleted int64
	if err := j.db.WithTx(ctx, func(tx *gorm.DB) (err error) {
		deleted, err = j.pruner.DeletePublishedBefore(ctx, tx, cutoff)
		return err
	}); err != nil {
		return fmt.Errorf("prune published outbox events: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "published outbox events pruned")
	return nil
}
