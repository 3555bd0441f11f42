package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/marketplace-escrow/internal/escrow"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
)

const (
	EscrowSweepJobName   = "escrow-inspection-sweep"
	defaultSweepInterval = 5 * time.Minute
)

type expiredEscrowProcessor interface {
	ProcessExpired(ctx context.Context) (*escrow.SweepResult, error)
}

type EscrowSweepJobParams struct {
	Logger    *logger.Logger
	Processor expiredEscrowProcessor
	Every     time.Duration
}

// NewEscrowSweepJob releases premium escrows whose inspection window has closed.
func NewEscrowSweepJob(params EscrowSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Processor == nil {
		return nil, fmt.Errorf("escrow processor required")
	}
	every := params.Every
	if every <= 0 {
		every = defaultSweepInterval
	}
	return &escrowSweepJob{logg: params.Logger, processor: params.Processor, every: every}, nil
}

type escrowSweepJob struct {
	logg      *logger.Logger
	processor expiredEscrowProcessor
	every     time.Duration
}

func (j *escrowSweepJob) Name() string         { return EscrowSweepJobName }
func (j *escrowSweepJob) Every() time.Duration { return j.every }

// Run reports the sweep counts even when some orders failed; the error carries the failures.
func (j *escrowSweepJob) Run(ctx context.Context) error {
	result, err := j.processor.ProcessExpired(ctx)
	if result != nil {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"scanned":  result.Scanned,
			"released": result.Released,
			"skipped":  result.Skipped,
			"failed":   result.Failed,
		}), "escrow inspection sweep finished")
	}
	if err != nil {
		return fmt.Errorf("escrow sweep: %w", err)
	}
	return nil
}
