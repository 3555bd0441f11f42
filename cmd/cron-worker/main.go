package main

import (
	"context"
	"fmt"

	"github.com/angelmondragon/marketplace-escrow/internal/bootstrap"
	"github.com/angelmondragon/marketplace-escrow/internal/cron"
	"github.com/angelmondragon/marketplace-escrow/pkg/metrics"
)

func main() {
	bootstrap.Main("cron-worker", run)
}

// lockPrefix scopes the job locks per environment so staging and production
// workers sharing a Redis never block each other.
func lockPrefix(env string) string {
	if env == "" {
		env = "local"
	}
	return "escrow:cron-worker:" + env
}

func run(ctx context.Context, rt *bootstrap.Runtime) error {
	cfg := rt.Config
	redisClient, err := rt.Redis(ctx)
	if err != nil {
		return err
	}
	stack, err := rt.Escrow()
	if err != nil {
		return err
	}

	sweep, err := cron.NewEscrowSweepJob(cron.EscrowSweepJobParams{
		Logger:    rt.Logger,
		Processor: stack.Service,
		Every:     cfg.Cron.SweepEvery,
	})
	if err != nil {
		return fmt.Errorf("escrow sweep job: %w", err)
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     rt.Logger,
		DB:         rt.DB,
		Repository: stack.OutboxRepo,
		Retention:  cfg.Cron.OutboxRetentionDays,
	})
	if err != nil {
		return fmt.Errorf("outbox retention job: %w", err)
	}
	jobs, err := cron.NewRegistry(sweep, retention)
	if err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}

	lock, err := cron.NewRedisLock(redisClient, lockPrefix(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}
	scheduler, err := cron.NewService(cron.ServiceParams{
		Logger:   rt.Logger,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(rt.Registry),
		Tick:     cfg.Cron.Tick,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	rt.ServeMetrics(ctx, cfg.Cron.MetricsAddr)
	rt.Logger.Info(ctx, "starting cron worker")
	return scheduler.Run(ctx)
}
