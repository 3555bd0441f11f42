package cron

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
	"github.com/angelmondragon/marketplace-escrow/pkg/metrics"
)

const defaultTick = time.Minute

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	// Tick is how often due jobs are checked; a job's own cadence comes from Every.
	Tick time.Duration
	Now  func() time.Time
}

// Service is the cron worker loop. On every tick it runs the jobs whose
// cadence has elapsed, each under its own distributed lock.
type Service struct {
	logg    *logger.Logger
	jobs    []Job
	lock    Lock
	metrics *metrics.CronJobMetrics
	tick    time.Duration
	now     func() time.Time

	// next holds the earliest time each job may run again on this worker.
	next map[string]time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock required")
	}
	s := &Service{
		logg:    params.Logger,
		lock:    params.Lock,
		metrics: params.Metrics,
		tick:    params.Tick,
		now:     params.Now,
		next:    map[string]time.Time{},
	}
	if params.Registry != nil {
		s.jobs = params.Registry.Jobs()
	}
	if s.tick <= 0 {
		s.tick = defaultTick
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Run checks for due jobs immediately and then on every tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		s.runDue(ctx)
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runDue gives every due job a turn. Failures are logged per job; a job
// denied its lock stays due and is retried on the next tick.
func (s *Service) runDue(ctx context.Context) {
	now := s.now()
	for _, job := range s.jobs {
		if now.Before(s.next[job.Name()]) {
			continue
		}
		if s.runExclusive(ctx, job) {
			s.next[job.Name()] = now.Add(job.Every())
		}
	}
}

func (s *Service) runExclusive(ctx context.Context, job Job) bool {
	ctx = s.logg.WithField(ctx, "job", job.Name())
	acquired, err := s.lock.Acquire(ctx, job.Name())
	switch {
	case err != nil:
		s.logg.Error(ctx, "cron lock acquire failed", err)
		return false
	case !acquired:
		s.logg.Debug(ctx, "cron job held by another worker")
		return false
	}
	defer func() {
		if err := s.lock.Release(ctx, job.Name()); err != nil {
			s.logg.Error(ctx, "cron lock release failed", err)
		}
	}()

	started := time.Now()
	err = job.Run(ctx)
	took := time.Since(started)
	s.metrics.Observe(job.Name(), took, err)

	ctx = s.logg.WithField(ctx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "cron job failed", err)
	} else {
		s.logg.Info(ctx, "cron job finished")
	}
	return true
}
