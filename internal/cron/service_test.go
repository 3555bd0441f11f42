package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
)

type fakeLock struct {
	held    map[string]bool
	denied  map[string]bool
	history []string
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: map[string]bool{}, denied: map[string]bool{}}
}

func (f *fakeLock) Acquire(_ context.Context, name string) (bool, error) {
	if f.denied[name] || f.held[name] {
		return false, nil
	}
	f.held[name] = true
	f.history = append(f.history, "acquire:"+name)
	return true, nil
}

func (f *fakeLock) Release(_ context.Context, name string) error {
	f.held[name] = false
	f.history = append(f.history, "release:"+name)
	return nil
}

type testJob struct {
	name  string
	every time.Duration
	err   error
	runs  int
}

func (t *testJob) Name() string         { return t.name }
func (t *testJob) Every() time.Duration { return t.every }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func newTestService(t *testing.T, lock Lock, clock *time.Time, jobs ...Job) *Service {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		Registry: registry,
		Lock:     lock,
		Now:      func() time.Time { return *clock },
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestServiceRunsAllJobsEvenOnFailure(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	success := &testJob{name: "success", every: time.Minute}
	failure := &testJob{name: "fail", every: time.Minute, err: errors.New("boom")}
	lock := newFakeLock()
	service := newTestService(t, lock, &clock, success, failure)

	service.runDue(context.Background())
	if success.runs != 1 || failure.runs != 1 {
		t.Fatalf("expected both jobs to run once, got %d and %d", success.runs, failure.runs)
	}
	if lock.held["success"] || lock.held["fail"] {
		t.Fatalf("locks should be released after each job")
	}
}

func TestServiceRespectsJobCadence(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fast := &testJob{name: "fast", every: time.Minute}
	slow := &testJob{name: "slow", every: time.Hour}
	service := newTestService(t, newFakeLock(), &clock, fast, slow)
	ctx := context.Background()

	service.runDue(ctx)
	clock = clock.Add(2 * time.Minute)
	service.runDue(ctx)
	clock = clock.Add(2 * time.Minute)
	service.runDue(ctx)

	if fast.runs != 3 {
		t.Fatalf("expected fast job to run 3 times, ran %d", fast.runs)
	}
	if slow.runs != 1 {
		t.Fatalf("expected slow job to run once, ran %d", slow.runs)
	}

	clock = clock.Add(time.Hour)
	service.runDue(ctx)
	if slow.runs != 2 {
		t.Fatalf("expected slow job to run again after an hour, ran %d", slow.runs)
	}
}

func TestServiceSkipsJobHeldElsewhere(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	job := &testJob{name: "sweep", every: time.Hour}
	lock := newFakeLock()
	lock.denied["sweep"] = true
	service := newTestService(t, lock, &clock, job)
	ctx := context.Background()

	service.runDue(ctx)
	if job.runs != 0 {
		t.Fatalf("job should not run without the lock")
	}

	// The next tick retries instead of waiting a full cadence.
	lock.denied["sweep"] = false
	clock = clock.Add(time.Minute)
	service.runDue(ctx)
	if job.runs != 1 {
		t.Fatalf("expected job to run once the lock frees, ran %d", job.runs)
	}
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	job := &testJob{name: "sweep", every: time.Hour}
	service := newTestService(t, newFakeLock(), &clock, job)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := service.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if job.runs != 1 {
		t.Fatalf("due jobs run before the first tick, ran %d", job.runs)
	}
}
