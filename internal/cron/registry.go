package cron

import (
	"context"
	"fmt"
	"time"
)

// Job is a scheduled task run by the cron worker. Every is the minimum spacing between runs.
type Job interface {
	Name() string
	Every() time.Duration
	Run(ctx context.Context) error
}

// Registry tracks registered cron jobs by name.
type Registry struct {
	jobs  []Job
	names map[string]struct{}
}

// NewRegistry builds a registry preloaded with the provided jobs. Nil jobs are skipped.
func NewRegistry(jobs ...Job) (*Registry, error) {
	registry := &Registry{names: map[string]struct{}{}}
	for _, job := range jobs {
		if job == nil {
			continue
		}
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Register adds a job. Job names key the per-job locks, so they must be unique.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if r.names == nil {
		r.names = map[string]struct{}{}
	}
	name := job.Name()
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	r.names[name] = struct{}{}
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns the registered jobs in the order they were added.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}
