// Package scheduler submits periodic maintenance tasks.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one periodic submission.
type Job struct {
	Name  string
	Every time.Duration
	// Submit enqueues the work; it must not block on the work itself.
	Submit func(ctx context.Context) error
}

// Scheduler fires each job on its own ticker.
type Scheduler struct {
	jobs      []Job
	immediate bool
	logger    *zap.Logger
}

// New builds a Scheduler. With immediate set every job also fires once at
// start. Jobs with a non-positive interval are dropped.
func New(jobs []Job, immediate bool, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Every <= 0 || j.Submit == nil {
			logger.Info("scheduled job disabled", zap.String("job", j.Name))
			continue
		}
		kept = append(kept, j)
	}
	return &Scheduler{jobs: kept, immediate: immediate, logger: logger}
}

// Jobs returns the enabled jobs.
func (s *Scheduler) Jobs() []Job {
	return s.jobs
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, j := range s.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(j)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Every)
	defer ticker.Stop()
	if s.immediate {
		s.fire(ctx, job)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, job)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, job Job) {
	if err := job.Submit(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("scheduled submit failed", zap.String("job", job.Name), zap.Error(err))
		return
	}
	s.logger.Debug("scheduled job submitted", zap.String("job", job.Name))
}
