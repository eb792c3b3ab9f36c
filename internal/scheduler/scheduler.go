package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/puffperksonline/puffperks/internal/logger"
)

const defaultInterval = 5 * time.Minute

// Job is one background sweep: subscription sync, trial notices, open-hours
// dashboard refresh.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Locker gates a cycle to a single instance. Nil-able in tests.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Scheduler executes registered jobs on a fixed cadence until its context is
// canceled. One job failing never stops the others.
type Scheduler struct {
	jobs     []Job
	lock     Locker
	interval time.Duration
	log      *logger.Logger
}

func New(lock Locker, interval time.Duration, log *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{lock: lock, interval: interval, log: log}
}

func (s *Scheduler) Register(job Job) {
	s.jobs = append(s.jobs, job)
}

// Run blocks until ctx is done. The first cycle runs immediately.
func (s *Scheduler) Run(ctx context.Context) {
	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("SCHEDULER", "Stopping background jobs")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx)
		if err != nil {
			s.log.Error("SCHEDULER", fmt.Sprintf("Lock acquire failed: %v", err))
			return
		}
		if !acquired {
			s.log.Debug("SCHEDULER", "Another instance holds the sweep lock, skipping cycle")
			return
		}
		defer func() {
			if err := s.lock.Release(ctx); err != nil {
				s.log.Error("SCHEDULER", fmt.Sprintf("Lock release failed: %v", err))
			}
		}()
	}

	for _, job := range s.jobs {
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			s.log.Error("SCHEDULER", fmt.Sprintf("Job %s failed after %s: %v", job.Name(), time.Since(start), err))
			continue
		}
		s.log.Debug("SCHEDULER", fmt.Sprintf("Job %s completed in %s", job.Name(), time.Since(start)))
	}
}
