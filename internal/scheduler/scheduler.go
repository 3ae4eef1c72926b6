// Package scheduler triggers harvest runs periodically, one independent loop
// per portal.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
)

// Runner performs one harvest run. Satisfied by *harvest.Orchestrator.
type Runner interface {
	Portal() string
	Run(ctx context.Context, filter schemas.ListingFilter) (*schemas.HarvestResult, error)
}

// Job is a runner and the cadence it is triggered at.
type Job struct {
	Runner   Runner
	Interval time.Duration
	// Filter builds the listing filter for a run starting at now.
	Filter func(now time.Time) schemas.ListingFilter
}

// Scheduler runs every job on its own ticker. A tick that arrives while the
// previous run of the same portal is still in flight is skipped.
type Scheduler struct {
	jobs       []Job
	logger     *zap.Logger
	runOnStart bool
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunOnStart fires every job once as soon as Start is called.
func WithRunOnStart() Option {
	return func(s *Scheduler) { s.runOnStart = true }
}

// New returns a scheduler for jobs.
func New(logger *zap.Logger, jobs []Job, opts ...Option) (*Scheduler, error) {
	for _, j := range jobs {
		if j.Runner == nil || j.Filter == nil {
			return nil, fmt.Errorf("job is missing a runner or filter")
		}
		if j.Interval <= 0 {
			return nil, fmt.Errorf("job %s: interval must be positive", j.Runner.Portal())
		}
	}
	s := &Scheduler{
		jobs:   jobs,
		logger: logger.Named("scheduler"),
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start blocks until ctx is done and every in-flight run has returned.
func (s *Scheduler) Start(ctx context.Context) error {
	if len(s.jobs) == 0 {
		return fmt.Errorf("no portals scheduled")
	}
	s.logger.Info("Scheduler started.", zap.Int("jobs", len(s.jobs)))

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		g.Go(func() error {
			s.loop(gctx, g, job)
			return nil
		})
	}
	err := g.Wait()
	s.logger.Info("Scheduler stopped.")
	return err
}

func (s *Scheduler) loop(ctx context.Context, g *errgroup.Group, job Job) {
	name := job.Runner.Portal()
	s.logger.Info("Portal scheduled.", zap.String("portal", name), zap.Duration("interval", job.Interval))

	if s.runOnStart {
		g.Go(func() error {
			s.Trigger(ctx, job)
			return nil
		})
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Go(func() error {
				s.Trigger(ctx, job)
				return nil
			})
		}
	}
}

// Trigger runs job now unless a run for the same portal is in flight. It
// reports whether the run happened. Run errors are logged, not returned;
// one failed run never stops the schedule.
func (s *Scheduler) Trigger(ctx context.Context, job Job) bool {
	name := job.Runner.Portal()
	lock := s.lockFor(name)
	if !lock.TryLock() {
		s.logger.Warn("Previous run still in progress, skipping tick.", zap.String("portal", name))
		return false
	}
	defer lock.Unlock()

	start := s.now()
	filter := job.Filter(start)
	log := s.logger.With(zap.String("portal", name))
	log.Info("Scheduled run starting.", zap.String("from", filter.DateFrom), zap.String("to", filter.DateTo))

	result, err := job.Runner.Run(ctx, filter)
	elapsed := s.now().Sub(start)
	if err != nil {
		log.Error("Scheduled run failed.", zap.Duration("elapsed", elapsed), zap.Error(err))
		return true
	}
	log.Info("Scheduled run finished.",
		zap.Duration("elapsed", elapsed),
		zap.Int("orders", len(result.Orders)),
		zap.Int("failures", len(result.Failures)))
	return true
}

func (s *Scheduler) lockFor(portal string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[portal]
	if !ok {
		l = &sync.Mutex{}
		s.locks[portal] = l
	}
	return l
}
