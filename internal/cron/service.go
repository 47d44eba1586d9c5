// Package cron runs the reconciliation sweeps that guarantee every pending
// purchase eventually converges, even when neither the buyer's poll nor the
// gateway webhook ever arrives.
package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/lumina-photos/lumina-backend/pkg/logger"
	"github.com/lumina-photos/lumina-backend/pkg/metrics"
)

const (
	defaultInterval    = 5 * time.Minute
	defaultJobTimeout  = 2 * time.Minute
	lockReleaseTimeout = 5 * time.Second
)

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout bounds a single job so one stuck sweep cannot hold the lock
	// for the whole lease.
	JobTimeout time.Duration
}

// Service runs every registered job once per interval under a distributed lock.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
}

// JobResult is the outcome of one job within a cycle.
type JobResult struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Cycle summarizes a RunOnce call. Skipped is set when another replica held
// the lock and no job ran.
type Cycle struct {
	Skipped bool
	Results []JobResult
}

// Failed counts jobs that returned an error.
func (c Cycle) Failed() int {
	n := 0
	for _, r := range c.Results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock required")
	}
	svc := &Service{
		logg:       params.Logger,
		registry:   params.Registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
	}
	if svc.registry == nil {
		svc.registry = &Registry{}
	}
	if svc.interval <= 0 {
		svc.interval = defaultInterval
	}
	if svc.jobTimeout <= 0 {
		svc.jobTimeout = defaultJobTimeout
	}
	return svc, nil
}

// Run executes a cycle immediately and then on every tick until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"interval":    s.interval.String(),
		"job_timeout": s.jobTimeout.String(),
		"jobs":        s.registry.Names(),
	}), "cron.started")

	// first cycle runs inline so a fresh replica catches up before waiting
	s.tick(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithStopTimeout(s.jobTimeout+lockReleaseTimeout),
	)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() { s.tick(ctx) }),
		gocron.WithName("cron-cycle"),
		// an overrunning cycle delays the next one instead of stacking
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return fmt.Errorf("schedule cycle: %w", err)
	}
	scheduler.Start()

	<-ctx.Done()
	if err := scheduler.Shutdown(); err != nil {
		s.logg.Error(ctx, "cron.scheduler_shutdown_failed", err)
	}
	return ctx.Err()
}

func (s *Service) tick(ctx context.Context) {
	cycle, err := s.RunOnce(ctx)
	switch {
	case err != nil:
		s.logg.Error(ctx, "cron.cycle_failed", err)
	case cycle.Skipped:
		s.logg.Debug(ctx, "cron.cycle_skipped_locked")
	default:
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"jobs":   len(cycle.Results),
			"failed": cycle.Failed(),
		}), "cron.cycle_completed")
	}
}

// RunOnce runs all jobs if this instance wins the lock. A failing job does
// not stop the ones after it; the returned error only covers the lock.
func (s *Service) RunOnce(ctx context.Context) (Cycle, error) {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return Cycle{}, err
	}
	if !locked {
		return Cycle{Skipped: true}, nil
	}
	defer func() {
		// release even when ctx was canceled mid-cycle
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
		defer cancel()
		if relErr := s.lock.Release(releaseCtx); relErr != nil {
			s.logg.Error(ctx, "cron.lock_release_failed", relErr)
		}
	}()

	jobs := s.registry.Jobs()
	cycle := Cycle{Results: make([]JobResult, 0, len(jobs))}
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		cycle.Results = append(cycle.Results, s.runJob(ctx, job))
	}
	return cycle, nil
}

func (s *Service) runJob(ctx context.Context, job Job) JobResult {
	name := job.Name()
	jobCtx, cancel := context.WithTimeout(s.logg.WithField(ctx, "job", name), s.jobTimeout)
	defer cancel()

	start := time.Now()
	err := job.Run(jobCtx)
	res := JobResult{Name: name, Duration: time.Since(start), Err: err}
	s.metrics.ObserveRun(name, res.Duration, err)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", res.Duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "cron.job_failed", err)
	} else {
		s.logg.Info(jobCtx, "cron.job_completed")
	}
	return res
}
