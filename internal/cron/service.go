package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"
	"go.uber.org/multierr"

	"github.com/monidesk/ibos-backend/pkg/logger"
	"github.com/monidesk/ibos-backend/pkg/metrics"
)

const defaultSchedule = "@every 1m"

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	// Schedule is the cron spec for jobs that do not declare their own.
	Schedule string
}

// Service executes registered cron jobs on their schedules.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	schedule string
}

// NewService builds a cron service and validates every job's schedule.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = &Registry{}
	}
	schedule := strings.TrimSpace(params.Schedule)
	if schedule == "" {
		schedule = defaultSchedule
	}
	s := &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		schedule: schedule,
	}
	for _, job := range registry.Jobs() {
		if _, err := robfig.ParseStandard(s.scheduleFor(job)); err != nil {
			return nil, fmt.Errorf("job %s schedule: %w", job.Name(), err)
		}
	}
	return s, nil
}

func (s *Service) scheduleFor(job Job) string {
	if scheduled, ok := job.(Scheduled); ok {
		if spec := strings.TrimSpace(scheduled.Schedule()); spec != "" {
			return spec
		}
	}
	return s.schedule
}

// Run runs every job once, then hands them to the scheduler until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.RunOnce(ctx); err != nil {
		s.logg.Error(ctx, "initial cron run failed", err)
	}

	scheduler := robfig.New(robfig.WithChain(robfig.SkipIfStillRunning(robfig.DiscardLogger)))
	for _, job := range s.registry.Jobs() {
		job := job
		if _, err := scheduler.AddFunc(s.scheduleFor(job), func() {
			_ = s.runJob(ctx, job)
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", job.Name(), err)
		}
	}
	scheduler.Start()
	<-ctx.Done()
	s.logg.Info(ctx, "cron service context canceled")
	<-scheduler.Stop().Done()
	return ctx.Err()
}

// RunOnce runs every registered job and returns their combined failures.
func (s *Service) RunOnce(ctx context.Context) error {
	var errs error
	for _, job := range s.registry.Jobs() {
		errs = multierr.Append(errs, s.runJob(ctx, job))
	}
	return errs
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")

	locked, err := s.lock.Acquire(jobCtx, job.Name())
	if err != nil {
		s.logg.Error(jobCtx, "lock acquire failed", err)
		return fmt.Errorf("%s lock: %w", job.Name(), err)
	}
	if !locked {
		s.logg.Debug(jobCtx, "another worker holds the job lock; skipping")
		s.metrics.IncSkipped(job.Name())
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(jobCtx, job.Name()); relErr != nil {
			s.logg.Error(jobCtx, "failed to release cron lock", relErr)
		}
	}()

	start := time.Now()
	err = job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.ObserveDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.IncFailure(job.Name())
		return fmt.Errorf("%s: %w", job.Name(), err)
	}
	s.logg.Debug(jobCtx, "job completed")
	s.metrics.IncSuccess(job.Name(), time.Now())
	return nil
}
