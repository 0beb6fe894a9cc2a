package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Task is one run of a maintenance job. The context carries the run's deadline and a
// job-scoped logger.
type Task func(ctx context.Context) error

var (
	service     *Service
	serviceOnce sync.Once
	serviceErr  error
)

var (
	ErrNotInitialized = errors.New("scheduler not initialized")
	ErrEmptyJobName   = errors.New("job name is required")
	ErrEmptyCronExpr  = errors.New("cron expression is required")
	ErrDuplicateJob   = errors.New("job already registered")
)

// Service runs the process's maintenance jobs on a gocron scheduler. A job never overlaps
// with its own previous run.
type Service struct {
	scheduler gocron.Scheduler
	timeout   time.Duration

	mu   sync.Mutex
	jobs map[string]gocron.Job

	stopOnce sync.Once
	stopErr  error
}

// Init creates the scheduler singleton. Each run is bounded by jobTimeout.
func Init() error {
	serviceOnce.Do(func() {
		sched, err := gocron.NewScheduler(
			gocron.WithGlobalJobOptions(
				gocron.WithSingletonMode(gocron.LimitModeReschedule),
				gocron.WithEventListeners(
					gocron.AfterJobRunsWithPanic(func(jobID uuid.UUID, jobName string, recoverData any) {
						log.Error().
							Str("job_id", jobID.String()).
							Str("job_name", jobName).
							Interface("panic", recoverData).
							Msg("Maintenance job panicked")
					}),
				),
			),
		)
		if err != nil {
			serviceErr = fmt.Errorf("create scheduler: %w", err)
			return
		}
		service = &Service{
			scheduler: sched,
			timeout:   jobTimeout,
			jobs:      make(map[string]gocron.Job),
		}
	})
	return serviceErr
}

// ServiceInstance returns the singleton created by Init.
func ServiceInstance() (*Service, error) {
	if service == nil && serviceErr == nil {
		return nil, ErrNotInitialized
	}
	return service, serviceErr
}

func Start() error {
	svc, err := ServiceInstance()
	if err != nil {
		return err
	}
	svc.scheduler.Start()
	log.Info().Strs("jobs", svc.JobNames()).Msg("Maintenance scheduler started")
	return nil
}

// Stop waits for running jobs and shuts the scheduler down. Safe to call twice.
func Stop() error {
	svc, err := ServiceInstance()
	if err != nil {
		return err
	}
	svc.stopOnce.Do(func() {
		svc.stopErr = svc.scheduler.Shutdown()
	})
	return svc.stopErr
}

// AddJob registers task under a unique name on the singleton.
func AddJob(name, cronExpr string, task Task) error {
	svc, err := ServiceInstance()
	if err != nil {
		return err
	}
	return svc.AddJob(name, cronExpr, task)
}

// AddJob registers task to run on a five-field cron schedule.
func (s *Service) AddJob(name, cronExpr string, task Task) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyJobName
	}
	if strings.TrimSpace(cronExpr) == "" {
		return ErrEmptyCronExpr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}

	job, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(s.run, name, task),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("schedule %s (%s): %w", name, cronExpr, err)
	}
	s.jobs[name] = job
	log.Debug().Str("job_name", name).Str("cron", cronExpr).Msg("Maintenance job registered")
	return nil
}

// JobNames lists registered jobs in name order.
func (s *Service) JobNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) run(name string, task Task) {
	logger := log.With().Str("component", "maintenance_job").Str("job_name", name).Logger()
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	ctx = logger.WithContext(ctx)

	started := time.Now()
	if err := task(ctx); err != nil {
		logger.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("Maintenance job failed")
		return
	}
	logger.Debug().Dur("elapsed", time.Since(started)).Msg("Maintenance job finished")
}
