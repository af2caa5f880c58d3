package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrymomot/lmsadmin/pkg/logger"
)

// JobFunc is the work a job performs.
type JobFunc func(ctx context.Context) error

// Scheduler runs registered jobs in-process on their schedules.
type Scheduler struct {
	mu       sync.RWMutex
	jobs     map[string]*job
	interval time.Duration
	logger   *slog.Logger
	locker   Locker
	now      func() time.Time
	running  bool
}

type job struct {
	name       string
	schedule   Schedule
	fn         JobFunc
	timeout    time.Duration
	runOnStart bool
	hooks      []func(string, time.Duration, error)
	nextRun    time.Time
}

// New creates a scheduler. Without WithLocker every process runs every job.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:     make(map[string]*job),
		interval: 30 * time.Second,
		logger:   slog.Default(),
		locker:   NopLocker{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers a periodic job.
func (s *Scheduler) AddJob(name string, schedule Schedule, fn JobFunc, opts ...JobOption) error {
	if name == "" || schedule == nil || fn == nil {
		return ErrInvalidJob
	}

	j := &job{
		name:     name,
		schedule: schedule,
		fn:       fn,
		timeout:  10 * time.Minute,
	}
	for _, opt := range opts {
		opt(j)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return ErrJobAlreadyRegistered
	}
	s.jobs[name] = j

	s.logger.Info("registered periodic job",
		logger.Job(name),
		slog.String("schedule", schedule.String()))
	return nil
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Start checks for due jobs until ctx is canceled. Jobs run sequentially on
// the scheduler goroutine. It returns ctx.Err() on shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if len(s.jobs) == 0 {
		s.mu.Unlock()
		return ErrNoJobs
	}
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	now := s.now()
	for _, j := range s.jobs {
		if j.runOnStart {
			j.nextRun = now
		} else {
			j.nextRun = j.schedule.Next(now)
		}
		s.logger.Info("periodic job scheduled", logger.Job(j.name), slog.Time("next_run", j.nextRun))
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.checkJobs(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.checkJobs(ctx)
		}
	}
}

// checkJobs runs every job whose next run time has passed
func (s *Scheduler) checkJobs(ctx context.Context) {
	now := s.now()

	s.mu.RLock()
	due := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if !j.nextRun.After(now) {
			due = append(due, j)
		}
	}
	s.mu.RUnlock()

	for _, j := range due {
		if ctx.Err() != nil {
			return
		}
		err := s.run(ctx, j)
		if err != nil && !errors.Is(err, ErrLockHeld) {
			s.logger.ErrorContext(ctx, "periodic job failed", logger.Job(j.name), logger.Error(err))
		}

		s.mu.Lock()
		j.nextRun = j.schedule.Next(now)
		s.mu.Unlock()
	}
}

// RunNow runs a registered job immediately, outside its schedule.
// It still honors the job lock.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.run(ctx, j)
}

func (s *Scheduler) run(ctx context.Context, j *job) (err error) {
	now := s.now()
	slot := slotOf(j.schedule, now)
	// the key outlives the run until the next slot, so a replica that
	// reaches the same slot later finds it taken
	ttl := max(j.timeout, j.schedule.Next(slot).Sub(now))

	release, acquired, err := s.locker.TryLock(ctx, lockKey(j.name, slot), ttl)
	if err != nil {
		return fmt.Errorf("acquire lock for job %s: %w", j.name, err)
	}
	if !acquired {
		s.logger.DebugContext(ctx, "periodic job skipped, slot already taken",
			logger.Job(j.name), slog.Time("slot", slot))
		return ErrLockHeld
	}
	defer func() {
		// a failed slot is left open for another instance to retry
		if err == nil {
			return
		}
		if rerr := release(); rerr != nil {
			s.logger.WarnContext(ctx, "failed to release job lock", logger.Job(j.name), logger.Error(rerr))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.name, r)
		}
		took := s.now().Sub(start)
		for _, hook := range j.hooks {
			hook(j.name, took, err)
		}
		if err == nil {
			s.logger.InfoContext(ctx, "periodic job finished", logger.Job(j.name), logger.Duration(took))
		}
	}()

	return j.fn(ctx)
}

func lockKey(name string, slot time.Time) string {
	return "scheduler:lock:" + name + ":" + strconv.FormatInt(slot.Unix(), 10)
}
