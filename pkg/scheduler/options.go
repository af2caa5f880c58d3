package scheduler

import (
	"log/slog"
	"time"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCheckInterval sets how often the scheduler looks for due jobs.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLocker makes every run take a lock first, so that only one process in
// a fleet executes a given job at a time.
func WithLocker(l Locker) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// JobOption configures a registered job.
type JobOption func(*job)

// WithJobTimeout bounds a single run. Defaults to 10 minutes.
func WithJobTimeout(d time.Duration) JobOption {
	return func(j *job) {
		if d > 0 {
			j.timeout = d
		}
	}
}

// WithRunOnStart runs the job on the first check after Start instead of
// waiting for the first scheduled time.
func WithRunOnStart() JobOption {
	return func(j *job) {
		j.runOnStart = true
	}
}

// WithJobHook registers a function called after every run with its outcome.
func WithJobHook(fn func(name string, took time.Duration, err error)) JobOption {
	return func(j *job) {
		if fn != nil {
			j.hooks = append(j.hooks, fn)
		}
	}
}
