package scheduler

import "errors"

var (
	ErrJobAlreadyRegistered = errors.New("job already registered")
	ErrJobNotFound          = errors.New("job not found")
	ErrNoJobs               = errors.New("scheduler has no registered jobs")
	ErrInvalidJob           = errors.New("job needs a name, a schedule and a function")
	ErrAlreadyRunning       = errors.New("scheduler is already running")
	ErrLockHeld             = errors.New("job lock is held by another instance")
)
