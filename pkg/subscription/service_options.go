package subscription

import (
	"context"
	"log/slog"
	"time"
)

// Locker serializes admin grants per user across instances. Its shape
// matches scheduler.Locker, so the same Redis-backed locker serves both.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func() error, acquired bool, err error)
}

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithLogger sets the service logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAdminGrantDays sets the grant length used when a caller passes no duration.
func WithAdminGrantDays(days int) ServiceOption {
	return func(s *service) {
		if days > 0 {
			s.adminGrantDays = days
		}
	}
}

// WithGrantLocker guards the check and insert of GrantSubscription. Without
// it, concurrent grants for one user on different instances can both pass
// the entitlement check.
func WithGrantLocker(l Locker) ServiceOption {
	return func(s *service) {
		if l != nil {
			s.grantLocker = l
		}
	}
}
