package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/lmsadmin/pkg/logger"
	"github.com/dmitrymomot/lmsadmin/pkg/scheduler"
	"github.com/dmitrymomot/lmsadmin/pkg/subscription"
)

const (
	JobExpireSubscriptions = "billing.expire_subscriptions"
	JobCleanupRateLimiter  = "billing.cleanup_rate_limiter"
)

// SweepJob wraps the expiry sweep for the scheduler and records its metrics.
func SweepJob(svc subscription.Service, m *Metrics, log *slog.Logger) scheduler.JobFunc {
	return func(ctx context.Context) error {
		start := time.Now()
		expired, err := svc.ExpireSubscriptions(ctx)
		m.observeSweep(expired, time.Since(start), err)
		if err != nil {
			return err
		}
		log.InfoContext(ctx, "expiry sweep finished",
			slog.Int("expired", expired),
			logger.Duration(time.Since(start)),
		)
		return nil
	}
}

// RegisterJobs adds the daily expiry sweep and the rate limiter cleanup to s.
func RegisterJobs(s *scheduler.Scheduler, cfg Config, svc subscription.Service, m *Metrics, limiter *UserRateLimiter, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.SweepTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	if err := s.AddJob(JobExpireSubscriptions,
		scheduler.DailyAt(cfg.SweepAtHour, cfg.SweepAtMinute),
		SweepJob(svc, m, log),
		scheduler.WithJobTimeout(timeout),
	); err != nil {
		return err
	}

	if limiter == nil {
		return nil
	}
	return s.AddJob(JobCleanupRateLimiter,
		scheduler.EveryInterval(5*time.Minute),
		func(context.Context) error {
			if n := limiter.Cleanup(); n > 0 {
				log.Debug("rate limiter entries removed", slog.Int("removed", n))
			}
			return nil
		},
	)
}
