package subscription

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/lmsadmin/pkg/logger"
)

// ExpireSubscriptions never calls the provider: a row whose period ended is
// canceled locally and a later webhook or sync restores it if it renewed.
func (s *service) ExpireSubscriptions(ctx context.Context) (int, error) {
	const op = "subscription.expire"

	now := s.now()
	rows, err := s.subs.ListByStatus(ctx, StatusActive, StatusTrialing)
	if err != nil {
		return 0, E(KindInternal, op, err)
	}

	var (
		expired int
		errs    []error
	)
	for _, sub := range rows {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !sub.CurrentPeriodEnd.Before(now) {
			continue
		}

		ok, err := s.subs.ExpireIfElapsed(ctx, sub.SubscriptionID, now)
		if err != nil {
			s.log.ErrorContext(ctx, "failed to expire subscription",
				logger.SubscriptionID(sub.SubscriptionID),
				logger.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		if ok {
			expired++
			s.log.InfoContext(ctx, "subscription expired",
				logger.SubscriptionID(sub.SubscriptionID),
				logger.UserID(sub.UserID),
				slog.Time("period_end", sub.CurrentPeriodEnd),
			)
		}
	}

	if len(errs) > 0 {
		return expired, E(KindInternal, op, errors.Join(errs...))
	}
	return expired, nil
}
