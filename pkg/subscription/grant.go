package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/lmsadmin/pkg/logger"
)

const grantLockTTL = 30 * time.Second

func grantLockKey(userID string) string {
	return "subscription:grant:" + userID
}

func (s *service) GrantSubscription(ctx context.Context, userID string, durationDays int) (*Subscription, error) {
	const op = "subscription.grant"
	if userID == "" {
		return nil, E(KindValidation, op, ErrMissingUserID)
	}
	if durationDays <= 0 {
		durationDays = s.adminGrantDays
	}

	if s.grantLocker != nil {
		release, acquired, err := s.grantLocker.TryLock(ctx, grantLockKey(userID), grantLockTTL)
		if err != nil {
			return nil, E(KindInternal, op, err)
		}
		if !acquired {
			return nil, E(KindConflict, op, ErrGrantInProgress)
		}
		defer func() {
			if err := release(); err != nil {
				s.log.WarnContext(ctx, "failed to release grant lock", logger.UserID(userID), logger.Error(err))
			}
		}()
	}

	now := s.now().UTC()
	current, err := s.subs.CurrentForUser(ctx, userID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, storeError(op, err)
	}
	if current != nil && current.IsEntitledAt(now) {
		return nil, E(KindConflict, op, ErrAlreadyHasSubscription)
	}

	customerID, err := s.customers.GetCustomerID(ctx, userID)
	if err != nil {
		return nil, E(KindInternal, op, err)
	}

	id := AdminGrantID(userID, now)
	if _, err := s.subs.Upsert(ctx, UpsertParams{
		SubscriptionID: id,
		UserID:         userID,
		CustomerID:     customerID,
		Status:         StatusActive,
		Period:         Period{Start: now, End: now.Add(time.Duration(durationDays) * 24 * time.Hour)},
	}); err != nil {
		return nil, storeError(op, err)
	}

	sub, err := s.subs.GetBySubscriptionID(ctx, id)
	if err != nil {
		return nil, storeError(op, err)
	}
	s.log.InfoContext(ctx, "subscription granted",
		logger.SubscriptionID(id),
		logger.UserID(userID),
		slog.Int("duration_days", durationDays),
	)
	return sub, nil
}
