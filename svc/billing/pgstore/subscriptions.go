package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/lmsadmin/pkg/pg"
	"github.com/dmitrymomot/lmsadmin/pkg/subscription"
)

const subscriptionColumns = `id, subscription_id, user_id, customer_id, status,
	current_period_start, current_period_end, cancel_at_period_end, canceled_at,
	created_at, updated_at`

// Upsert relies on the unique subscription_id so concurrent writers for the
// same id end up with one row. An empty customer id keeps the stored one.
func (s *Store) Upsert(ctx context.Context, p subscription.UpsertParams) (uuid.UUID, error) {
	if err := p.Validate(); err != nil {
		return uuid.Nil, err
	}

	now := s.timestamp()
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO subscriptions (id, subscription_id, user_id, customer_id, status,
			current_period_start, current_period_end, cancel_at_period_end, canceled_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (subscription_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			customer_id = COALESCE(NULLIF(EXCLUDED.customer_id, ''), subscriptions.customer_id),
			status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			canceled_at = EXCLUDED.canceled_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		uuid.New(), p.SubscriptionID, p.UserID, p.CustomerID, string(p.Status),
		p.Period.Start.UTC(), p.Period.End.UTC(), p.CancelAtPeriodEnd, utcPtr(p.CanceledAt),
		now,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert subscription: %w", err)
	}
	return id, nil
}

func (s *Store) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*subscription.Subscription, error) {
	return s.scanOne(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE subscription_id = $1`, subscriptionID)
}

func (s *Store) CurrentForUser(ctx context.Context, userID string) (*subscription.Subscription, error) {
	return s.scanOne(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`, userID)
}

func (s *Store) ListByStatus(ctx context.Context, statuses ...subscription.Status) ([]*subscription.Subscription, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = ANY($1)
		ORDER BY seq`, names)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	subs, err := pgx.CollectRows(rows, scanSubscription)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// ExpireIfElapsed re-checks status and period end in the UPDATE itself, so a
// row renewed by a concurrent webhook is left alone.
func (s *Store) ExpireIfElapsed(ctx context.Context, subscriptionID string, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE subscriptions SET status = 'canceled', updated_at = $3
		WHERE subscription_id = $1
			AND status IN ('active', 'trialing')
			AND current_period_end < $2`,
		subscriptionID, now.UTC(), s.timestamp())
	if err != nil {
		return false, fmt.Errorf("expire subscription: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE subscription_id = $1)`, subscriptionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("expire subscription: %w", err)
	}
	if !exists {
		return false, subscription.ErrSubscriptionNotFound
	}
	return false, nil
}

func (s *Store) scanOne(ctx context.Context, query string, args ...any) (*subscription.Subscription, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscription: %w", err)
	}
	sub, err := pgx.CollectExactlyOneRow(rows, scanSubscription)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("query subscription: %w", err)
	}
	return sub, nil
}

func scanSubscription(row pgx.CollectableRow) (*subscription.Subscription, error) {
	var (
		sub    subscription.Subscription
		status string
	)
	err := row.Scan(&sub.ID, &sub.SubscriptionID, &sub.UserID, &sub.CustomerID, &status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd, &sub.CanceledAt,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.Status = subscription.Status(status)
	sub.CurrentPeriodStart = sub.CurrentPeriodStart.UTC()
	sub.CurrentPeriodEnd = sub.CurrentPeriodEnd.UTC()
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	sub.CanceledAt = utcPtr(sub.CanceledAt)
	return &sub, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
