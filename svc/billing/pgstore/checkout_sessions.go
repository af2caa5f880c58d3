package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/lmsadmin/pkg/pg"
	"github.com/dmitrymomot/lmsadmin/pkg/subscription"
)

const checkoutColumns = `session_id, user_id, customer_id, subscription_id, status, created_at, completed_at`

func (s *Store) CreateCheckoutSession(ctx context.Context, cs *subscription.CheckoutSession) error {
	if cs == nil || cs.SessionID == "" {
		return subscription.ErrMissingSessionID
	}
	createdAt := cs.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.timestamp()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO checkout_sessions (session_id, user_id, customer_id, subscription_id, status, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cs.SessionID, cs.UserID, cs.CustomerID, cs.SubscriptionID, string(cs.Status),
		createdAt.UTC(), utcPtr(cs.CompletedAt))
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return subscription.ErrCheckoutSessionExists
		}
		return fmt.Errorf("insert checkout session: %w", err)
	}
	return nil
}

func (s *Store) GetCheckoutSession(ctx context.Context, sessionID string) (*subscription.CheckoutSession, error) {
	return s.scanCheckout(ctx, s.db, `SELECT `+checkoutColumns+` FROM checkout_sessions WHERE session_id = $1`, sessionID)
}

func (s *Store) LatestCheckoutSessionForCustomer(ctx context.Context, customerID string) (*subscription.CheckoutSession, error) {
	if customerID == "" {
		return nil, subscription.ErrCheckoutSessionNotFound
	}
	return s.scanCheckout(ctx, s.db, `
		SELECT `+checkoutColumns+` FROM checkout_sessions
		WHERE customer_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`, customerID)
}

// UpdateCheckoutSession locks the row for the duration of fn, so concurrent
// outcome reports are applied one after another.
func (s *Store) UpdateCheckoutSession(
	ctx context.Context,
	sessionID string,
	fn func(cs *subscription.CheckoutSession) (bool, error),
) (*subscription.CheckoutSession, error) {
	var out *subscription.CheckoutSession
	err := pg.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		cs, err := s.scanCheckout(ctx, tx, `SELECT `+checkoutColumns+` FROM checkout_sessions WHERE session_id = $1 FOR UPDATE`, sessionID)
		if err != nil {
			return err
		}

		changed, err := fn(cs)
		if err != nil {
			return err
		}
		if changed {
			if _, err := tx.Exec(ctx, `
				UPDATE checkout_sessions
				SET customer_id = $2, subscription_id = $3, status = $4, completed_at = $5
				WHERE session_id = $1`,
				sessionID, cs.CustomerID, cs.SubscriptionID, string(cs.Status), utcPtr(cs.CompletedAt),
			); err != nil {
				return fmt.Errorf("update checkout session: %w", err)
			}
		}
		out = cs
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.SessionID = sessionID
	return out, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) scanCheckout(ctx context.Context, q querier, query string, args ...any) (*subscription.CheckoutSession, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query checkout session: %w", err)
	}
	cs, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (*subscription.CheckoutSession, error) {
		var (
			cs     subscription.CheckoutSession
			status string
		)
		if err := row.Scan(&cs.SessionID, &cs.UserID, &cs.CustomerID, &cs.SubscriptionID, &status, &cs.CreatedAt, &cs.CompletedAt); err != nil {
			return nil, err
		}
		cs.Status = subscription.CheckoutStatus(status)
		cs.CreatedAt = cs.CreatedAt.UTC()
		cs.CompletedAt = utcPtr(cs.CompletedAt)
		return &cs, nil
	})
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrCheckoutSessionNotFound
		}
		return nil, fmt.Errorf("scan checkout session: %w", err)
	}
	return cs, nil
}
