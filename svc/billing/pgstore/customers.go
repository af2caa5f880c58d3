package pgstore

import (
	"context"
	"fmt"

	"github.com/dmitrymomot/lmsadmin/pkg/pg"
	"github.com/dmitrymomot/lmsadmin/pkg/subscription"
)

// GetCustomerID returns "" for users without a customer and for unknown users.
func (s *Store) GetCustomerID(ctx context.Context, userID string) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, `SELECT COALESCE(stripe_customer_id, '') FROM users WHERE id = $1`, userID).Scan(&id)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return "", nil
		}
		return "", fmt.Errorf("get customer id: %w", err)
	}
	return id, nil
}

// SetCustomerID links the customer only while the user has none (or the same one).
func (s *Store) SetCustomerID(ctx context.Context, userID, customerID string) error {
	if userID == "" {
		return subscription.ErrMissingUserID
	}
	if customerID == "" {
		return subscription.ErrMissingCustomerID
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE users SET stripe_customer_id = $2
		WHERE id = $1 AND COALESCE(stripe_customer_id, '') IN ('', $2)`,
		userID, customerID)
	if err != nil {
		return fmt.Errorf("set customer id: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.linkConflict(ctx, userID)
}

// ReplaceCustomerID swaps oldID for newID, failing if the user moved on meanwhile.
func (s *Store) ReplaceCustomerID(ctx context.Context, userID, oldID, newID string) error {
	if newID == "" {
		return subscription.ErrMissingCustomerID
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE users SET stripe_customer_id = $3
		WHERE id = $1 AND COALESCE(stripe_customer_id, '') = $2`,
		userID, oldID, newID)
	if err != nil {
		return fmt.Errorf("replace customer id: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.linkConflict(ctx, userID)
}

// linkConflict explains a customer update that matched no row.
func (s *Store) linkConflict(ctx context.Context, userID string) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return subscription.ErrUserNotFound
	}
	return subscription.ErrCustomerIDConflict
}
