package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// UpsertParams is the full local state written for one provider subscription.
type UpsertParams struct {
	SubscriptionID    string
	UserID            string
	CustomerID        string
	Status            Status
	Period            Period
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
}

func (p UpsertParams) Validate() error {
	var errs []error
	if p.SubscriptionID == "" {
		errs = append(errs, ErrMissingSubID)
	}
	if p.UserID == "" {
		errs = append(errs, ErrMissingUserID)
	}
	if !p.Status.Valid() {
		errs = append(errs, ErrUnknownStatus)
	}
	if !p.Period.Valid() {
		errs = append(errs, ErrInvalidPeriod)
	}
	return errors.Join(errs...)
}

// SubscriptionStore persists subscriptions keyed by provider subscription id.
// Rows are never deleted.
type SubscriptionStore interface {
	// Upsert inserts the row or patches the existing one with the same
	// subscription id, atomically. Returns the local row id.
	Upsert(ctx context.Context, p UpsertParams) (uuid.UUID, error)

	// GetBySubscriptionID returns ErrSubscriptionNotFound when absent.
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*Subscription, error)

	// CurrentForUser returns the most recently created row for the user,
	// whatever its status. Returns ErrSubscriptionNotFound when the user has none.
	CurrentForUser(ctx context.Context, userID string) (*Subscription, error)

	// ListByStatus returns every row in one of the given statuses.
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Subscription, error)

	// ExpireIfElapsed flips the row to canceled only if it is still active
	// or trialing and its period ended before now. Reports whether it did.
	ExpireIfElapsed(ctx context.Context, subscriptionID string, now time.Time) (bool, error)
}

// CheckoutSessionStore persists checkout sessions keyed by provider session id.
type CheckoutSessionStore interface {
	// CreateCheckoutSession returns ErrCheckoutSessionExists for a duplicate id.
	CreateCheckoutSession(ctx context.Context, cs *CheckoutSession) error

	// GetCheckoutSession returns ErrCheckoutSessionNotFound when absent.
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)

	// LatestCheckoutSessionForCustomer returns the most recently created
	// session for the customer, or ErrCheckoutSessionNotFound.
	LatestCheckoutSessionForCustomer(ctx context.Context, customerID string) (*CheckoutSession, error)

	// UpdateCheckoutSession loads the session, applies fn and persists the
	// result when fn reports a change. The read-modify-write is atomic with
	// respect to other updates of the same session.
	UpdateCheckoutSession(ctx context.Context, sessionID string, fn func(cs *CheckoutSession) (bool, error)) (*CheckoutSession, error)
}

// CustomerStore holds the write-once link between a user and a provider customer.
type CustomerStore interface {
	// GetCustomerID returns "" when the user has no customer yet.
	GetCustomerID(ctx context.Context, userID string) (string, error)

	// SetCustomerID stores customerID unless the user already has a
	// different one, in which case it returns ErrCustomerIDConflict and
	// leaves the stored value alone. Setting the same value is a no-op.
	SetCustomerID(ctx context.Context, userID, customerID string) error

	// ReplaceCustomerID swaps oldID for newID. It fails with
	// ErrCustomerIDConflict if the stored value is no longer oldID.
	ReplaceCustomerID(ctx context.Context, userID, oldID, newID string) error
}
