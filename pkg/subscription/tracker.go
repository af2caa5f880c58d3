package subscription

import (
	"context"
	"errors"
	"time"
)

// CheckoutOutcome is the terminal result reported for a checkout session.
type CheckoutOutcome struct {
	SessionID      string
	CustomerID     string
	SubscriptionID string
	Status         CheckoutStatus
}

// CheckoutTracker records checkout intent and its single terminal outcome.
type CheckoutTracker struct {
	store CheckoutSessionStore
	now   func() time.Time
}

func NewCheckoutTracker(store CheckoutSessionStore, now func() time.Time) *CheckoutTracker {
	if store == nil {
		panic("subscription: checkout session store cannot be nil")
	}
	if now == nil {
		now = time.Now
	}
	return &CheckoutTracker{store: store, now: now}
}

// Create records a pending session for userID.
func (t *CheckoutTracker) Create(ctx context.Context, sessionID, userID, customerID string) (*CheckoutSession, error) {
	if sessionID == "" {
		return nil, E(KindValidation, "checkout.create", ErrMissingSessionID)
	}
	if userID == "" {
		return nil, E(KindValidation, "checkout.create", ErrMissingUserID)
	}

	cs := &CheckoutSession{
		SessionID:  sessionID,
		UserID:     userID,
		CustomerID: customerID,
		Status:     CheckoutPending,
		CreatedAt:  t.now().UTC(),
	}
	if err := t.store.CreateCheckoutSession(ctx, cs); err != nil {
		if errors.Is(err, ErrCheckoutSessionExists) {
			return nil, E(KindConflict, "checkout.create", err)
		}
		return nil, E(KindInternal, "checkout.create", err)
	}
	return cs, nil
}

// MarkOutcome moves the session into a terminal status.
//
// Re-applying the status the session already has only back-fills empty
// customer and subscription ids. CompletedAt is set on the transition into
// complete and never touched again. Moving a session from one terminal
// status to another fails with ErrCheckoutSessionFinalized.
func (t *CheckoutTracker) MarkOutcome(ctx context.Context, out CheckoutOutcome) (*CheckoutSession, error) {
	if !out.Status.Terminal() {
		return nil, E(KindValidation, "checkout.mark_outcome", ErrInvalidOutcome)
	}

	now := t.now().UTC()
	cs, err := t.store.UpdateCheckoutSession(ctx, out.SessionID, func(cs *CheckoutSession) (bool, error) {
		return applyOutcome(cs, out, now)
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrCheckoutSessionNotFound):
			return nil, E(KindNotFound, "checkout.mark_outcome", err)
		case errors.Is(err, ErrCheckoutSessionFinalized):
			return nil, E(KindConflict, "checkout.mark_outcome", err)
		}
		return nil, E(KindInternal, "checkout.mark_outcome", err)
	}
	return cs, nil
}

// FindByCustomerID returns the most recent session opened for the customer.
func (t *CheckoutTracker) FindByCustomerID(ctx context.Context, customerID string) (*CheckoutSession, error) {
	cs, err := t.store.LatestCheckoutSessionForCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrCheckoutSessionNotFound) {
			return nil, E(KindNotFound, "checkout.find_by_customer", err)
		}
		return nil, E(KindInternal, "checkout.find_by_customer", err)
	}
	return cs, nil
}

// Get returns the session by provider id.
func (t *CheckoutTracker) Get(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	cs, err := t.store.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrCheckoutSessionNotFound) {
			return nil, E(KindNotFound, "checkout.get", err)
		}
		return nil, E(KindInternal, "checkout.get", err)
	}
	return cs, nil
}

func applyOutcome(cs *CheckoutSession, out CheckoutOutcome, now time.Time) (bool, error) {
	changed := false
	if cs.Status.Terminal() && cs.Status != out.Status {
		return false, ErrCheckoutSessionFinalized
	}
	if cs.Status != out.Status {
		cs.Status = out.Status
		if out.Status == CheckoutComplete {
			cs.CompletedAt = &now
		}
		changed = true
	}
	if cs.CustomerID == "" && out.CustomerID != "" {
		cs.CustomerID = out.CustomerID
		changed = true
	}
	if cs.SubscriptionID == "" && out.SubscriptionID != "" {
		cs.SubscriptionID = out.SubscriptionID
		changed = true
	}
	return changed, nil
}
