package subscription

import (
	"strings"
	"time"
)

// Status is the local subscription status. Provider statuses outside this
// set are mapped by ParseStatus or rejected.
type Status string

const (
	StatusActive     Status = "active"
	StatusTrialing   Status = "trialing"
	StatusPastDue    Status = "past_due"
	StatusUnpaid     Status = "unpaid"
	StatusIncomplete Status = "incomplete"
	StatusCanceled   Status = "canceled"
)

// Valid reports whether s is one of the stored statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue, StatusUnpaid, StatusIncomplete, StatusCanceled:
		return true
	}
	return false
}

// Entitling reports whether the status grants access, given an unexpired period.
func (s Status) Entitling() bool {
	return s == StatusActive || s == StatusTrialing
}

// ParseStatus maps a provider status onto Status.
// incomplete_expired becomes canceled and paused becomes unpaid.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusActive, StatusTrialing, StatusPastDue, StatusUnpaid, StatusIncomplete, StatusCanceled:
		return s, nil
	case "incomplete_expired":
		return StatusCanceled, nil
	case "paused":
		return StatusUnpaid, nil
	case "cancelled":
		return StatusCanceled, nil
	}
	return "", ErrUnknownStatus
}

// CheckoutStatus is the lifecycle state of a checkout session.
type CheckoutStatus string

const (
	CheckoutPending  CheckoutStatus = "pending"
	CheckoutComplete CheckoutStatus = "complete"
	CheckoutExpired  CheckoutStatus = "expired"
)

func (s CheckoutStatus) Valid() bool {
	return s == CheckoutPending || s == CheckoutComplete || s == CheckoutExpired
}

// Terminal reports whether no further transition is allowed.
func (s CheckoutStatus) Terminal() bool {
	return s == CheckoutComplete || s == CheckoutExpired
}

// EventType is a provider webhook event type.
type EventType string

const (
	EventCheckoutSessionCompleted EventType = "checkout.session.completed"
	EventSubscriptionCreated      EventType = "customer.subscription.created"
	EventSubscriptionUpdated      EventType = "customer.subscription.updated"
	EventSubscriptionDeleted      EventType = "customer.subscription.deleted"
)

// Period is a half-open billing window [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether both bounds are after the epoch and End is not before Start.
func (p Period) Valid() bool {
	return p.Start.UnixMilli() > 0 && p.End.UnixMilli() > 0 && !p.End.Before(p.Start)
}

// Caller is the authenticated identity behind a user-facing action.
type Caller struct {
	UserID string
	Admin  bool
}

// CanAccess reports whether the caller may act on a resource owned by userID.
func (c Caller) CanAccess(userID string) bool {
	return c.Admin || (c.UserID != "" && c.UserID == userID)
}
