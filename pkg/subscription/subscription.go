package subscription

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Subscription is the local mirror of one provider subscription.
type Subscription struct {
	ID                 uuid.UUID  `json:"id"`
	SubscriptionID     string     `json:"subscription_id"`
	UserID             string     `json:"user_id"`
	CustomerID         string     `json:"customer_id,omitempty"`
	Status             Status     `json:"status"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	CanceledAt         *time.Time `json:"canceled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (s *Subscription) Period() Period {
	return Period{Start: s.CurrentPeriodStart, End: s.CurrentPeriodEnd}
}

// IsEntitledAt reports whether the subscription grants access at t.
func (s *Subscription) IsEntitledAt(t time.Time) bool {
	return s.Status.Entitling() && !s.CurrentPeriodEnd.Before(t)
}

// IsAdminGranted reports whether the row was created by an admin grant.
func (s *Subscription) IsAdminGranted() bool {
	return IsAdminGrantID(s.SubscriptionID)
}

// DaysRemainingAt returns whole days left in the current period, rounded up.
func (s *Subscription) DaysRemainingAt(t time.Time) int {
	if !s.CurrentPeriodEnd.After(t) {
		return 0
	}
	return int(math.Ceil(s.CurrentPeriodEnd.Sub(t).Hours() / 24))
}

// CheckoutSession tracks a provider checkout session from creation to its terminal outcome.
type CheckoutSession struct {
	SessionID      string         `json:"session_id"`
	UserID         string         `json:"user_id"`
	CustomerID     string         `json:"customer_id,omitempty"`
	SubscriptionID string         `json:"subscription_id,omitempty"`
	Status         CheckoutStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}
