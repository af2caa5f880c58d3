package subscription

import (
	"context"
	"time"
)

// BillingProvider is the payment provider as seen by the service. All
// returned objects are already decoded; failures are tagged with a Kind so
// callers can tell transient outages from permanent rejections.
type BillingProvider interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)

	// SetCancelAtPeriodEnd schedules (true) or withdraws (false) cancellation
	// at the end of the current period and returns the updated subscription.
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*ProviderSubscription, error)

	GetCheckoutSession(ctx context.Context, sessionID string) (*ProviderCheckoutSession, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error)

	// CreateCustomer creates a provider customer tagged with the local user id.
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)

	// CustomerExists reports false for unknown or deleted customers.
	CustomerExists(ctx context.Context, customerID string) (bool, error)

	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalLink, error)

	// ParseWebhook verifies the signature over the raw payload and decodes
	// the event. Verification failures wrap ErrWebhookVerificationFailed.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)
}

// CheckoutRequest contains data needed to create a checkout session.
type CheckoutRequest struct {
	PriceID    string // provider price identifier
	CustomerID string // provider customer the session is opened for
	UserID     string // local user, written to session metadata
	SuccessURL string
	CancelURL  string
}

// CheckoutLink represents a hosted checkout session.
type CheckoutLink struct {
	URL       string    `json:"url"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// PortalLink represents a customer portal session.
type PortalLink struct {
	URL string `json:"url"`
}

// CustomerRequest contains data needed to create a provider customer.
type CustomerRequest struct {
	UserID string
	Email  string
	Name   string
}
