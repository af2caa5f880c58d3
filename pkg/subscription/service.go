package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/lmsadmin/pkg/logger"
)

// Service keeps local subscription state in step with the billing provider.
// Every write path (webhooks, pull syncs, the expiry sweep and admin grants)
// goes through the same store primitives.
type Service interface {
	// HandleWebhook verifies and applies one provider event. Events that
	// cannot be attributed to a user are logged and reported as dropped
	// rather than returned as errors.
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error)

	CreateCheckoutSession(ctx context.Context, caller Caller, req CheckoutOptions) (*CheckoutLink, error)

	// SyncCheckoutSession reconciles the caller's checkout session right after
	// the redirect back from the provider. Returns nil when the session has
	// not produced a subscription yet.
	SyncCheckoutSession(ctx context.Context, caller Caller, sessionID string) (*Subscription, error)

	// SyncSubscription pulls fresh provider state for one subscription.
	SyncSubscription(ctx context.Context, caller Caller, subscriptionID string) (*Subscription, error)

	CancelSubscription(ctx context.Context, caller Caller, subscriptionID string) (*Subscription, error)
	ReactivateSubscription(ctx context.Context, caller Caller, subscriptionID string) (*Subscription, error)

	CreatePortalLink(ctx context.Context, caller Caller, returnURL string) (*PortalLink, error)

	// GetCurrentSubscription returns the user's most recently created subscription.
	GetCurrentSubscription(ctx context.Context, userID string) (*Subscription, error)

	// GrantSubscription creates a provider-less subscription. A non-positive
	// durationDays uses the configured default.
	GrantSubscription(ctx context.Context, userID string, durationDays int) (*Subscription, error)

	// ExpireSubscriptions cancels active or trialing rows whose period has
	// ended and returns how many were changed.
	ExpireSubscriptions(ctx context.Context) (int, error)

	// IsEntitled reports whether the subscription grants access right now.
	IsEntitled(sub *Subscription) bool
}

// CheckoutOptions is what a user supplies to start a checkout.
type CheckoutOptions struct {
	PriceID    string
	SuccessURL string
	CancelURL  string
	Email      string
	Name       string
}

type service struct {
	provider       BillingProvider
	subs           SubscriptionStore
	customers      CustomerStore
	tracker        *CheckoutTracker
	log            *slog.Logger
	now            func() time.Time
	adminGrantDays int
	grantLocker    Locker
}

// NewService wires the service. It panics on nil dependencies so that a
// misconfigured process fails at startup.
func NewService(
	provider BillingProvider,
	subs SubscriptionStore,
	sessions CheckoutSessionStore,
	customers CustomerStore,
	opts ...ServiceOption,
) Service {
	if provider == nil {
		panic("subscription: billing provider cannot be nil")
	}
	if subs == nil {
		panic("subscription: subscription store cannot be nil")
	}
	if sessions == nil {
		panic("subscription: checkout session store cannot be nil")
	}
	if customers == nil {
		panic("subscription: customer store cannot be nil")
	}

	s := &service{
		provider:       provider,
		subs:           subs,
		customers:      customers,
		log:            slog.Default(),
		now:            time.Now,
		adminGrantDays: DefaultAdminGrantDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("subscription"))
	s.tracker = NewCheckoutTracker(sessions, s.now)

	return s
}

func (s *service) GetCurrentSubscription(ctx context.Context, userID string) (*Subscription, error) {
	const op = "subscription.current"
	if userID == "" {
		return nil, E(KindValidation, op, ErrMissingUserID)
	}
	sub, err := s.subs.CurrentForUser(ctx, userID)
	if err != nil {
		return nil, storeError(op, err)
	}
	return sub, nil
}

func (s *service) IsEntitled(sub *Subscription) bool {
	return sub != nil && sub.IsEntitledAt(s.now())
}

// reconcile resolves psub into local state and upserts it for userID.
func (s *service) reconcile(ctx context.Context, op string, psub *ProviderSubscription, userID string, fallback *Period, deleted bool) (*Subscription, error) {
	log := s.log.With(logger.SubscriptionID(psub.ID), logger.UserID(userID))

	res, err := Resolve(psub, fallback, s.now(), deleted)
	if err != nil {
		return nil, E(KindValidation, op, err)
	}
	switch res.Source {
	case PeriodDegraded:
		log.WarnContext(ctx, "provider subscription has no usable period, using degraded window",
			slog.Time("period_start", res.Period.Start),
			slog.Time("period_end", res.Period.End),
		)
	case PeriodFromFallback:
		log.InfoContext(ctx, "provider subscription has no usable period, keeping stored period")
	}

	if _, err := s.subs.Upsert(ctx, UpsertParams{
		SubscriptionID:    psub.ID,
		UserID:            userID,
		CustomerID:        psub.CustomerID,
		Status:            res.Status,
		Period:            res.Period,
		CancelAtPeriodEnd: res.CancelAtPeriodEnd,
		CanceledAt:        res.CanceledAt,
	}); err != nil {
		return nil, storeError(op, err)
	}

	sub, err := s.subs.GetBySubscriptionID(ctx, psub.ID)
	if err != nil {
		return nil, storeError(op, err)
	}
	log.InfoContext(ctx, "subscription reconciled",
		slog.String("status", string(sub.Status)),
		slog.Bool("cancel_at_period_end", sub.CancelAtPeriodEnd),
	)
	return sub, nil
}

// storedPeriod returns the period of the stored row for subscriptionID, if any.
func (s *service) storedPeriod(ctx context.Context, subscriptionID string) (*Period, error) {
	sub, err := s.subs.GetBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	p := sub.Period()
	return &p, nil
}

// currentPeriod returns the period of the user's current subscription, if any.
func (s *service) currentPeriod(ctx context.Context, userID string) (*Period, error) {
	sub, err := s.subs.CurrentForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	p := sub.Period()
	return &p, nil
}

// linkCustomer records the customer on the user. A user already linked to
// another customer keeps the old link; the mismatch is only logged.
func (s *service) linkCustomer(ctx context.Context, userID, customerID string) error {
	if customerID == "" {
		return nil
	}
	err := s.customers.SetCustomerID(ctx, userID, customerID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCustomerIDConflict):
		existing, _ := s.customers.GetCustomerID(ctx, userID)
		s.log.WarnContext(ctx, "user already linked to another customer, keeping existing link",
			logger.UserID(userID),
			logger.CustomerID(customerID),
			slog.String("existing_customer_id", existing),
		)
		return nil
	case errors.Is(err, ErrUserNotFound):
		s.log.WarnContext(ctx, "cannot link customer to unknown user",
			logger.UserID(userID),
			logger.CustomerID(customerID),
		)
		return nil
	}
	return E(KindInternal, "subscription.link_customer", err)
}

func storeError(op string, err error) error {
	switch {
	case errors.Is(err, ErrSubscriptionNotFound), errors.Is(err, ErrCheckoutSessionNotFound),
		errors.Is(err, ErrUserNotFound):
		return E(KindNotFound, op, err)
	case errors.Is(err, ErrCheckoutSessionExists), errors.Is(err, ErrCustomerIDConflict):
		return E(KindConflict, op, err)
	case errors.Is(err, ErrMissingSubID), errors.Is(err, ErrMissingUserID),
		errors.Is(err, ErrUnknownStatus), errors.Is(err, ErrInvalidPeriod):
		return E(KindValidation, op, err)
	}
	return E(KindInternal, op, err)
}
