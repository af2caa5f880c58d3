package subscription

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/lmsadmin/pkg/logger"
)

func (s *service) SyncCheckoutSession(ctx context.Context, caller Caller, sessionID string) (*Subscription, error) {
	const op = "subscription.sync_checkout"
	if caller.UserID == "" {
		return nil, E(KindAuthorization, op, ErrUnauthenticated)
	}
	if sessionID == "" {
		return nil, E(KindValidation, op, ErrMissingSessionID)
	}

	cs, err := s.provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, E(KindInternal, op, err)
	}

	owner := cs.UserID()
	if tracked, err := s.tracker.Get(ctx, sessionID); err == nil {
		owner = tracked.UserID
	} else if !errors.Is(err, ErrCheckoutSessionNotFound) {
		return nil, err
	}
	if owner == "" || owner != caller.UserID {
		s.log.WarnContext(ctx, "checkout sync rejected, session belongs to another user",
			logger.SessionID(sessionID),
			logger.UserID(caller.UserID),
		)
		return nil, E(KindAuthorization, op, ErrNotOwner)
	}

	sub, err := s.reconcileCheckout(ctx, cs, cs.Outcome())
	if err != nil {
		return nil, err
	}
	if sub != nil {
		return sub, nil
	}

	current, err := s.subs.CurrentForUser(ctx, caller.UserID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(op, err)
	}
	return current, nil
}

func (s *service) SyncSubscription(ctx context.Context, caller Caller, subscriptionID string) (*Subscription, error) {
	const op = "subscription.sync"
	if caller.UserID == "" {
		return nil, E(KindAuthorization, op, ErrUnauthenticated)
	}
	if subscriptionID == "" {
		return nil, E(KindValidation, op, ErrMissingSubID)
	}

	local, err := s.subs.GetBySubscriptionID(ctx, subscriptionID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, storeError(op, err)
	}
	if local != nil && !caller.CanAccess(local.UserID) {
		return nil, E(KindAuthorization, op, ErrNotOwner)
	}
	if local != nil && local.IsAdminGranted() {
		return local, nil
	}
	if local == nil && IsAdminGrantID(subscriptionID) {
		return nil, E(KindNotFound, op, ErrSubscriptionNotFound)
	}

	psub, err := s.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, E(KindInternal, op, err)
	}

	var (
		userID   string
		fallback *Period
	)
	if local != nil {
		userID = local.UserID
		p := local.Period()
		fallback = &p
	} else {
		cs, err := s.tracker.FindByCustomerID(ctx, psub.CustomerID)
		if err != nil {
			if errors.Is(err, ErrCheckoutSessionNotFound) {
				return nil, E(KindAttribution, op, err)
			}
			return nil, err
		}
		if !caller.CanAccess(cs.UserID) {
			return nil, E(KindAuthorization, op, ErrNotOwner)
		}
		userID = cs.UserID
	}

	return s.reconcile(ctx, op, psub, userID, fallback, false)
}

func (s *service) CancelSubscription(ctx context.Context, caller Caller, subscriptionID string) (*Subscription, error) {
	return s.setCancelAtPeriodEnd(ctx, caller, subscriptionID, true)
}

func (s *service) ReactivateSubscription(ctx context.Context, caller Caller, subscriptionID string) (*Subscription, error) {
	return s.setCancelAtPeriodEnd(ctx, caller, subscriptionID, false)
}

// setCancelAtPeriodEnd changes the provider first and reconciles what it
// returns, so a provider failure leaves the local row untouched.
func (s *service) setCancelAtPeriodEnd(ctx context.Context, caller Caller, subscriptionID string, cancel bool) (*Subscription, error) {
	op := "subscription.reactivate"
	if cancel {
		op = "subscription.cancel"
	}
	if caller.UserID == "" {
		return nil, E(KindAuthorization, op, ErrUnauthenticated)
	}
	if subscriptionID == "" {
		return nil, E(KindValidation, op, ErrMissingSubID)
	}

	local, err := s.subs.GetBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		return nil, storeError(op, err)
	}
	if !caller.CanAccess(local.UserID) {
		return nil, E(KindAuthorization, op, ErrNotOwner)
	}
	if local.Status == StatusCanceled {
		return nil, E(KindConflict, op, ErrInvalidSubscriptionState)
	}

	log := s.log.With(logger.SubscriptionID(subscriptionID), logger.UserID(local.UserID), slog.Bool("cancel", cancel))

	if local.IsAdminGranted() {
		if _, err := s.subs.Upsert(ctx, UpsertParams{
			SubscriptionID:    local.SubscriptionID,
			UserID:            local.UserID,
			CustomerID:        local.CustomerID,
			Status:            local.Status,
			Period:            local.Period(),
			CancelAtPeriodEnd: cancel,
			CanceledAt:        local.CanceledAt,
		}); err != nil {
			return nil, storeError(op, err)
		}
		log.InfoContext(ctx, "admin-granted subscription updated locally")
		sub, err := s.subs.GetBySubscriptionID(ctx, subscriptionID)
		if err != nil {
			return nil, storeError(op, err)
		}
		return sub, nil
	}

	psub, err := s.provider.SetCancelAtPeriodEnd(ctx, subscriptionID, cancel)
	if err != nil {
		log.ErrorContext(ctx, "provider rejected cancellation change", logger.Error(err))
		return nil, E(KindInternal, op, err)
	}
	if psub.CustomerID == "" {
		psub.CustomerID = local.CustomerID
	}

	p := local.Period()
	return s.reconcile(ctx, op, psub, local.UserID, &p, false)
}

func (s *service) CreatePortalLink(ctx context.Context, caller Caller, returnURL string) (*PortalLink, error) {
	const op = "subscription.portal"
	if caller.UserID == "" {
		return nil, E(KindAuthorization, op, ErrUnauthenticated)
	}

	customerID, err := s.customers.GetCustomerID(ctx, caller.UserID)
	if err != nil {
		return nil, E(KindInternal, op, err)
	}
	if customerID == "" {
		return nil, E(KindNotFound, op, ErrNoCustomer)
	}

	link, err := s.provider.CreatePortalSession(ctx, customerID, returnURL)
	if err != nil {
		return nil, E(KindInternal, op, err)
	}
	return link, nil
}

func (s *service) CreateCheckoutSession(ctx context.Context, caller Caller, req CheckoutOptions) (*CheckoutLink, error) {
	const op = "subscription.checkout"
	if caller.UserID == "" {
		return nil, E(KindAuthorization, op, ErrUnauthenticated)
	}
	if req.PriceID == "" {
		return nil, E(KindValidation, op, ErrMissingPriceID)
	}

	current, err := s.subs.CurrentForUser(ctx, caller.UserID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, storeError(op, err)
	}
	if current != nil && s.IsEntitled(current) {
		return nil, E(KindConflict, op, ErrAlreadyHasSubscription)
	}

	customerID, err := s.ensureCustomer(ctx, caller.UserID, req)
	if err != nil {
		return nil, err
	}

	link, err := s.provider.CreateCheckoutSession(ctx, CheckoutRequest{
		PriceID:    req.PriceID,
		CustomerID: customerID,
		UserID:     caller.UserID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		return nil, E(KindInternal, op, err)
	}

	if _, err := s.tracker.Create(ctx, link.SessionID, caller.UserID, customerID); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "checkout session created",
		logger.SessionID(link.SessionID),
		logger.UserID(caller.UserID),
		logger.CustomerID(customerID),
	)
	return link, nil
}

// ensureCustomer returns the user's provider customer, creating one when the
// user has none or the stored one was deleted on the provider side.
func (s *service) ensureCustomer(ctx context.Context, userID string, req CheckoutOptions) (string, error) {
	const op = "subscription.ensure_customer"

	existing, err := s.customers.GetCustomerID(ctx, userID)
	if err != nil {
		return "", E(KindInternal, op, err)
	}
	if existing != "" {
		ok, err := s.provider.CustomerExists(ctx, existing)
		if err != nil {
			return "", E(KindInternal, op, err)
		}
		if ok {
			return existing, nil
		}
	}

	customerID, err := s.provider.CreateCustomer(ctx, CustomerRequest{UserID: userID, Email: req.Email, Name: req.Name})
	if err != nil {
		return "", E(KindInternal, op, err)
	}

	if existing == "" {
		err = s.customers.SetCustomerID(ctx, userID, customerID)
	} else {
		s.log.WarnContext(ctx, "stored customer no longer exists on provider, replacing it",
			logger.UserID(userID),
			slog.String("old_customer_id", existing),
			logger.CustomerID(customerID),
		)
		err = s.customers.ReplaceCustomerID(ctx, userID, existing, customerID)
	}
	if err != nil {
		if errors.Is(err, ErrCustomerIDConflict) {
			// lost a race with a concurrent checkout; use the winner
			if winner, gerr := s.customers.GetCustomerID(ctx, userID); gerr == nil && winner != "" {
				return winner, nil
			}
		}
		return "", storeError(op, err)
	}
	return customerID, nil
}
