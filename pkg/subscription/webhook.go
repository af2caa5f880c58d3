package subscription

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/lmsadmin/pkg/logger"
)

// WebhookOutcome describes what happened to a verified event.
type WebhookOutcome string

const (
	WebhookProcessed WebhookOutcome = "processed"
	WebhookIgnored   WebhookOutcome = "ignored"
	WebhookDropped   WebhookOutcome = "dropped"
)

// WebhookResult summarizes a handled webhook.
type WebhookResult struct {
	EventID   string
	EventType EventType
	Outcome   WebhookOutcome
}

func (s *service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	const op = "subscription.webhook"

	event, err := s.provider.ParseWebhook(ctx, payload, signature)
	if err != nil {
		s.log.WarnContext(ctx, "webhook rejected", logger.Error(err))
		return nil, E(KindValidation, op, err)
	}

	log := s.log.With(logger.EventID(event.ID), logger.EventType(string(event.Type)))
	result := &WebhookResult{EventID: event.ID, EventType: event.Type, Outcome: WebhookProcessed}

	switch event.Type {
	case EventCheckoutSessionCompleted:
		err = s.onCheckoutCompleted(ctx, event.CheckoutSession)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		err = s.onSubscriptionEvent(ctx, event.Subscription, false)
	case EventSubscriptionDeleted:
		err = s.onSubscriptionEvent(ctx, event.Subscription, true)
	default:
		log.DebugContext(ctx, "webhook event type not handled")
		result.Outcome = WebhookIgnored
		return result, nil
	}

	switch {
	case err == nil:
		log.InfoContext(ctx, "webhook processed")
		return result, nil
	case errors.Is(err, ErrAdminGrantedEvent):
		log.InfoContext(ctx, "webhook ignored for admin-granted subscription")
		result.Outcome = WebhookIgnored
		return result, nil
	case IsAttributionFailure(err):
		log.ErrorContext(ctx, "webhook dropped, event cannot be attributed to a user", logger.Error(err))
		result.Outcome = WebhookDropped
		return result, nil
	}

	log.ErrorContext(ctx, "webhook processing failed", logger.Error(err))
	return result, E(KindInternal, op, err)
}

func (s *service) onCheckoutCompleted(ctx context.Context, cs *ProviderCheckoutSession) error {
	if cs == nil {
		return E(KindValidation, "subscription.webhook.checkout", ErrMissingEventObject)
	}
	_, err := s.reconcileCheckout(ctx, cs, CheckoutComplete)
	return err
}

// reconcileCheckout applies a provider checkout session: it links the
// customer to the user, records the session outcome and, when the session
// created a subscription, pulls and upserts that subscription.
func (s *service) reconcileCheckout(ctx context.Context, cs *ProviderCheckoutSession, outcome CheckoutStatus) (*Subscription, error) {
	const op = "subscription.reconcile_checkout"

	userID := cs.UserID()
	if userID == "" {
		return nil, E(KindAttribution, op, ErrMissingUserID)
	}
	log := s.log.With(logger.SessionID(cs.ID), logger.UserID(userID), logger.CustomerID(cs.CustomerID))

	if err := s.linkCustomer(ctx, userID, cs.CustomerID); err != nil {
		return nil, err
	}

	if outcome.Terminal() {
		if err := s.recordOutcome(ctx, cs, userID, outcome); err != nil {
			return nil, err
		}
	}

	if cs.SubscriptionID == "" || outcome != CheckoutComplete {
		log.DebugContext(ctx, "checkout session has no subscription to reconcile", slog.String("outcome", string(outcome)))
		return nil, nil
	}

	psub, err := s.provider.GetSubscription(ctx, cs.SubscriptionID)
	if err != nil {
		return nil, E(KindInternal, op, err)
	}
	if psub.CustomerID == "" {
		psub.CustomerID = cs.CustomerID
	}

	fallback, err := s.currentPeriod(ctx, userID)
	if err != nil {
		return nil, E(KindInternal, op, err)
	}
	return s.reconcile(ctx, op, psub, userID, fallback, false)
}

// recordOutcome marks the tracker row terminal, creating it first when the
// session was opened outside this service.
func (s *service) recordOutcome(ctx context.Context, cs *ProviderCheckoutSession, userID string, outcome CheckoutStatus) error {
	out := CheckoutOutcome{
		SessionID:      cs.ID,
		CustomerID:     cs.CustomerID,
		SubscriptionID: cs.SubscriptionID,
		Status:         outcome,
	}

	_, err := s.tracker.MarkOutcome(ctx, out)
	if errors.Is(err, ErrCheckoutSessionNotFound) {
		s.log.WarnContext(ctx, "checkout session was not tracked, recording it now",
			logger.SessionID(cs.ID),
			logger.UserID(userID),
		)
		if _, err = s.tracker.Create(ctx, cs.ID, userID, cs.CustomerID); err != nil && !errors.Is(err, ErrCheckoutSessionExists) {
			return err
		}
		_, err = s.tracker.MarkOutcome(ctx, out)
	}
	if errors.Is(err, ErrCheckoutSessionFinalized) {
		s.log.WarnContext(ctx, "checkout session already finalized with another outcome",
			logger.SessionID(cs.ID),
			slog.String("outcome", string(outcome)),
		)
		return nil
	}
	return err
}

// onSubscriptionEvent attributes a subscription event to a user through the
// checkout session opened for its customer, then upserts it.
func (s *service) onSubscriptionEvent(ctx context.Context, psub *ProviderSubscription, deleted bool) error {
	const op = "subscription.webhook.subscription"
	if psub == nil {
		return E(KindValidation, op, ErrMissingEventObject)
	}
	if IsAdminGrantID(psub.ID) {
		return ErrAdminGrantedEvent
	}
	if psub.CustomerID == "" {
		return E(KindAttribution, op, ErrMissingCustomerID)
	}

	cs, err := s.tracker.FindByCustomerID(ctx, psub.CustomerID)
	if err != nil {
		if errors.Is(err, ErrCheckoutSessionNotFound) {
			return E(KindAttribution, op, err)
		}
		return err
	}

	fallback, err := s.storedPeriod(ctx, psub.ID)
	if err != nil {
		return E(KindInternal, op, err)
	}
	_, err = s.reconcile(ctx, op, psub, cs.UserID, fallback, deleted)
	return err
}
