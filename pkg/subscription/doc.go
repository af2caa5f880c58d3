// Package subscription keeps a local mirror of billing provider
// subscriptions consistent across independent write paths.
//
// # Write paths
//
// State arrives from four sources that can race and contradict each other:
//
//   - Webhooks (Service.HandleWebhook): verified provider events for
//     checkout completion and subscription creation, update and deletion.
//   - Pull syncs (SyncCheckoutSession, SyncSubscription, Cancel and
//     Reactivate): the service asks the provider for fresh state.
//   - The expiry sweep (ExpireSubscriptions): cancels rows whose period
//     ended, without asking the provider.
//   - Admin grants (GrantSubscription): provider-less subscriptions whose
//     ids are recognized by IsAdminGrantID.
//
// All of them write through SubscriptionStore.Upsert or the conditional
// SubscriptionStore.ExpireIfElapsed, so repeated or out-of-order deliveries
// converge on one row per provider subscription id.
//
// # Periods
//
// Provider payloads do not always carry the current period. ResolvePeriod
// prefers the provider's bounds, then the stored row's, and only then
// synthesizes a 30-day window, which is logged as degraded.
//
// # Attribution
//
// Subscription events carry only a customer id. The user is found through
// the most recent checkout session opened for that customer (see
// CheckoutTracker). Events that cannot be attributed are logged and dropped
// instead of failing the webhook, since retrying would not help.
//
// # Errors
//
// Errors are tagged with a Kind (see Error, KindOf, IsRetryable) while the
// sentinel values stay reachable through errors.Is.
//
// # Usage
//
//	provider, err := subscription.NewStripeProvider(stripeCfg)
//	if err != nil {
//		return err
//	}
//	svc := subscription.NewService(provider, store, store, store,
//		subscription.WithLogger(log),
//	)
//	result, err := svc.HandleWebhook(ctx, payload, r.Header.Get("Stripe-Signature"))
package subscription
