package subscription_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/lmsadmin/pkg/subscription"
)

func TestDecodeSubscription(t *testing.T) {
	t.Parallel()

	t.Run("snake case fields", func(t *testing.T) {
		t.Parallel()
		sub, err := subscription.DecodeSubscription([]byte(`{
			"id": "sub_1",
			"customer": "cus_1",
			"status": "active",
			"current_period_start": 1700000000,
			"current_period_end": 1702592000,
			"cancel_at_period_end": true,
			"canceled_at": null,
			"metadata": {"userId": "u1"}
		}`))
		require.NoError(t, err)
		assert.Equal(t, "sub_1", sub.ID)
		assert.Equal(t, "cus_1", sub.CustomerID)
		assert.Equal(t, "active", sub.Status)
		require.NotNil(t, sub.CurrentPeriodStart)
		assert.Equal(t, int64(1700000000), *sub.CurrentPeriodStart)
		assert.Equal(t, int64(1702592000), *sub.CurrentPeriodEnd)
		assert.True(t, sub.CancelAtPeriodEnd)
		assert.Nil(t, sub.CanceledAt)
		assert.Equal(t, "u1", sub.Metadata["userId"])
	})

	t.Run("camel case thin payload", func(t *testing.T) {
		t.Parallel()
		sub, err := subscription.DecodeSubscription([]byte(`{
			"id": "sub_1",
			"customerId": "cus_1",
			"status": "trialing",
			"currentPeriodStart": "1700000000",
			"currentPeriodEnd": 1702592000.0,
			"cancelAtPeriodEnd": true,
			"canceledAt": 1700000500
		}`))
		require.NoError(t, err)
		assert.Equal(t, "cus_1", sub.CustomerID)
		assert.Equal(t, int64(1700000000), *sub.CurrentPeriodStart)
		assert.Equal(t, int64(1702592000), *sub.CurrentPeriodEnd)
		assert.True(t, sub.CancelAtPeriodEnd)
		assert.Equal(t, int64(1700000500), *sub.CanceledAt)
	})

	t.Run("period from first subscription item", func(t *testing.T) {
		t.Parallel()
		sub, err := subscription.DecodeSubscription([]byte(`{
			"id": "sub_1",
			"customer": {"id": "cus_1", "object": "customer"},
			"status": "active",
			"items": {"data": [
				{"current_period_start": 1700000000, "current_period_end": 1702592000},
				{"current_period_start": 1, "current_period_end": 2}
			]}
		}`))
		require.NoError(t, err)
		assert.Equal(t, "cus_1", sub.CustomerID)
		assert.Equal(t, int64(1700000000), *sub.CurrentPeriodStart)
		assert.Equal(t, int64(1702592000), *sub.CurrentPeriodEnd)
	})

	t.Run("zero snake case period does not hide camel case", func(t *testing.T) {
		t.Parallel()
		sub, err := subscription.DecodeSubscription([]byte(`{
			"id": "sub_1",
			"status": "active",
			"current_period_start": 0,
			"currentPeriodStart": 1700000000,
			"current_period_end": -5,
			"currentPeriodEnd": "1702592000",
			"canceled_at": 0
		}`))
		require.NoError(t, err)
		require.NotNil(t, sub.CurrentPeriodStart)
		require.NotNil(t, sub.CurrentPeriodEnd)
		assert.Equal(t, int64(1700000000), *sub.CurrentPeriodStart)
		assert.Equal(t, int64(1702592000), *sub.CurrentPeriodEnd)
		assert.Nil(t, sub.CanceledAt)
	})

	t.Run("non numeric period decodes as missing", func(t *testing.T) {
		t.Parallel()
		sub, err := subscription.DecodeSubscription([]byte(`{
			"id": "sub_1",
			"status": "active",
			"current_period_start": "soon",
			"current_period_end": {"nested": true}
		}`))
		require.NoError(t, err)
		assert.Nil(t, sub.CurrentPeriodStart)
		assert.Nil(t, sub.CurrentPeriodEnd)
	})

	t.Run("missing id", func(t *testing.T) {
		t.Parallel()
		_, err := subscription.DecodeSubscription([]byte(`{"status": "active"}`))
		assert.ErrorIs(t, err, subscription.ErrMalformedPayload)
	})

	t.Run("invalid json", func(t *testing.T) {
		t.Parallel()
		_, err := subscription.DecodeSubscription([]byte(`{`))
		assert.ErrorIs(t, err, subscription.ErrMalformedPayload)
	})
}

func TestDecodeCheckoutSession(t *testing.T) {
	t.Parallel()

	cs, err := subscription.DecodeCheckoutSession([]byte(`{
		"id": "cs_1",
		"customer": "cus_1",
		"subscription": {"id": "sub_1"},
		"status": "complete",
		"payment_status": "paid",
		"client_reference_id": "u_ref",
		"metadata": {"userId": "u1"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "cs_1", cs.ID)
	assert.Equal(t, "cus_1", cs.CustomerID)
	assert.Equal(t, "sub_1", cs.SubscriptionID)
	assert.Equal(t, "u1", cs.UserID())
	assert.Equal(t, subscription.CheckoutComplete, cs.Outcome())
}

func TestProviderCheckoutSessionUserID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cs   subscription.ProviderCheckoutSession
		want string
	}{
		{"camel metadata wins", subscription.ProviderCheckoutSession{Metadata: map[string]string{"userId": "a", "user_id": "b"}, ClientReferenceID: "c"}, "a"},
		{"snake metadata", subscription.ProviderCheckoutSession{Metadata: map[string]string{"user_id": "b"}, ClientReferenceID: "c"}, "b"},
		{"client reference", subscription.ProviderCheckoutSession{ClientReferenceID: "c"}, "c"},
		{"nothing", subscription.ProviderCheckoutSession{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.cs.UserID())
		})
	}
}

func TestProviderCheckoutSessionOutcome(t *testing.T) {
	t.Parallel()
	assert.Equal(t, subscription.CheckoutExpired, (&subscription.ProviderCheckoutSession{Status: "expired"}).Outcome())
	assert.Equal(t, subscription.CheckoutPending, (&subscription.ProviderCheckoutSession{Status: "open"}).Outcome())
}

func TestDecodeEvent(t *testing.T) {
	t.Parallel()

	t.Run("subscription event", func(t *testing.T) {
		t.Parallel()
		ev, err := subscription.DecodeEvent("evt_1", "customer.subscription.deleted", 1700000000, []byte(`{"id":"sub_1","status":"canceled"}`))
		require.NoError(t, err)
		assert.Equal(t, subscription.EventSubscriptionDeleted, ev.Type)
		assert.Equal(t, time.Unix(1700000000, 0).UTC(), ev.Created)
		require.NotNil(t, ev.Subscription)
		assert.Nil(t, ev.CheckoutSession)
	})

	t.Run("checkout event", func(t *testing.T) {
		t.Parallel()
		ev, err := subscription.DecodeEvent("evt_2", "checkout.session.completed", 0, []byte(`{"id":"cs_1"}`))
		require.NoError(t, err)
		require.NotNil(t, ev.CheckoutSession)
		assert.True(t, ev.Created.IsZero())
	})

	t.Run("unhandled type keeps no object", func(t *testing.T) {
		t.Parallel()
		ev, err := subscription.DecodeEvent("evt_3", "invoice.paid", 0, []byte(`{"id":"in_1"}`))
		require.NoError(t, err)
		assert.Nil(t, ev.Subscription)
		assert.Nil(t, ev.CheckoutSession)
	})

	t.Run("malformed object", func(t *testing.T) {
		t.Parallel()
		_, err := subscription.DecodeEvent("evt_4", "customer.subscription.updated", 0, []byte(`[]`))
		assert.ErrorIs(t, err, subscription.ErrMalformedPayload)
	})
}
