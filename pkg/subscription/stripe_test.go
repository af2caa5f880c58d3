package subscription_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/lmsadmin/pkg/subscription"
)

func newStubStripe(t *testing.T, handler http.HandlerFunc) *subscription.StripeProvider {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	p, err := subscription.NewStripeProvider(subscription.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		APITimeout:    5 * time.Second,
	}, subscription.WithStripeBackends(&stripe.Backends{API: backend, Connect: backend, Uploads: backend}))
	require.NoError(t, err)
	return p
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func stripeError(status int, code string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, status, map[string]any{
			"error": map[string]any{
				"type":    "invalid_request_error",
				"code":    code,
				"message": "stub failure",
			},
		})
	}
}

func TestNewStripeProvider_Config(t *testing.T) {
	t.Parallel()

	_, err := subscription.NewStripeProvider(subscription.StripeConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, subscription.ErrMissingAPIKey)
	assert.ErrorIs(t, err, subscription.ErrMissingWebhookSecret)
	assert.Equal(t, subscription.KindConfig, subscription.KindOf(err))

	p, err := subscription.NewStripeProvider(subscription.StripeConfig{SecretKey: "sk_test_1", WebhookSecret: "whsec_1"})
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestStripeProvider_GetSubscription(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Unix()
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC).Unix()

	p := newStubStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/subscriptions/sub_1", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"id":                   "sub_1",
			"object":               "subscription",
			"customer":             "cus_1",
			"status":               "active",
			"cancel_at_period_end": true,
			"metadata":             map[string]string{"userId": "u1"},
			"items": map[string]any{
				"object": "list",
				"data": []map[string]any{{
					"id":                   "si_1",
					"object":               "subscription_item",
					"current_period_start": start,
					"current_period_end":   end,
				}},
			},
		})
	})

	sub, err := p.GetSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ID)
	assert.Equal(t, "cus_1", sub.CustomerID)
	assert.Equal(t, "active", sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	require.NotNil(t, sub.CurrentPeriodStart)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, start, *sub.CurrentPeriodStart)
	assert.Equal(t, end, *sub.CurrentPeriodEnd)
	assert.Equal(t, "u1", sub.Metadata["userId"])
}

func TestStripeProvider_ErrorTranslation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		code      string
		kind      subscription.Kind
		retryable bool
		sentinel  error
	}{
		{"missing resource", http.StatusNotFound, "resource_missing", subscription.KindNotFound, false, subscription.ErrSubscriptionNotFound},
		{"bad key", http.StatusUnauthorized, "", subscription.KindConfig, false, subscription.ErrProviderError},
		{"forbidden", http.StatusForbidden, "", subscription.KindConfig, false, subscription.ErrProviderError},
		{"rate limited", http.StatusTooManyRequests, "rate_limit", subscription.KindProviderTransient, true, subscription.ErrProviderError},
		{"server error", http.StatusInternalServerError, "", subscription.KindProviderTransient, true, subscription.ErrProviderError},
		{"bad request", http.StatusBadRequest, "parameter_invalid_empty", subscription.KindProviderPermanent, false, subscription.ErrProviderError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newStubStripe(t, stripeError(tt.status, tt.code))

			_, err := p.GetSubscription(context.Background(), "sub_1")
			require.Error(t, err)
			assert.Equal(t, tt.kind, subscription.KindOf(err))
			assert.Equal(t, tt.retryable, subscription.IsRetryable(err))
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestStripeProvider_CustomerExists(t *testing.T) {
	t.Parallel()

	p := newStubStripe(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/customers/cus_live":
			writeJSON(w, http.StatusOK, map[string]any{"id": "cus_live", "object": "customer"})
		case "/v1/customers/cus_deleted":
			writeJSON(w, http.StatusOK, map[string]any{"id": "cus_deleted", "object": "customer", "deleted": true})
		case "/v1/customers/cus_down":
			stripeError(http.StatusServiceUnavailable, "")(w, r)
		default:
			stripeError(http.StatusNotFound, "resource_missing")(w, r)
		}
	})
	ctx := context.Background()

	ok, err := p.CustomerExists(ctx, "cus_live")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.CustomerExists(ctx, "cus_deleted")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = p.CustomerExists(ctx, "cus_missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.CustomerExists(ctx, "cus_down")
	assert.True(t, subscription.IsRetryable(err))

	ok, err = p.CustomerExists(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStripeProvider_CreateCheckoutSession(t *testing.T) {
	t.Parallel()

	expiresAt := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	p := newStubStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "subscription", r.PostForm.Get("mode"))
		assert.Equal(t, "cus_1", r.PostForm.Get("customer"))
		assert.Equal(t, "u1", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "u1", r.PostForm.Get("metadata[userId]"))
		assert.Equal(t, "u1", r.PostForm.Get("subscription_data[metadata][userId]"))
		assert.Equal(t, "price_1", r.PostForm.Get("line_items[0][price]"))
		assert.Equal(t, "1", r.PostForm.Get("line_items[0][quantity]"))

		writeJSON(w, http.StatusOK, map[string]any{
			"id":         "cs_1",
			"object":     "checkout.session",
			"url":        "https://checkout.stripe.com/c/pay/cs_1",
			"expires_at": expiresAt.Unix(),
		})
	})

	link, err := p.CreateCheckoutSession(context.Background(), subscription.CheckoutRequest{
		PriceID:    "price_1",
		CustomerID: "cus_1",
		UserID:     "u1",
		SuccessURL: "https://lms.test/ok",
		CancelURL:  "https://lms.test/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", link.SessionID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_1", link.URL)
	assert.Equal(t, expiresAt, link.ExpiresAt)

	_, err = p.CreateCheckoutSession(context.Background(), subscription.CheckoutRequest{UserID: "u1"})
	assert.ErrorIs(t, err, subscription.ErrMissingPriceID)
}

func TestStripeProvider_CreateCheckoutSession_NoURL(t *testing.T) {
	t.Parallel()

	p := newStubStripe(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "cs_1", "object": "checkout.session"})
	})

	_, err := p.CreateCheckoutSession(context.Background(), subscription.CheckoutRequest{PriceID: "price_1", UserID: "u1"})
	assert.ErrorIs(t, err, subscription.ErrNoCheckoutURL)
	assert.Equal(t, subscription.KindProviderPermanent, subscription.KindOf(err))
}

func TestStripeProvider_SetCancelAtPeriodEnd(t *testing.T) {
	t.Parallel()

	p := newStubStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/subscriptions/sub_1", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "true", r.PostForm.Get("cancel_at_period_end"))
		writeJSON(w, http.StatusOK, map[string]any{
			"id":                   "sub_1",
			"object":               "subscription",
			"customer":             map[string]any{"id": "cus_1", "object": "customer"},
			"status":               "active",
			"cancel_at_period_end": true,
		})
	})

	sub, err := p.SetCancelAtPeriodEnd(context.Background(), "sub_1", true)
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, "cus_1", sub.CustomerID)
	assert.Nil(t, sub.CurrentPeriodEnd)
}

func TestStripeProvider_CreatePortalSession(t *testing.T) {
	t.Parallel()

	p := newStubStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/billing_portal/sessions", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "cus_1", r.PostForm.Get("customer"))
		assert.Equal(t, "https://lms.test/account", r.PostForm.Get("return_url"))
		writeJSON(w, http.StatusOK, map[string]any{
			"id":     "bps_1",
			"object": "billing_portal.session",
			"url":    "https://billing.stripe.com/p/session/bps_1",
		})
	})

	link, err := p.CreatePortalSession(context.Background(), "cus_1", "https://lms.test/account")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.com/p/session/bps_1", link.URL)

	_, err = p.CreatePortalSession(context.Background(), "", "")
	assert.ErrorIs(t, err, subscription.ErrMissingCustomerID)
}

func TestStripeProvider_ParseWebhook(t *testing.T) {
	t.Parallel()

	p, err := subscription.NewStripeProvider(subscription.StripeConfig{
		SecretKey:        "sk_test_123",
		WebhookSecret:    testWebhookSecret,
		WebhookTolerance: 5 * time.Minute,
	})
	require.NoError(t, err)

	payload := []byte(`{"id":"evt_1","object":"event","type":"customer.subscription.updated","created":1767225600,"data":{"object":{"id":"sub_1","customer":"cus_1","status":"active","current_period_start":"1767225600","current_period_end":1769904000}}}`)
	sign := func(secret string, ts time.Time) string {
		return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    secret,
			Timestamp: ts,
			Scheme:    "v1",
		}).Header
	}

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		ev, err := p.ParseWebhook(context.Background(), payload, sign(testWebhookSecret, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, "evt_1", ev.ID)
		assert.Equal(t, subscription.EventSubscriptionUpdated, ev.Type)
		require.NotNil(t, ev.Subscription)
		assert.Equal(t, "cus_1", ev.Subscription.CustomerID)
		require.NotNil(t, ev.Subscription.CurrentPeriodStart)
		assert.Equal(t, int64(1767225600), *ev.Subscription.CurrentPeriodStart)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		_, err := p.ParseWebhook(context.Background(), payload, sign("whsec_other", time.Now()))
		assert.ErrorIs(t, err, subscription.ErrWebhookVerificationFailed)
		assert.Equal(t, subscription.KindValidation, subscription.KindOf(err))
	})

	t.Run("stale timestamp", func(t *testing.T) {
		t.Parallel()
		_, err := p.ParseWebhook(context.Background(), payload, sign(testWebhookSecret, time.Now().Add(-10*time.Minute)))
		assert.ErrorIs(t, err, subscription.ErrWebhookVerificationFailed)
	})

	t.Run("missing signature", func(t *testing.T) {
		t.Parallel()
		_, err := p.ParseWebhook(context.Background(), payload, "  ")
		assert.ErrorIs(t, err, subscription.ErrWebhookVerificationFailed)
	})
}
