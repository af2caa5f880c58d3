package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/lmsadmin/pkg/httpserver"
	"github.com/dmitrymomot/lmsadmin/pkg/logger"
	"github.com/dmitrymomot/lmsadmin/pkg/subscription"
	"github.com/dmitrymomot/lmsadmin/svc/billing"
)

func newTestHandler(t *testing.T, opts ...billing.Option) (http.Handler, *MockService) {
	t.Helper()
	svc := &MockService{}
	t.Cleanup(func() { svc.AssertExpectations(t) })

	opts = append([]billing.Option{billing.WithLogger(logger.Nop())}, opts...)
	return billing.NewHandler(svc, opts...).Routes(), svc
}

func doJSON(t *testing.T, h http.Handler, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(billing.HeaderUserID, userID)
	}
	if role != "" {
		req.Header.Set(billing.HeaderUserRole, role)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func activeSub(subID, userID string) *subscription.Subscription {
	now := time.Now().UTC()
	return &subscription.Subscription{
		SubscriptionID:     subID,
		UserID:             userID,
		Status:             subscription.StatusActive,
		CurrentPeriodStart: now.Add(-24 * time.Hour),
		CurrentPeriodEnd:   now.Add(10 * 24 * time.Hour),
	}
}

func webhookRequest(body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	return req
}

func TestStripeWebhookEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("missing signature is rejected", func(t *testing.T) {
		t.Parallel()
		h, _ := newTestHandler(t)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, webhookRequest(`{}`, ""))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "missing Stripe signature", decodeBody(t, rec)["error"])
	})

	t.Run("bad signature is rejected", func(t *testing.T) {
		t.Parallel()
		h, svc := newTestHandler(t)
		svc.On("HandleWebhook", mock.Anything, []byte(`{}`), "t=1,v1=bad").
			Return(nil, subscription.E(subscription.KindValidation, "subscription.webhook", subscription.ErrWebhookVerificationFailed)).Once()

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, webhookRequest(`{}`, "t=1,v1=bad"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid Stripe signature", decodeBody(t, rec)["error"])
	})

	t.Run("processed event is acknowledged", func(t *testing.T) {
		t.Parallel()
		h, svc := newTestHandler(t)
		svc.On("HandleWebhook", mock.Anything, []byte(`{"id":"evt_1"}`), "sig").Return(&subscription.WebhookResult{
			EventID:   "evt_1",
			EventType: subscription.EventSubscriptionUpdated,
			Outcome:   subscription.WebhookProcessed,
		}, nil).Once()

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, webhookRequest(`{"id":"evt_1"}`, "sig"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["received"])
	})

	t.Run("dropped event is acknowledged", func(t *testing.T) {
		t.Parallel()
		h, svc := newTestHandler(t)
		svc.On("HandleWebhook", mock.Anything, mock.Anything, "sig").Return(&subscription.WebhookResult{
			EventID:   "evt_2",
			EventType: subscription.EventSubscriptionUpdated,
			Outcome:   subscription.WebhookDropped,
		}, nil).Once()

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, webhookRequest(`{"id":"evt_2"}`, "sig"))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("processing failure asks for a retry", func(t *testing.T) {
		t.Parallel()
		h, svc := newTestHandler(t)
		svc.On("HandleWebhook", mock.Anything, mock.Anything, "sig").Return(&subscription.WebhookResult{
			EventID:   "evt_3",
			EventType: subscription.EventCheckoutSessionCompleted,
			Outcome:   subscription.WebhookProcessed,
		}, subscription.E(subscription.KindProviderTransient, "subscription.webhook", subscription.ErrProviderError)).Once()

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, webhookRequest(`{"id":"evt_3"}`, "sig"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "processing failed", decodeBody(t, rec)["error"])
	})

	t.Run("oversized body", func(t *testing.T) {
		t.Parallel()
		h, _ := newTestHandler(t)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, webhookRequest(strings.Repeat("a", 1<<20+1), "sig"))

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestWebhookMetrics(t *testing.T) {
	t.Parallel()

	m := billing.NewMetrics()
	h, svc := newTestHandler(t, billing.WithMetrics(m))
	svc.On("HandleWebhook", mock.Anything, mock.Anything, "sig").Return(&subscription.WebhookResult{
		EventID:   "evt_1",
		EventType: subscription.EventSubscriptionDeleted,
		Outcome:   subscription.WebhookProcessed,
	}, nil).Twice()

	for range 2 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, webhookRequest(`{}`, "sig"))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(),
		`lms_billing_webhook_events_total{event_type="customer.subscription.deleted",outcome="processed"} 2`)
	assert.Contains(t, rec.Body.String(), "lms_billing_webhook_duration_seconds_bucket")
}

func TestBillingRoutesRequireCaller(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t)

	for _, path := range []string{"/billing/checkout", "/billing/sync/session", "/billing/portal"} {
		rec := doJSON(t, h, http.MethodPost, path, "", "", map[string]string{})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := doJSON(t, h, http.MethodGet, "/billing/subscription", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetSubscription(t *testing.T) {
	t.Parallel()

	t.Run("entitled subscription", func(t *testing.T) {
		t.Parallel()
		h, svc := newTestHandler(t)
		sub := activeSub("sub_1", "u1")
		svc.On("GetCurrentSubscription", mock.Anything, "u1").Return(sub, nil).Once()
		svc.On("IsEntitled", sub).Return(true).Once()

		rec := doJSON(t, h, http.MethodGet, "/billing/subscription", "u1", "", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["entitled"])
		assert.Equal(t, false, body["admin_granted"])
		assert.InDelta(t, 10, body["days_remaining"], 1)
		assert.Equal(t, "sub_1", body["subscription"].(map[string]any)["subscription_id"])
	})

	t.Run("no subscription", func(t *testing.T) {
		t.Parallel()
		h, svc := newTestHandler(t)
		svc.On("GetCurrentSubscription", mock.Anything, "u2").
			Return(nil, subscription.E(subscription.KindNotFound, "subscription.current", subscription.ErrSubscriptionNotFound)).Once()

		rec := doJSON(t, h, http.MethodGet, "/billing/subscription", "u2", "", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Nil(t, body["subscription"])
		assert.Equal(t, false, body["entitled"])
	})
}

func TestCreateCheckout(t *testing.T) {
	t.Parallel()

	t.Run("created", func(t *testing.T) {
		t.Parallel()
		h, svc := newTestHandler(t)
		svc.On("CreateCheckoutSession", mock.Anything, subscription.Caller{UserID: "u1"}, subscription.CheckoutOptions{
			PriceID:    "price_1",
			SuccessURL: "https://lms.test/ok",
			CancelURL:  "https://lms.test/cancel",
		}).Return(&subscription.CheckoutLink{URL: "https://checkout.test/cs_1", SessionID: "cs_1"}, nil).Once()

		rec := doJSON(t, h, http.MethodPost, "/billing/checkout", "u1", "", map[string]string{
			"price_id":    " price_1 ",
			"success_url": "https://lms.test/ok",
			"cancel_url":  "https://lms.test/cancel",
		})

		require.Equal(t, http.StatusCreated, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "cs_1", body["session_id"])
		assert.Equal(t, "https://checkout.test/cs_1", body["url"])
	})

	t.Run("already subscribed", func(t *testing.T) {
		t.Parallel()
		h, svc := newTestHandler(t)
		svc.On("CreateCheckoutSession", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, subscription.E(subscription.KindConflict, "subscription.checkout", subscription.ErrAlreadyHasSubscription)).Once()

		rec := doJSON(t, h, http.MethodPost, "/billing/checkout", "u1", "", map[string]string{"price_id": "price_1"})

		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "ALREADY_HAS_SUBSCRIPTION", decodeBody(t, rec)["code"])
	})

	t.Run("unknown field", func(t *testing.T) {
		t.Parallel()
		h, _ := newTestHandler(t)

		rec := doJSON(t, h, http.MethodPost, "/billing/checkout", "u1", "", map[string]string{"price": "price_1"})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong content type", func(t *testing.T) {
		t.Parallel()
		h, _ := newTestHandler(t)

		req := httptest.NewRequest(http.MethodPost, "/billing/checkout", strings.NewReader("price_id=price_1"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set(billing.HeaderUserID, "u1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})
}

func TestErrorStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", subscription.E(subscription.KindValidation, "op", subscription.ErrMissingSessionID), http.StatusBadRequest},
		{"not owner", subscription.E(subscription.KindAuthorization, "op", subscription.ErrNotOwner), http.StatusForbidden},
		{"not found", subscription.E(subscription.KindNotFound, "op", subscription.ErrCheckoutSessionNotFound), http.StatusNotFound},
		{"attribution", subscription.E(subscription.KindAttribution, "op", subscription.ErrCheckoutSessionNotFound), http.StatusUnprocessableEntity},
		{"transient", subscription.E(subscription.KindProviderTransient, "op", subscription.ErrProviderError), http.StatusServiceUnavailable},
		{"permanent", subscription.E(subscription.KindProviderPermanent, "op", subscription.ErrProviderError), http.StatusBadGateway},
		{"config", subscription.E(subscription.KindConfig, "op", subscription.ErrProviderError), http.StatusInternalServerError},
		{"untagged", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h, svc := newTestHandler(t)
			svc.On("SyncCheckoutSession", mock.Anything, subscription.Caller{UserID: "u1"}, "cs_1").Return(nil, tt.err).Once()

			rec := doJSON(t, h, http.MethodPost, "/billing/sync/session", "u1", "", map[string]string{"session_id": "cs_1"})

			assert.Equal(t, tt.status, rec.Code)
			body := decodeBody(t, rec)
			if tt.status >= http.StatusInternalServerError {
				assert.Equal(t, http.StatusText(tt.status), body["error"])
			}
		})
	}
}

func TestSyncCheckoutSession_Pending(t *testing.T) {
	t.Parallel()
	h, svc := newTestHandler(t)
	svc.On("SyncCheckoutSession", mock.Anything, subscription.Caller{UserID: "u1"}, "cs_1").Return(nil, nil).Once()

	rec := doJSON(t, h, http.MethodPost, "/billing/sync/session", "u1", "", map[string]string{"session_id": "cs_1"})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Nil(t, body["subscription"])
	assert.Equal(t, false, body["entitled"])
}

func TestCancelAndReactivate(t *testing.T) {
	t.Parallel()

	t.Run("cancel defaults to current subscription", func(t *testing.T) {
		t.Parallel()
		h, svc := newTestHandler(t)
		current := activeSub("sub_1", "u1")
		canceled := activeSub("sub_1", "u1")
		canceled.CancelAtPeriodEnd = true
		svc.On("GetCurrentSubscription", mock.Anything, "u1").Return(current, nil).Once()
		svc.On("CancelSubscription", mock.Anything, subscription.Caller{UserID: "u1"}, "sub_1").Return(canceled, nil).Once()
		svc.On("IsEntitled", canceled).Return(true).Once()

		rec := doJSON(t, h, http.MethodPost, "/billing/subscription/cancel", "u1", "", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		sub := decodeBody(t, rec)["subscription"].(map[string]any)
		assert.Equal(t, true, sub["cancel_at_period_end"])
	})

	t.Run("reactivate explicit subscription", func(t *testing.T) {
		t.Parallel()
		h, svc := newTestHandler(t)
		sub := activeSub("sub_2", "u1")
		svc.On("ReactivateSubscription", mock.Anything, subscription.Caller{UserID: "u1"}, "sub_2").Return(sub, nil).Once()
		svc.On("IsEntitled", sub).Return(true).Once()

		rec := doJSON(t, h, http.MethodPost, "/billing/subscription/reactivate", "u1", "", map[string]string{"subscription_id": "sub_2"})

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("cancel without any subscription", func(t *testing.T) {
		t.Parallel()
		h, svc := newTestHandler(t)
		svc.On("GetCurrentSubscription", mock.Anything, "u3").
			Return(nil, subscription.E(subscription.KindNotFound, "subscription.current", subscription.ErrSubscriptionNotFound)).Once()

		rec := doJSON(t, h, http.MethodPost, "/billing/subscription/cancel", "u3", "", nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCreatePortalLink(t *testing.T) {
	t.Parallel()
	h, svc := newTestHandler(t)
	svc.On("CreatePortalLink", mock.Anything, subscription.Caller{UserID: "u1"}, "https://lms.test/account").
		Return(&subscription.PortalLink{URL: "https://portal.test/p_1"}, nil).Once()

	rec := doJSON(t, h, http.MethodPost, "/billing/portal", "u1", "", map[string]string{"return_url": "https://lms.test/account"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://portal.test/p_1", decodeBody(t, rec)["url"])
}

func TestAdminRoutes(t *testing.T) {
	t.Parallel()

	t.Run("non-admin is forbidden", func(t *testing.T) {
		t.Parallel()
		h, _ := newTestHandler(t)

		rec := doJSON(t, h, http.MethodPost, "/admin/billing/grants", "u1", "member", map[string]any{"user_id": "u2"})

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("grant", func(t *testing.T) {
		t.Parallel()
		h, svc := newTestHandler(t)
		sub := activeSub(subscription.AdminGrantID("u2", time.Now()), "u2")
		svc.On("GrantSubscription", mock.Anything, "u2", 30).Return(sub, nil).Once()
		svc.On("IsEntitled", sub).Return(true).Once()

		rec := doJSON(t, h, http.MethodPost, "/admin/billing/grants", "admin_1", "admin", map[string]any{"user_id": "u2", "duration_days": 30})

		require.Equal(t, http.StatusCreated, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["admin_granted"])
		assert.Equal(t, true, body["entitled"])
	})

	t.Run("admin resync passes the admin caller", func(t *testing.T) {
		t.Parallel()
		h, svc := newTestHandler(t)
		sub := activeSub("sub_9", "u9")
		svc.On("SyncSubscription", mock.Anything, subscription.Caller{UserID: "admin_1", Admin: true}, "sub_9").Return(sub, nil).Once()
		svc.On("IsEntitled", sub).Return(true).Once()

		rec := doJSON(t, h, http.MethodPost, "/admin/billing/sync/subscription", "admin_1", "Admin", map[string]string{"subscription_id": "sub_9"})

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("manual sweep", func(t *testing.T) {
		t.Parallel()
		h, svc := newTestHandler(t)
		svc.On("ExpireSubscriptions", mock.Anything).Return(3, nil).Once()

		rec := doJSON(t, h, http.MethodPost, "/admin/billing/sweep", "admin_1", "admin", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.InDelta(t, 3, decodeBody(t, rec)["expired"], 0)
	})
}

func TestSyncRateLimit(t *testing.T) {
	t.Parallel()
	h, svc := newTestHandler(t, billing.WithRateLimiter(billing.NewUserRateLimiter(0.001, 2)))
	svc.On("SyncCheckoutSession", mock.Anything, mock.Anything, "cs_1").Return(nil, nil).Times(3)

	for range 2 {
		rec := doJSON(t, h, http.MethodPost, "/billing/sync/session", "u1", "", map[string]string{"session_id": "cs_1"})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, h, http.MethodPost, "/billing/sync/session", "u1", "", map[string]string{"session_id": "cs_1"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// other users have their own bucket
	rec = doJSON(t, h, http.MethodPost, "/billing/sync/session", "u2", "", map[string]string{"session_id": "cs_1"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, billing.WithHealthChecks(
		httpserver.HealthCheck{Name: "postgres", Check: func(context.Context) error { return nil }},
		httpserver.HealthCheck{Name: "redis", Check: func(context.Context) error { return errors.New("down") }},
	))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ALIVE", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NOT_READY", rec.Body.String())
}

func TestNewHandler_NilServicePanics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { billing.NewHandler(nil) })
}
