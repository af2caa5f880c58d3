package subscription_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/lmsadmin/pkg/subscription"
)

// MockProvider is a mock implementation of subscription.BillingProvider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GetSubscription(ctx context.Context, subscriptionID string) (*subscription.ProviderSubscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.ProviderSubscription), args.Error(1)
}

func (m *MockProvider) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*subscription.ProviderSubscription, error) {
	args := m.Called(ctx, subscriptionID, cancel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.ProviderSubscription), args.Error(1)
}

func (m *MockProvider) GetCheckoutSession(ctx context.Context, sessionID string) (*subscription.ProviderCheckoutSession, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.ProviderCheckoutSession), args.Error(1)
}

func (m *MockProvider) CreateCheckoutSession(ctx context.Context, req subscription.CheckoutRequest) (*subscription.CheckoutLink, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.CheckoutLink), args.Error(1)
}

func (m *MockProvider) CreateCustomer(ctx context.Context, req subscription.CustomerRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	args := m.Called(ctx, customerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*subscription.PortalLink, error) {
	args := m.Called(ctx, customerID, returnURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.PortalLink), args.Error(1)
}

func (m *MockProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*subscription.Event, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Event), args.Error(1)
}

// signedProvider answers API calls from the mock and verifies webhooks with
// a real Stripe provider, so tests exercise signature checks end to end.
type signedProvider struct {
	*MockProvider
	verifier *subscription.StripeProvider
}

func (p *signedProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*subscription.Event, error) {
	return p.verifier.ParseWebhook(ctx, payload, signature)
}
