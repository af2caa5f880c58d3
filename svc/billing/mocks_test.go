package billing_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/lmsadmin/pkg/subscription"
)

type MockService struct {
	mock.Mock
}

var _ subscription.Service = (*MockService)(nil)

func (m *MockService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*subscription.WebhookResult, error) {
	args := m.Called(ctx, payload, signature)
	res, _ := args.Get(0).(*subscription.WebhookResult)
	return res, args.Error(1)
}

func (m *MockService) CreateCheckoutSession(ctx context.Context, caller subscription.Caller, req subscription.CheckoutOptions) (*subscription.CheckoutLink, error) {
	args := m.Called(ctx, caller, req)
	link, _ := args.Get(0).(*subscription.CheckoutLink)
	return link, args.Error(1)
}

func (m *MockService) SyncCheckoutSession(ctx context.Context, caller subscription.Caller, sessionID string) (*subscription.Subscription, error) {
	args := m.Called(ctx, caller, sessionID)
	sub, _ := args.Get(0).(*subscription.Subscription)
	return sub, args.Error(1)
}

func (m *MockService) SyncSubscription(ctx context.Context, caller subscription.Caller, subscriptionID string) (*subscription.Subscription, error) {
	args := m.Called(ctx, caller, subscriptionID)
	sub, _ := args.Get(0).(*subscription.Subscription)
	return sub, args.Error(1)
}

func (m *MockService) CancelSubscription(ctx context.Context, caller subscription.Caller, subscriptionID string) (*subscription.Subscription, error) {
	args := m.Called(ctx, caller, subscriptionID)
	sub, _ := args.Get(0).(*subscription.Subscription)
	return sub, args.Error(1)
}

func (m *MockService) ReactivateSubscription(ctx context.Context, caller subscription.Caller, subscriptionID string) (*subscription.Subscription, error) {
	args := m.Called(ctx, caller, subscriptionID)
	sub, _ := args.Get(0).(*subscription.Subscription)
	return sub, args.Error(1)
}

func (m *MockService) CreatePortalLink(ctx context.Context, caller subscription.Caller, returnURL string) (*subscription.PortalLink, error) {
	args := m.Called(ctx, caller, returnURL)
	link, _ := args.Get(0).(*subscription.PortalLink)
	return link, args.Error(1)
}

func (m *MockService) GetCurrentSubscription(ctx context.Context, userID string) (*subscription.Subscription, error) {
	args := m.Called(ctx, userID)
	sub, _ := args.Get(0).(*subscription.Subscription)
	return sub, args.Error(1)
}

func (m *MockService) GrantSubscription(ctx context.Context, userID string, durationDays int) (*subscription.Subscription, error) {
	args := m.Called(ctx, userID, durationDays)
	sub, _ := args.Get(0).(*subscription.Subscription)
	return sub, args.Error(1)
}

func (m *MockService) ExpireSubscriptions(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockService) IsEntitled(sub *subscription.Subscription) bool {
	args := m.Called(sub)
	return args.Bool(0)
}
