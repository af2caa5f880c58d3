package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig configures the Stripe provider.
type StripeConfig struct {
	SecretKey        string        `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret    string        `env:"STRIPE_WEBHOOK_SECRET,required"`
	APITimeout       time.Duration `env:"STRIPE_API_TIMEOUT" envDefault:"10s"`
	WebhookTolerance time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`
}

func (c *StripeConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.SecretKey) == "" {
		errs = append(errs, ErrMissingAPIKey)
	}
	if strings.TrimSpace(c.WebhookSecret) == "" {
		errs = append(errs, ErrMissingWebhookSecret)
	}
	return errors.Join(errs...)
}

// StripeProvider implements BillingProvider on top of stripe-go.
type StripeProvider struct {
	api              *client.API
	webhookSecret    string
	webhookTolerance time.Duration
	timeout          time.Duration
}

var _ BillingProvider = (*StripeProvider)(nil)

// StripeOption configures a StripeProvider.
type StripeOption func(*stripeOptions)

type stripeOptions struct {
	backends *stripe.Backends
}

// WithStripeBackends overrides the HTTP backends, e.g. to point at a stub server.
func WithStripeBackends(b *stripe.Backends) StripeOption {
	return func(o *stripeOptions) { o.backends = b }
}

// NewStripeProvider builds a provider with its own API client, so several
// keys can coexist in one process.
func NewStripeProvider(cfg StripeConfig, opts ...StripeOption) (*StripeProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, E(KindConfig, "stripe.new", err)
	}
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = 10 * time.Second
	}
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = webhook.DefaultTolerance
	}

	o := &stripeOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.backends == nil {
		o.backends = stripe.NewBackends(&http.Client{Timeout: cfg.APITimeout})
	}

	return &StripeProvider{
		api:              client.New(cfg.SecretKey, o.backends),
		webhookSecret:    cfg.WebhookSecret,
		webhookTolerance: cfg.WebhookTolerance,
		timeout:          cfg.APITimeout,
	}, nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	const op = "stripe.get_subscription"
	if subscriptionID == "" {
		return nil, E(KindValidation, op, ErrMissingSubID)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, translateStripeError(op, err, ErrSubscriptionNotFound)
	}
	return decodeStripeObject(op, sub, sub.LastResponse, DecodeSubscription)
}

func (p *StripeProvider) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*ProviderSubscription, error) {
	const op = "stripe.set_cancel_at_period_end"
	if subscriptionID == "" {
		return nil, E(KindValidation, op, ErrMissingSubID)
	}
	ctx, done := context.WithTimeout(ctx, p.timeout)
	defer done()

	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(cancel)}
	params.Context = ctx
	sub, err := p.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, translateStripeError(op, err, ErrSubscriptionNotFound)
	}
	return decodeStripeObject(op, sub, sub.LastResponse, DecodeSubscription)
}

func (p *StripeProvider) GetCheckoutSession(ctx context.Context, sessionID string) (*ProviderCheckoutSession, error) {
	const op = "stripe.get_checkout_session"
	if sessionID == "" {
		return nil, E(KindValidation, op, ErrMissingSessionID)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	cs, err := p.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, translateStripeError(op, err, ErrCheckoutSessionNotFound)
	}
	return decodeStripeObject(op, cs, cs.LastResponse, DecodeCheckoutSession)
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	const op = "stripe.create_checkout_session"
	switch {
	case req.PriceID == "":
		return nil, E(KindValidation, op, ErrMissingPriceID)
	case req.UserID == "":
		return nil, E(KindValidation, op, ErrMissingUserID)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	metadata := map[string]string{MetadataUserID: req.UserID}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(req.UserID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		Metadata: metadata,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	params.Context = ctx

	cs, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, translateStripeError(op, err, nil)
	}
	if cs.URL == "" {
		return nil, E(KindProviderPermanent, op, ErrNoCheckoutURL)
	}

	link := &CheckoutLink{URL: cs.URL, SessionID: cs.ID}
	if cs.ExpiresAt > 0 {
		link.ExpiresAt = time.Unix(cs.ExpiresAt, 0).UTC()
	}
	return link, nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	const op = "stripe.create_customer"
	if req.UserID == "" {
		return "", E(KindValidation, op, ErrMissingUserID)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.CustomerParams{
		Metadata: map[string]string{MetadataUserID: req.UserID},
	}
	if req.Email != "" {
		params.Email = stripe.String(req.Email)
	}
	if req.Name != "" {
		params.Name = stripe.String(req.Name)
	}
	params.Context = ctx

	c, err := p.api.Customers.New(params)
	if err != nil {
		return "", translateStripeError(op, err, nil)
	}
	return c.ID, nil
}

func (p *StripeProvider) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	const op = "stripe.get_customer"
	if customerID == "" {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.CustomerParams{}
	params.Context = ctx
	c, err := p.api.Customers.Get(customerID, params)
	if err != nil {
		err = translateStripeError(op, err, ErrCustomerNotFound)
		if KindOf(err) == KindNotFound {
			return false, nil
		}
		return false, err
	}
	return !c.Deleted, nil
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalLink, error) {
	const op = "stripe.create_portal_session"
	if customerID == "" {
		return nil, E(KindValidation, op, ErrMissingCustomerID)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.BillingPortalSessionParams{Customer: stripe.String(customerID)}
	if returnURL != "" {
		params.ReturnURL = stripe.String(returnURL)
	}
	params.Context = ctx

	ps, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return nil, translateStripeError(op, err, ErrCustomerNotFound)
	}
	if ps.URL == "" {
		return nil, E(KindProviderPermanent, op, ErrNoPortalURL)
	}
	return &PortalLink{URL: ps.URL}, nil
}

func (p *StripeProvider) ParseWebhook(_ context.Context, payload []byte, signature string) (*Event, error) {
	const op = "stripe.parse_webhook"
	if strings.TrimSpace(signature) == "" {
		return nil, E(KindValidation, op, ErrWebhookVerificationFailed)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                p.webhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, E(KindValidation, op, errors.Join(ErrWebhookVerificationFailed, err))
	}

	var object []byte
	if event.Data != nil {
		object = event.Data.Raw
	}
	ev, err := DecodeEvent(event.ID, string(event.Type), event.Created, object)
	if err != nil {
		return nil, E(KindValidation, op, err)
	}
	return ev, nil
}

// decodeStripeObject decodes the raw response body so period fields are
// read the same way for API responses and webhook payloads.
func decodeStripeObject[T any](op string, obj any, resp *stripe.APIResponse, decode func([]byte) (*T, error)) (*T, error) {
	var raw []byte
	if resp != nil && len(resp.RawJSON) > 0 {
		raw = resp.RawJSON
	} else {
		var err error
		if raw, err = json.Marshal(obj); err != nil {
			return nil, E(KindInternal, op, err)
		}
	}
	out, err := decode(raw)
	if err != nil {
		return nil, E(KindProviderPermanent, op, err)
	}
	return out, nil
}

// translateStripeError tags err by what a caller should do about it.
// notFound replaces the provider message for missing resources when set.
func translateStripeError(op string, err error, notFound error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing:
			if notFound != nil {
				return E(KindNotFound, op, errors.Join(notFound, err))
			}
			return E(KindNotFound, op, err)
		case se.HTTPStatusCode == http.StatusUnauthorized || se.HTTPStatusCode == http.StatusForbidden:
			return E(KindConfig, op, errors.Join(ErrProviderError, err))
		case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError:
			return E(KindProviderTransient, op, errors.Join(ErrProviderError, err))
		case se.HTTPStatusCode >= http.StatusBadRequest:
			return E(KindProviderPermanent, op, errors.Join(ErrProviderError, err))
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return E(KindProviderTransient, op, errors.Join(ErrProviderError, err))
	}
	if errors.Is(err, context.Canceled) {
		return E(KindInternal, op, err)
	}
	// connection resets and other transport failures surface untyped
	return E(KindProviderTransient, op, errors.Join(ErrProviderError, err))
}
