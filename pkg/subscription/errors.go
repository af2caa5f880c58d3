package subscription

import (
	"errors"
	"fmt"
)

var (
	ErrSubscriptionNotFound     = errors.New("subscription not found")
	ErrCheckoutSessionNotFound  = errors.New("checkout session not found")
	ErrCheckoutSessionExists    = errors.New("checkout session already exists")
	ErrCheckoutSessionFinalized = errors.New("checkout session already has a different terminal status")
	ErrCustomerNotFound         = errors.New("customer not found")
	ErrCustomerIDConflict       = errors.New("user already linked to a different customer")
	ErrUserNotFound             = errors.New("user not found")
	ErrNoCustomer               = errors.New("user has no billing customer")

	// ErrAlreadyHasSubscription keeps the code clients match on.
	ErrAlreadyHasSubscription   = errors.New("ALREADY_HAS_SUBSCRIPTION")
	ErrGrantInProgress          = errors.New("another grant for this user is in progress")
	ErrInvalidSubscriptionState = errors.New("invalid subscription state")
	ErrNotOwner                 = errors.New("resource belongs to another user")
	ErrUnauthenticated          = errors.New("caller is not authenticated")

	ErrInvalidPeriod      = errors.New("invalid subscription period")
	ErrUnknownStatus      = errors.New("unknown subscription status")
	ErrInvalidOutcome     = errors.New("invalid checkout outcome")
	ErrMissingUserID      = errors.New("user id is required")
	ErrMissingSessionID   = errors.New("checkout session id is required")
	ErrMissingSubID       = errors.New("subscription id is required")
	ErrMissingCustomerID  = errors.New("customer id is required")
	ErrMissingPriceID     = errors.New("price id is required")
	ErrMissingEventObject = errors.New("webhook event has no usable object")
	ErrAdminGrantedEvent  = errors.New("event targets an admin-granted subscription")

	ErrMissingAPIKey             = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret      = errors.New("billing provider webhook secret is required")
	ErrWebhookVerificationFailed = errors.New("webhook signature verification failed")
	ErrMalformedPayload          = errors.New("malformed provider payload")
	ErrNoCheckoutURL             = errors.New("no checkout URL returned from provider")
	ErrNoPortalURL               = errors.New("no portal URL returned from provider")
	ErrProviderError             = errors.New("billing provider error")
)

// Kind classifies an error so callers can choose a retry policy or an HTTP status.
type Kind string

const (
	KindConfig            Kind = "config"
	KindAttribution       Kind = "attribution"
	KindValidation        Kind = "validation"
	KindAuthorization     Kind = "authorization"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindProviderTransient Kind = "provider_transient"
	KindProviderPermanent Kind = "provider_permanent"
	KindInternal          Kind = "internal"
)

// Error tags an underlying error with its Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with kind and op. A nil err yields nil. If err is already a
// tagged Error its kind is kept and op is only filled in when empty.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		if tagged.Op == "" {
			return &Error{Kind: tagged.Kind, Op: op, Err: tagged.Err}
		}
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first tagged error in err's chain,
// or KindInternal when none is present.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the operation may succeed if repeated unchanged.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindProviderTransient
}

// IsAttributionFailure reports whether err means an event could not be tied to a user.
func IsAttributionFailure(err error) bool {
	return err != nil && KindOf(err) == KindAttribution
}
