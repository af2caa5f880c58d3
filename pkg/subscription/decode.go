package subscription

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"time"
)

// ProviderSubscription is a provider subscription decoded once at the edge.
// Epoch fields are seconds and nil when the payload omitted them or carried
// something that is not a number.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart *int64
	CurrentPeriodEnd   *int64
	CancelAtPeriodEnd  bool
	CanceledAt         *int64
	Metadata           map[string]string
}

// ProviderCheckoutSession is a provider checkout session decoded once at the edge.
type ProviderCheckoutSession struct {
	ID                string
	CustomerID        string
	SubscriptionID    string
	Status            string
	PaymentStatus     string
	ClientReferenceID string
	URL               string
	Metadata          map[string]string
}

// UserID returns the local user the session was opened for. The metadata
// key written at checkout creation wins, then its snake_case spelling, then
// the client reference id.
func (s *ProviderCheckoutSession) UserID() string {
	for _, key := range []string{MetadataUserID, "user_id"} {
		if v := s.Metadata[key]; v != "" {
			return v
		}
	}
	return s.ClientReferenceID
}

// Outcome maps the provider session status onto CheckoutStatus.
// Open or unknown sessions stay pending.
func (s *ProviderCheckoutSession) Outcome() CheckoutStatus {
	switch s.Status {
	case "complete":
		return CheckoutComplete
	case "expired":
		return CheckoutExpired
	}
	return CheckoutPending
}

// MetadataUserID is the checkout metadata key carrying the local user id.
const MetadataUserID = "userId"

// epoch decodes a JSON number, numeric string or null. Anything else
// decodes to nil instead of failing the whole payload.
type epoch struct {
	v *int64
}

func (e *epoch) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		b = []byte(s)
	}
	if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
		e.v = &n
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return nil
	}
	n := int64(f)
	e.v = &n
	return nil
}

// expandable decodes a field that is either an id string or an expanded object with an id.
type expandable struct {
	ID string
}

func (e *expandable) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		return nil
	case b[0] == '"':
		return json.Unmarshal(b, &e.ID)
	case b[0] == '{':
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		e.ID = obj.ID
	}
	return nil
}

type rawSubscription struct {
	ID                      string            `json:"id"`
	Customer                expandable        `json:"customer"`
	CustomerCamel           expandable        `json:"customerId"`
	Status                  string            `json:"status"`
	CurrentPeriodStart      epoch             `json:"current_period_start"`
	CurrentPeriodEnd        epoch             `json:"current_period_end"`
	CurrentPeriodStartCamel epoch             `json:"currentPeriodStart"`
	CurrentPeriodEndCamel   epoch             `json:"currentPeriodEnd"`
	CancelAtPeriodEnd       *bool             `json:"cancel_at_period_end"`
	CancelAtPeriodEndCamel  *bool             `json:"cancelAtPeriodEnd"`
	CanceledAt              epoch             `json:"canceled_at"`
	CanceledAtCamel         epoch             `json:"canceledAt"`
	Metadata                map[string]string `json:"metadata"`
	Items                   struct {
		Data []struct {
			CurrentPeriodStart epoch `json:"current_period_start"`
			CurrentPeriodEnd   epoch `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// DecodeSubscription decodes a provider subscription object. Period bounds
// are taken from the top-level fields, their camelCase spelling, or the first
// subscription item, in that order.
func DecodeSubscription(raw []byte) (*ProviderSubscription, error) {
	var r rawSubscription
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	if r.ID == "" {
		return nil, errors.Join(ErrMalformedPayload, ErrMissingSubID)
	}

	sub := &ProviderSubscription{
		ID:                 r.ID,
		CustomerID:         firstNonEmpty(r.Customer.ID, r.CustomerCamel.ID),
		Status:             r.Status,
		CurrentPeriodStart: firstEpoch(r.CurrentPeriodStart, r.CurrentPeriodStartCamel),
		CurrentPeriodEnd:   firstEpoch(r.CurrentPeriodEnd, r.CurrentPeriodEndCamel),
		CanceledAt:         firstEpoch(r.CanceledAt, r.CanceledAtCamel),
		Metadata:           r.Metadata,
	}
	if len(r.Items.Data) > 0 {
		item := r.Items.Data[0]
		if sub.CurrentPeriodStart == nil {
			sub.CurrentPeriodStart = firstEpoch(item.CurrentPeriodStart)
		}
		if sub.CurrentPeriodEnd == nil {
			sub.CurrentPeriodEnd = firstEpoch(item.CurrentPeriodEnd)
		}
	}
	switch {
	case r.CancelAtPeriodEnd != nil:
		sub.CancelAtPeriodEnd = *r.CancelAtPeriodEnd
	case r.CancelAtPeriodEndCamel != nil:
		sub.CancelAtPeriodEnd = *r.CancelAtPeriodEndCamel
	}
	return sub, nil
}

type rawCheckoutSession struct {
	ID                string            `json:"id"`
	Customer          expandable        `json:"customer"`
	Subscription      expandable        `json:"subscription"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	URL               string            `json:"url"`
	Metadata          map[string]string `json:"metadata"`
}

// DecodeCheckoutSession decodes a provider checkout session object.
func DecodeCheckoutSession(raw []byte) (*ProviderCheckoutSession, error) {
	var r rawCheckoutSession
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	if r.ID == "" {
		return nil, errors.Join(ErrMalformedPayload, ErrMissingSessionID)
	}
	return &ProviderCheckoutSession{
		ID:                r.ID,
		CustomerID:        r.Customer.ID,
		SubscriptionID:    r.Subscription.ID,
		Status:            r.Status,
		PaymentStatus:     r.PaymentStatus,
		ClientReferenceID: r.ClientReferenceID,
		URL:               r.URL,
		Metadata:          r.Metadata,
	}, nil
}

// Event is a verified provider webhook event with its object decoded by type.
// Exactly one of Subscription and CheckoutSession is set for the handled
// types; both are nil for anything else.
type Event struct {
	ID              string
	Type            EventType
	Created         time.Time
	Subscription    *ProviderSubscription
	CheckoutSession *ProviderCheckoutSession
}

// DecodeEvent builds an Event from a verified envelope and its data.object.
func DecodeEvent(id, eventType string, created int64, object []byte) (*Event, error) {
	ev := &Event{ID: id, Type: EventType(eventType)}
	if created > 0 {
		ev.Created = time.Unix(created, 0).UTC()
	}

	var err error
	switch ev.Type {
	case EventCheckoutSessionCompleted:
		ev.CheckoutSession, err = DecodeCheckoutSession(object)
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		ev.Subscription, err = DecodeSubscription(object)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// firstEpoch returns the first positive value; a zero or negative epoch in
// one spelling must not hide a usable one in the other.
func firstEpoch(fields ...epoch) *int64 {
	for _, f := range fields {
		if f.v != nil && *f.v > 0 {
			return f.v
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
