package subscription

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements SubscriptionStore, CheckoutSessionStore and
// CustomerStore in process memory. It backs tests and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	now       func() time.Time
	seq       uint64
	subs      map[string]*memSubscription
	sessions  map[string]*memSession
	customers map[string]string
}

type memSubscription struct {
	Subscription
	seq uint64
}

type memSession struct {
	CheckoutSession
	seq uint64
}

var (
	_ SubscriptionStore    = (*MemoryStore)(nil)
	_ CheckoutSessionStore = (*MemoryStore)(nil)
	_ CustomerStore        = (*MemoryStore)(nil)
)

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryClock sets the clock used for created/updated timestamps.
func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		now:       time.Now,
		subs:      make(map[string]*memSubscription),
		sessions:  make(map[string]*memSession),
		customers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Upsert(_ context.Context, p UpsertParams) (uuid.UUID, error) {
	if err := p.Validate(); err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	row, ok := s.subs[p.SubscriptionID]
	if !ok {
		s.seq++
		row = &memSubscription{seq: s.seq}
		row.ID = uuid.New()
		row.SubscriptionID = p.SubscriptionID
		row.CreatedAt = now
		s.subs[p.SubscriptionID] = row
	}

	row.UserID = p.UserID
	if p.CustomerID != "" {
		row.CustomerID = p.CustomerID
	}
	row.Status = p.Status
	row.CurrentPeriodStart = p.Period.Start.UTC()
	row.CurrentPeriodEnd = p.Period.End.UTC()
	row.CancelAtPeriodEnd = p.CancelAtPeriodEnd
	row.CanceledAt = cloneTime(p.CanceledAt)
	row.UpdatedAt = now

	return row.ID, nil
}

func (s *MemoryStore) GetBySubscriptionID(_ context.Context, subscriptionID string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.subs[subscriptionID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return row.copy(), nil
}

func (s *MemoryStore) CurrentForUser(_ context.Context, userID string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *memSubscription
	for _, row := range s.subs {
		if row.UserID != userID {
			continue
		}
		if latest == nil || row.CreatedAt.After(latest.CreatedAt) ||
			(row.CreatedAt.Equal(latest.CreatedAt) && row.seq > latest.seq) {
			latest = row
		}
	}
	if latest == nil {
		return nil, ErrSubscriptionNotFound
	}
	return latest.copy(), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, statuses ...Status) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]*memSubscription, 0, len(s.subs))
	for _, row := range s.subs {
		if slices.Contains(statuses, row.Status) {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b *memSubscription) int { return cmp.Compare(a.seq, b.seq) })

	out := make([]*Subscription, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.copy())
	}
	return out, nil
}

func (s *MemoryStore) ExpireIfElapsed(_ context.Context, subscriptionID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.subs[subscriptionID]
	if !ok {
		return false, ErrSubscriptionNotFound
	}
	if !row.Status.Entitling() || !row.CurrentPeriodEnd.Before(now) {
		return false, nil
	}
	row.Status = StatusCanceled
	row.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *MemoryStore) CreateCheckoutSession(_ context.Context, cs *CheckoutSession) error {
	if cs == nil || cs.SessionID == "" {
		return ErrMissingSessionID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[cs.SessionID]; ok {
		return ErrCheckoutSessionExists
	}
	s.seq++
	row := &memSession{CheckoutSession: *cs, seq: s.seq}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now().UTC()
	}
	row.CompletedAt = cloneTime(cs.CompletedAt)
	s.sessions[cs.SessionID] = row
	return nil
}

func (s *MemoryStore) GetCheckoutSession(_ context.Context, sessionID string) (*CheckoutSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrCheckoutSessionNotFound
	}
	return row.copy(), nil
}

func (s *MemoryStore) LatestCheckoutSessionForCustomer(_ context.Context, customerID string) (*CheckoutSession, error) {
	if customerID == "" {
		return nil, ErrCheckoutSessionNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *memSession
	for _, row := range s.sessions {
		if row.CustomerID != customerID {
			continue
		}
		if latest == nil || row.CreatedAt.After(latest.CreatedAt) ||
			(row.CreatedAt.Equal(latest.CreatedAt) && row.seq > latest.seq) {
			latest = row
		}
	}
	if latest == nil {
		return nil, ErrCheckoutSessionNotFound
	}
	return latest.copy(), nil
}

func (s *MemoryStore) UpdateCheckoutSession(_ context.Context, sessionID string, fn func(cs *CheckoutSession) (bool, error)) (*CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrCheckoutSessionNotFound
	}

	working := row.copy()
	changed, err := fn(working)
	if err != nil {
		return nil, err
	}
	if changed {
		working.SessionID = row.SessionID
		working.CreatedAt = row.CreatedAt
		row.CheckoutSession = *working
	}
	return row.copy(), nil
}

func (s *MemoryStore) GetCustomerID(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.customers[userID], nil
}

func (s *MemoryStore) SetCustomerID(_ context.Context, userID, customerID string) error {
	if userID == "" {
		return ErrMissingUserID
	}
	if customerID == "" {
		return ErrMissingCustomerID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch existing := s.customers[userID]; existing {
	case "":
		s.customers[userID] = customerID
		return nil
	case customerID:
		return nil
	default:
		return ErrCustomerIDConflict
	}
}

func (s *MemoryStore) ReplaceCustomerID(_ context.Context, userID, oldID, newID string) error {
	if newID == "" {
		return ErrMissingCustomerID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.customers[userID] != oldID {
		return ErrCustomerIDConflict
	}
	s.customers[userID] = newID
	return nil
}

func (m *memSubscription) copy() *Subscription {
	out := m.Subscription
	out.CanceledAt = cloneTime(m.CanceledAt)
	return &out
}

func (m *memSession) copy() *CheckoutSession {
	out := m.CheckoutSession
	out.CompletedAt = cloneTime(m.CompletedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
