package audit

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 500
)

// Storage persists audit events.
type Storage interface {
	Store(ctx context.Context, events ...Event) error
	// Query returns matching events, newest first.
	Query(ctx context.Context, criteria Criteria) ([]Event, error)
}

// Criteria filters a query. Zero fields match everything.
type Criteria struct {
	ActorID    string
	Action     string
	Resource   string
	ResourceID string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Normalize applies the default limit and rejects impossible filters.
func (c Criteria) Normalize() (Criteria, error) {
	switch {
	case c.Limit < 0:
		return c, fmt.Errorf("%w: negative limit", ErrInvalidCriteria)
	case c.Limit == 0:
		c.Limit = DefaultQueryLimit
	case c.Limit > MaxQueryLimit:
		c.Limit = MaxQueryLimit
	}
	if !c.Since.IsZero() && !c.Until.IsZero() && c.Until.Before(c.Since) {
		return c, fmt.Errorf("%w: until is before since", ErrInvalidCriteria)
	}
	return c, nil
}

// Matches reports whether e passes every filter of c.
func (c Criteria) Matches(e Event) bool {
	switch {
	case c.ActorID != "" && e.ActorID != c.ActorID:
		return false
	case c.Action != "" && e.Action != c.Action:
		return false
	case c.Resource != "" && e.Resource != c.Resource:
		return false
	case c.ResourceID != "" && e.ResourceID != c.ResourceID:
		return false
	case !c.Since.IsZero() && e.CreatedAt.Before(c.Since):
		return false
	case !c.Until.IsZero() && !e.CreatedAt.Before(c.Until):
		return false
	}
	return true
}

// MemoryStorage is an in-process Storage.
type MemoryStorage struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Store(_ context.Context, events ...Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		e.Metadata = maps.Clone(e.Metadata)
		s.events = append(s.events, e)
	}
	return nil
}

func (s *MemoryStorage) Query(_ context.Context, criteria Criteria) ([]Event, error) {
	criteria, err := criteria.Normalize()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Event, 0, min(criteria.Limit, len(s.events)))
	// events are appended in order, so walking backwards is newest first
	for _, e := range slices.Backward(s.events) {
		if len(out) == criteria.Limit {
			break
		}
		if criteria.Matches(e) {
			e.Metadata = maps.Clone(e.Metadata)
			out = append(out, e)
		}
	}
	return out, nil
}

// Reader queries stored events.
type Reader struct {
	storage Storage
}

// NewReader panics on a nil storage.
func NewReader(storage Storage) *Reader {
	if storage == nil {
		panic("audit: storage cannot be nil")
	}
	return &Reader{storage: storage}
}

// Find returns events matching criteria, newest first.
func (r *Reader) Find(ctx context.Context, criteria Criteria) ([]Event, error) {
	criteria, err := criteria.Normalize()
	if err != nil {
		return nil, err
	}
	return r.storage.Query(ctx, criteria)
}
