// Package pgstore implements the subscription stores on PostgreSQL.
package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/lmsadmin/pkg/subscription"
)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements subscription.SubscriptionStore, CheckoutSessionStore and
// CustomerStore. The users table is owned by the LMS; only its
// stripe_customer_id column is written here.
type Store struct {
	db  DB
	now func() time.Time
}

var (
	_ subscription.SubscriptionStore    = (*Store)(nil)
	_ subscription.CheckoutSessionStore = (*Store)(nil)
	_ subscription.CustomerStore        = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(db DB, opts ...Option) *Store {
	if db == nil {
		panic("pgstore: db cannot be nil")
	}
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// timestamp truncates to the microsecond precision Postgres stores.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}
