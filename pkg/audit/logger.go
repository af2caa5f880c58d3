package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ContextExtractor pulls a value from the request context. found is false
// when the context carries none.
type ContextExtractor func(ctx context.Context) (value string, found bool)

// Logger writes audit events to a Storage.
type Logger struct {
	storage            Storage
	actorExtractor     ContextExtractor
	requestIDExtractor ContextExtractor
	now                func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithActorExtractor sets how the acting user is read from the context.
func WithActorExtractor(fn ContextExtractor) Option {
	return func(l *Logger) {
		l.actorExtractor = fn
	}
}

// WithRequestIDExtractor sets how the request id is read from the context.
func WithRequestIDExtractor(fn ContextExtractor) Option {
	return func(l *Logger) {
		l.requestIDExtractor = fn
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogger creates an audit logger. It panics on a nil storage.
func NewLogger(storage Storage, opts ...Option) *Logger {
	if storage == nil {
		panic("audit: storage cannot be nil")
	}
	l := &Logger{storage: storage, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log records a successful action.
func (l *Logger) Log(ctx context.Context, action string, opts ...EventOption) error {
	event := l.newEvent(ctx, action, ResultSuccess)
	return l.store(ctx, event, opts)
}

// LogError records an action that failed with err.
func (l *Logger) LogError(ctx context.Context, action string, err error, opts ...EventOption) error {
	event := l.newEvent(ctx, action, ResultError)
	if err != nil {
		event.Error = err.Error()
	}
	return l.store(ctx, event, opts)
}

func (l *Logger) newEvent(ctx context.Context, action string, result Result) Event {
	event := Event{
		ID:        uuid.NewString(),
		Action:    action,
		Result:    result,
		CreatedAt: l.now().UTC(),
	}
	if l.actorExtractor != nil {
		if actor, ok := l.actorExtractor(ctx); ok {
			event.ActorID = actor
		}
	}
	if l.requestIDExtractor != nil {
		if id, ok := l.requestIDExtractor(ctx); ok {
			event.RequestID = id
		}
	}
	return event
}

func (l *Logger) store(ctx context.Context, event Event, opts []EventOption) error {
	for _, opt := range opts {
		opt(&event)
	}
	if err := event.Validate(); err != nil {
		return err
	}
	return l.storage.Store(ctx, event)
}
