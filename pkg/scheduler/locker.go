package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker grants exclusive, expiring ownership of a key.
type Locker interface {
	// TryLock attempts to take key for ttl without blocking. release is
	// non-nil only when acquired is true and is safe to call more than once;
	// only the first call does any work.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func() error, acquired bool, err error)
}

// NopLocker always grants the lock. It suits single-instance deployments.
type NopLocker struct{}

func (NopLocker) TryLock(context.Context, string, time.Duration) (func() error, bool, error) {
	return func() error { return nil }, true, nil
}

// MemoryLocker is a process-local Locker with expiring entries.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func() error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, false, nil
	}
	until := now.Add(ttl)
	l.held[key] = until

	var once sync.Once
	return func() error {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// a lock that expired and was re-taken belongs to someone else
			if l.held[key].Equal(until) {
				delete(l.held, key)
			}
		})
		return nil
	}, true, nil
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a compare-and-delete release.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker creates a Redis-backed locker. prefix namespaces the keys.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	if client == nil {
		panic("scheduler: redis client cannot be nil")
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func() error, bool, error) {
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}
	key = l.prefix + key

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	var (
		once       sync.Once
		releaseErr error
	)
	return func() error {
		once.Do(func() {
			// the run context may already be canceled
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				releaseErr = fmt.Errorf("release lock %s: %w", key, err)
			}
		})
		return releaseErr
	}, true, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
