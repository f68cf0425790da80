package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// luaReleaseIfMatch deletes the lock only when it still holds our token, so
// a holder whose TTL expired cannot release a lock re-acquired by someone else.
const luaReleaseIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// Lock is a redis-backed mutual exclusion lock. Not reentrant. The TTL bounds
// how long a crashed holder can block others.
type Lock struct {
	rdb   *rd.Client
	key   string
	token string
	ttl   time.Duration
}

func NewLock(rdb *rd.Client, key string, ttl time.Duration) *Lock {
	return &Lock{
		rdb:   rdb,
		key:   key,
		token: uuid.New().String(),
		ttl:   ttl,
	}
}

// TryLock makes a single set-if-absent attempt.
func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	return l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

// Acquire retries TryLock until it succeeds or wait elapses. A zero wait is a
// single attempt.
func (l *Lock) Acquire(ctx context.Context, wait time.Duration) (bool, error) {
	const retryInterval = 50 * time.Millisecond

	deadline := time.Now().Add(wait)
	for {
		ok, err := l.TryLock(ctx)
		if err != nil || ok {
			return ok, err
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Unlock releases the lock if we still hold it. Safe to call after expiry.
func (l *Lock) Unlock(ctx context.Context) error {
	return l.rdb.Eval(ctx, luaReleaseIfMatch, []string{l.key}, l.token).Err()
}

// LockManager mints per-user fulfillment locks with fixed ttl/wait bounds.
type LockManager struct {
	rdb  *rd.Client
	ttl  time.Duration
	wait time.Duration
}

func NewLockManager(rdb *rd.Client, ttl, wait time.Duration) *LockManager {
	return &LockManager{rdb: rdb, ttl: ttl, wait: wait}
}

// AcquireUserLock takes the per-user lock with a bounded wait. The release
// func runs on a background context so it works on every exit path, even
// when the caller's context is already done.
func (m *LockManager) AcquireUserLock(ctx context.Context, userID int64) (func(), bool, error) {
	l := NewLock(m.rdb, OrderLockKey(userID), m.ttl)
	ok, err := l.Acquire(ctx, m.wait)
	if err != nil || !ok {
		return nil, false, err
	}
	// Unlock failure is tolerable: the TTL reaps the lock.
	return func() { _ = l.Unlock(context.Background()) }, true, nil
}
