// Package lock provides a Redis-backed distributed lock with TTL leases.
//
// Locks are advisory and never renewed: a holder must finish its work within
// the TTL or accept that another process may acquire the lock concurrently.
// Release is token-guarded so an expired holder cannot delete a lease it no
// longer owns.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotAcquired is returned when the lock is held by someone else.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrNotHeld is returned when releasing a lock this holder no longer owns.
	ErrNotHeld = errors.New("lock not held")
)

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Locker acquires named exclusive leases in a shared Redis instance.
type Locker struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewLocker creates a Locker. keyPrefix defaults to "lock:".
func NewLocker(client redis.UniversalClient, keyPrefix string) *Locker {
	if keyPrefix == "" {
		keyPrefix = "lock:"
	}
	return &Locker{client: client, keyPrefix: keyPrefix}
}

// Lock is a held lease. Release it or let the TTL expire.
type Lock struct {
	client redis.UniversalClient
	key    string
	value  string
}

// Acquire attempts a non-blocking take of the named lock. Returns
// ErrNotAcquired when another holder owns it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lockKey := l.keyPrefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lock{client: l.client, key: lockKey, value: token}, nil
}

// Release drops the lease if this holder still owns it.
func (lk *Lock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lk.client, []string{lk.key}, lk.value).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrNotHeld
	}
	return nil
}
