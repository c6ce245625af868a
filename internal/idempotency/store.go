// Package idempotency provides a set-if-absent store with TTL.
//
// It serves two dedupe duties: the scheduler marks trigger occurrences it has
// already dispatched, and the consumer marks message ids it has already seen.
// The key is a detection flag, not a suppression gate: consumers still run
// their handler on redelivery and decide for themselves.
package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewStore creates a Store. keyPrefix defaults to "idem:".
func NewStore(client redis.UniversalClient, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "idem:"
	}
	return &Store{client: client, keyPrefix: keyPrefix}
}

// SetNX records the key if absent. Returns true when this caller is first.
func (s *Store) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.keyPrefix+key, 1, ttl).Result()
}

// Clear drops the key so a later delivery is treated as fresh. Used before
// reject-with-requeue: a stale dedupe flag must not outlive a transient
// failure.
func (s *Store) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.keyPrefix+key).Err()
}
