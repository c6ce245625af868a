// Package analytics records per-plan delivery counters in Redis.
// Counters are bucketed by hour and expire after the retention window,
// so the keyspace stays bounded without a cleanup job.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRetention = 30 * 24 * time.Hour

type RedisSink struct {
	client    redis.UniversalClient
	retention time.Duration
}

func NewRedisSink(client redis.UniversalClient) *RedisSink {
	return &RedisSink{client: client, retention: defaultRetention}
}

// WithRetention overrides how long counter buckets are kept.
func (s *RedisSink) WithRetention(d time.Duration) *RedisSink {
	if d > 0 {
		s.retention = d
	}
	return s
}

// Record increments the delivery counter for the plan in the current
// hourly bucket, alongside a running total. Best-effort: failures are
// logged and never surfaced to the caller.
func (s *RedisSink) Record(ctx context.Context, planID uuid.UUID) {
	bucket := bucketKey(planID, time.Now())

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, s.retention)
	pipe.Incr(ctx, totalKey(planID))

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: record plan=%s: %v", planID, err)
	}
}

// Count returns the delivery counter for the plan in the hourly bucket
// containing t. Missing buckets read as zero.
func (s *RedisSink) Count(ctx context.Context, planID uuid.UUID, t time.Time) (int64, error) {
	n, err := s.client.Get(ctx, bucketKey(planID, t)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return n, nil
}

func bucketKey(planID uuid.UUID, t time.Time) string {
	return fmt.Sprintf("analytics:plan:%s:%s", planID, t.UTC().Format("2006010215"))
}

func totalKey(planID uuid.UUID) string {
	return fmt.Sprintf("analytics:plan:%s:total", planID)
}
