// Package reconciler detects and re-enqueues stale plan executions.
//
// An execution is stale when it is still in_queue well past its fire time:
// its delivery task was lost (broker outage, crashed consumer, failed
// publish after insert). The reconciler periodically scans for stale
// executions and re-publishes their delivery task. The delivery handler's
// terminal-state guard makes a re-publish of an already-settled execution a
// safe no-op.
//
// Runs only on the elected leader so the fleet does not re-publish the same
// execution once per process.
package reconciler

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/lingfromSh/message-sub000/internal/dispatcher"
	"github.com/lingfromSh/message-sub000/internal/domain"
)

// Store fetches stale executions.
type Store interface {
	GetStaleExecutions(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.PlanExecution, error)
}

// Publisher re-enqueues delivery tasks.
type Publisher interface {
	Publish(ctx context.Context, topicName string, body []byte, headers map[string]any) (string, error)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs. Default: 5 minutes.
	Interval time.Duration

	// Threshold is the age past its fire time after which an in_queue
	// execution is considered stale. Must exceed the broker delay horizon
	// plus worst-case handler time. Default: 10 minutes.
	Threshold time.Duration

	// BatchSize is the maximum number of stale executions per cycle.
	// Default: 100.
	BatchSize int

	// Topic is the shared delivery topic.
	Topic string
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 10 * time.Minute,
		BatchSize: 100,
	}
}

// Reconciler sweeps stale executions back onto the delivery topic.
type Reconciler struct {
	config    Config
	store     Store
	publisher Publisher
	clock     func() time.Time
}

// New creates a new Reconciler.
func New(config Config, store Store, publisher Publisher) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Threshold <= 0 {
		config.Threshold = DefaultConfig().Threshold
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &Reconciler{
		config:    config,
		store:     store,
		publisher: publisher,
		clock:     time.Now,
	}
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s, batch=%d)",
		r.config.Interval, r.config.Threshold, r.config.BatchSize)

	// Run immediately on startup, then on ticker.
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one reconciliation cycle.
func (r *Reconciler) runCycle(ctx context.Context) {
	now := r.clock().UTC()
	olderThan := now.Add(-r.config.Threshold)

	stale, err := r.store.GetStaleExecutions(ctx, olderThan, r.config.BatchSize)
	if err != nil {
		// DB error: log and abort cycle. Will retry next interval.
		log.Printf("reconciler: failed to fetch stale executions: %v", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	log.Printf("reconciler: found %d stale executions", len(stale))

	republished := 0
	failed := 0

	for _, exec := range stale {
		if ctx.Err() != nil {
			log.Printf("reconciler: cycle interrupted, processed %d/%d", republished+failed, len(stale))
			return
		}

		body, err := json.Marshal(domain.DeliveryTask{
			ExecutionID: exec.ID,
			PlanID:      exec.PlanID,
			FireAt:      exec.TimeToExecute,
		})
		if err != nil {
			log.Printf("reconciler: marshal task for execution=%s: %v", exec.ID, err)
			failed++
			continue
		}

		headers := map[string]any{dispatcher.HeaderExecutionID: exec.ID.String()}
		if _, err := r.publisher.Publish(ctx, r.config.Topic, body, headers); err != nil {
			log.Printf("reconciler: failed to re-enqueue execution=%s plan=%s: %v", exec.ID, exec.PlanID, err)
			failed++
			continue
		}

		log.Printf("reconciler: re-enqueued execution=%s plan=%s fire_at=%s (age=%s)",
			exec.ID, exec.PlanID, exec.TimeToExecute.Format(time.RFC3339),
			now.Sub(exec.TimeToExecute).Round(time.Second))
		republished++
	}

	log.Printf("reconciler: cycle complete, re-enqueued=%d, failed=%d", republished, failed)
}
