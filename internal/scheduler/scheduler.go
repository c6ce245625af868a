// Package scheduler converts plan trigger definitions into dispatched
// delivery tasks.
//
// Every worker process runs the same tick loop. Each tick a worker derives
// its shard from a fresh candidate count (limit = ceil(total/workers),
// skip = workerID*limit) and scans only that page. The split is advisory:
// overlap between workers is absorbed by the per-plan lock and the
// occurrence dedupe key, and a plan missed under worker churn is picked up
// on a later tick.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lingfromSh/message-sub000/internal/dispatcher"
	"github.com/lingfromSh/message-sub000/internal/domain"
	"github.com/lingfromSh/message-sub000/internal/lock"
)

// ErrDuplicateExecution is returned by Store.InsertExecution when the
// (plan_id, time_to_execute) pair already exists.
var ErrDuplicateExecution = errors.New("execution already exists")

type Store interface {
	CountCandidatePlans(ctx context.Context, now, horizon time.Time) (int, error)
	GetCandidatePlans(ctx context.Context, now, horizon time.Time, limit, offset int) ([]domain.Plan, error)
	InsertExecution(ctx context.Context, exec domain.PlanExecution) error
	// UpdatePlanTriggers persists advanced trigger state (last_trigger,
	// remaining counts) as a single-document update.
	UpdatePlanTriggers(ctx context.Context, planID uuid.UUID, triggers []domain.Trigger) error
}

// Evaluator computes due fire times for a trigger within a window.
type Evaluator interface {
	Evaluate(trig domain.Trigger, from, to time.Time) ([]time.Time, error)
}

// Lock is a held lease released early on evaluation failure and otherwise
// left to expire with its TTL.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker acquires per-plan leases. lock.ErrNotAcquired means another worker
// or a previous tick still owns the plan.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Publisher enqueues delivery tasks, optionally delayed.
type Publisher interface {
	DelayPublish(ctx context.Context, topicName string, body []byte, headers map[string]any, delay time.Duration) (string, error)
}

// IdempotencyStore guards against double-dispatch of one trigger occurrence.
type IdempotencyStore interface {
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Clear(ctx context.Context, key string) error
}

// MetricsSink records scheduler metrics. All methods must be non-blocking
// and fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, executionsDispatched int, err error)
	TickDrift(drift time.Duration)
	PlanLockContended()
}

// Config holds scheduler tuning.
type Config struct {
	// TickInterval is the fixed tick period; the evaluation window is
	// [now, now+2*TickInterval] and plan locks carry a 2*TickInterval TTL.
	TickInterval time.Duration

	// WorkerID and WorkerCount derive this process's shard each tick.
	WorkerID    int
	WorkerCount int

	// Topic is the shared topic delivery tasks are published to.
	Topic string

	// DedupeTTL bounds how long a dispatched occurrence is remembered.
	DedupeTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 5 * time.Second
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 1
	}
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = time.Hour
	}
}

// Scheduler is the periodic trigger evaluation job.
type Scheduler struct {
	config    Config
	store     Store
	evaluator Evaluator
	locker    Locker
	idem      IdempotencyStore
	publisher Publisher
	metrics   MetricsSink // optional, nil = disabled
	clock     func() time.Time
}

func New(config Config, store Store, evaluator Evaluator, locker Locker, idem IdempotencyStore, publisher Publisher) *Scheduler {
	config.applyDefaults()
	return &Scheduler{
		config:    config,
		store:     store,
		evaluator: evaluator,
		locker:    locker,
		idem:      idem,
		publisher: publisher,
		clock:     time.Now,
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// Run ticks on the configured interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	log.Printf("scheduler: started tick=%s worker=%d/%d", s.config.TickInterval, s.config.WorkerID, s.config.WorkerCount)

	last := s.clock()
	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			now := s.clock().UTC()
			if s.metrics != nil {
				s.metrics.TickDrift(now.Sub(last) - s.config.TickInterval)
			}
			last = now
			if err := s.Tick(ctx, now); err != nil {
				log.Printf("scheduler: tick error: %v", err)
			}
		}
	}
}

// Tick scans this worker's shard of candidate plans and dispatches every due
// trigger occurrence within [now, now+2*interval].
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	start := s.clock()
	if s.metrics != nil {
		s.metrics.TickStarted()
	}

	dispatched, err := s.tick(ctx, now.UTC())

	if s.metrics != nil {
		s.metrics.TickCompleted(s.clock().Sub(start), dispatched, err)
	}
	return err
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) (int, error) {
	horizon := now.Add(2 * s.config.TickInterval)

	total, err := s.store.CountCandidatePlans(ctx, now, horizon)
	if err != nil {
		return 0, fmt.Errorf("count candidates: %w", err)
	}
	if total == 0 {
		return 0, nil
	}

	// Advisory arithmetic split, re-derived every tick.
	limit := (total + s.config.WorkerCount - 1) / s.config.WorkerCount
	skip := s.config.WorkerID * limit
	if skip >= total {
		return 0, nil
	}

	plans, err := s.store.GetCandidatePlans(ctx, now, horizon, limit, skip)
	if err != nil {
		return 0, fmt.Errorf("get candidates: %w", err)
	}

	dispatched := 0
	for i := range plans {
		n, err := s.processPlan(ctx, plans[i], now, horizon)
		dispatched += n
		if err != nil {
			// A partially evaluated plan is retried on a later tick once its
			// lock is released or expired.
			log.Printf("scheduler: plan %s error: %v", plans[i].ID, err)
		}
	}
	return dispatched, nil
}

// processPlan evaluates one plan under its distributed lock. The lock is
// held to its TTL on success and released early on failure.
func (s *Scheduler) processPlan(ctx context.Context, plan domain.Plan, now, horizon time.Time) (int, error) {
	lk, err := s.locker.Acquire(ctx, "plan:"+plan.ID.String(), 2*s.config.TickInterval)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			if s.metrics != nil {
				s.metrics.PlanLockContended()
			}
			return 0, nil
		}
		return 0, fmt.Errorf("acquire lock: %w", err)
	}

	dispatched, changed, err := s.evaluatePlan(ctx, plan, now, horizon)
	if err != nil {
		if relErr := lk.Release(ctx); relErr != nil && !errors.Is(relErr, lock.ErrNotHeld) {
			log.Printf("scheduler: plan %s lock release: %v", plan.ID, relErr)
		}
		return dispatched, err
	}

	if changed {
		if err := s.store.UpdatePlanTriggers(ctx, plan.ID, plan.Triggers); err != nil {
			if relErr := lk.Release(ctx); relErr != nil && !errors.Is(relErr, lock.ErrNotHeld) {
				log.Printf("scheduler: plan %s lock release: %v", plan.ID, relErr)
			}
			return dispatched, fmt.Errorf("persist triggers: %w", err)
		}
	}
	return dispatched, nil
}

func (s *Scheduler) evaluatePlan(ctx context.Context, plan domain.Plan, now, horizon time.Time) (dispatched int, changed bool, err error) {
	for i := range plan.Triggers {
		trig := &plan.Triggers[i]

		times, evalErr := s.evaluator.Evaluate(*trig, now, horizon)
		if evalErr != nil {
			// Data error (unparsable cron): skip this trigger only.
			log.Printf("scheduler: plan %s trigger %d skipped: %v", plan.ID, i, evalErr)
			continue
		}

		for _, fireAt := range times {
			ok, dispErr := s.dispatchOccurrence(ctx, plan, fireAt, now)
			if dispErr != nil {
				return dispatched, changed, dispErr
			}
			// Advance the high-water mark even when another worker beat us
			// to this occurrence: it is dispatched either way.
			t := fireAt
			trig.LastTrigger = &t
			if trig.RepeatTime > 0 {
				trig.RepeatTime--
			}
			changed = true
			if ok {
				dispatched++
			}
		}
	}
	return dispatched, changed, nil
}

// dispatchOccurrence creates the execution and enqueues its delivery task,
// delayed until the fire time. Returns false when another worker already
// dispatched this occurrence.
func (s *Scheduler) dispatchOccurrence(ctx context.Context, plan domain.Plan, fireAt, now time.Time) (bool, error) {
	key := fmt.Sprintf("sched:%s:%d", plan.ID, fireAt.Unix())
	first, err := s.idem.SetNX(ctx, key, s.config.DedupeTTL)
	if err != nil {
		return false, fmt.Errorf("occurrence dedupe: %w", err)
	}
	if !first {
		return false, nil
	}

	exec := domain.PlanExecution{
		ID:            uuid.New(),
		PlanID:        plan.ID,
		Status:        domain.ExecutionStatusInQueue,
		TimeToExecute: fireAt,
		CreatedAt:     now,
	}
	if err := s.store.InsertExecution(ctx, exec); err != nil {
		if errors.Is(err, ErrDuplicateExecution) {
			return false, nil // already emitted
		}
		// No execution row exists yet, so the dedupe key must not survive:
		// a stale key would make the retry tick mistake this occurrence for
		// dispatched and advance past it.
		if clearErr := s.idem.Clear(ctx, key); clearErr != nil {
			log.Printf("scheduler: occurrence dedupe clear %s: %v", key, clearErr)
		}
		return false, fmt.Errorf("insert execution: %w", err)
	}

	body, err := json.Marshal(domain.DeliveryTask{
		ExecutionID: exec.ID,
		PlanID:      plan.ID,
		FireAt:      fireAt,
	})
	if err != nil {
		return false, fmt.Errorf("marshal task: %w", err)
	}

	headers := map[string]any{dispatcher.HeaderExecutionID: exec.ID.String()}
	if _, err := s.publisher.DelayPublish(ctx, s.config.Topic, body, headers, fireAt.Sub(now)); err != nil {
		// The execution row exists but was never enqueued; the reconciler
		// sweeps it up.
		return false, fmt.Errorf("delay publish: %w", err)
	}

	log.Printf("scheduler: dispatched plan=%s execution=%s fire_at=%s", plan.ID, exec.ID, fireAt.Format(time.RFC3339))
	return true, nil
}
