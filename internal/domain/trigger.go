package domain

import (
	"errors"
	"fmt"
	"time"
)

// TriggerKind discriminates the trigger variants.
type TriggerKind string

const (
	// TriggerKindTimer fires exactly once at FireAt.
	TriggerKindTimer TriggerKind = "timer"
	// TriggerKindRepeat fires on a cron expression until exhausted.
	TriggerKindRepeat TriggerKind = "repeat"
)

// RepeatInfinite marks a repeat trigger with no remaining-count limit.
const RepeatInfinite = -1

var (
	ErrNoTriggers        = errors.New("plan has no triggers")
	ErrNoSubPlans        = errors.New("plan has no sub-plans")
	ErrUnknownTrigger    = errors.New("unknown trigger kind")
	ErrInvalidRepeatTime = errors.New("invalid repeat time")
	ErrInvalidWindow     = errors.New("trigger end time precedes start time")
)

// Trigger is the timing rule attached to a plan: a one-shot timer or a
// cron-based repeat. Kind selects the variant; evaluation switches on it
// exhaustively.
type Trigger struct {
	Kind TriggerKind `json:"kind"`

	// Timer only.
	FireAt time.Time `json:"fire_at,omitempty"`

	// Repeat only.
	CronExpr string `json:"cron_expr,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// RepeatTime is the remaining fire count: always 1 for a timer,
	// RepeatInfinite or n>0 for a repeat.
	RepeatTime int `json:"repeat_time"`

	// LastTrigger is the high-water mark of already-dispatched fire times.
	// Evaluation never proposes a fire time at or before it.
	LastTrigger *time.Time `json:"last_trigger,omitempty"`
}

// Validate enforces the variant invariants.
func (t Trigger) Validate() error {
	switch t.Kind {
	case TriggerKindTimer:
		if t.RepeatTime != 1 {
			return fmt.Errorf("%w: timer must have repeat_time=1, got %d", ErrInvalidRepeatTime, t.RepeatTime)
		}
		if t.FireAt.IsZero() {
			return errors.New("timer trigger missing fire_at")
		}
	case TriggerKindRepeat:
		if t.RepeatTime < RepeatInfinite || t.RepeatTime == 0 {
			return fmt.Errorf("%w: repeat must be -1 or positive, got %d", ErrInvalidRepeatTime, t.RepeatTime)
		}
		if t.CronExpr == "" {
			return errors.New("repeat trigger missing cron_expr")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTrigger, t.Kind)
	}
	if t.EndTime != nil && t.EndTime.Before(t.StartTime) {
		return ErrInvalidWindow
	}
	return nil
}

// Exhausted reports whether the trigger has no remaining fires.
func (t Trigger) Exhausted() bool {
	return t.RepeatTime == 0
}
