package cron

import (
	"fmt"
	"time"

	"github.com/lingfromSh/message-sub000/internal/domain"
)

// maxOccurrences bounds one evaluation so a dense expression over a wide
// window cannot run away.
const maxOccurrences = 1000

// Evaluator converts trigger definitions into concrete fire times. Pure
// computation: no I/O, no trigger mutation; callers advance LastTrigger
// themselves after dispatching.
type Evaluator struct {
	parser *Parser
}

func NewEvaluator(parser *Parser) *Evaluator {
	return &Evaluator{parser: parser}
}

// Evaluate returns the fire times the trigger is due for within [from, to],
// in ascending order. Fire times are always strictly after LastTrigger and
// inside [StartTime, EndTime]; finite repeat counts cap the result length.
// An exhausted trigger yields nothing.
func (e *Evaluator) Evaluate(trig domain.Trigger, from, to time.Time) ([]time.Time, error) {
	if trig.Exhausted() || !to.After(from) {
		return nil, nil
	}

	switch trig.Kind {
	case domain.TriggerKindTimer:
		return e.evaluateTimer(trig, from, to), nil
	case domain.TriggerKindRepeat:
		return e.evaluateRepeat(trig, from, to)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTrigger, trig.Kind)
	}
}

func (e *Evaluator) evaluateTimer(trig domain.Trigger, from, to time.Time) []time.Time {
	fireAt := trig.FireAt.UTC()
	if fireAt.Before(from) || fireAt.After(to) {
		return nil
	}
	if !inBounds(trig, fireAt) {
		return nil
	}
	if trig.LastTrigger != nil && !fireAt.After(*trig.LastTrigger) {
		return nil
	}
	return []time.Time{fireAt}
}

func (e *Evaluator) evaluateRepeat(trig domain.Trigger, from, to time.Time) ([]time.Time, error) {
	sched, err := e.parser.Parse(trig.CronExpr, trig.Timezone)
	if err != nil {
		return nil, err
	}

	// The high-water mark, not the window start, is the lower bound: missed
	// occurrences between LastTrigger and now are caught up, never re-fired.
	after := trig.StartTime.UTC()
	if trig.LastTrigger != nil && trig.LastTrigger.After(after) {
		after = trig.LastTrigger.UTC()
	}
	if trig.LastTrigger == nil && from.After(after) {
		after = from
	}

	end := to
	if trig.EndTime != nil && trig.EndTime.Before(end) {
		end = trig.EndTime.UTC()
	}

	remaining := trig.RepeatTime
	var times []time.Time
	t := sched.Next(after)
	for i := 0; i < maxOccurrences && !t.IsZero() && !t.After(end); i++ {
		if remaining == 0 {
			break
		}
		times = append(times, t.UTC())
		if remaining > 0 {
			remaining--
		}
		t = sched.Next(t)
	}
	return times, nil
}

func inBounds(trig domain.Trigger, t time.Time) bool {
	if t.Before(trig.StartTime.UTC()) {
		return false
	}
	if trig.EndTime != nil && t.After(trig.EndTime.UTC()) {
		return false
	}
	return true
}
