package cron

import (
	"errors"
	"testing"
	"time"

	"github.com/lingfromSh/message-sub000/internal/domain"
)

func newTestEvaluator() *Evaluator {
	return NewEvaluator(NewParser())
}

func ts(hour, min int) time.Time {
	return time.Date(2026, 8, 30, hour, min, 0, 0, time.UTC)
}

func tsPtr(t time.Time) *time.Time { return &t }

func TestEvaluate_TimerInWindow(t *testing.T) {
	e := newTestEvaluator()

	fireAt := ts(10, 30)
	trig := domain.Trigger{
		Kind:       domain.TriggerKindTimer,
		FireAt:     fireAt,
		StartTime:  ts(0, 0),
		RepeatTime: 1,
	}

	times, err := e.Evaluate(trig, ts(10, 0), ts(11, 0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(times) != 1 || !times[0].Equal(fireAt) {
		t.Errorf("expected [%v], got %v", fireAt, times)
	}
}

func TestEvaluate_TimerOutsideWindow(t *testing.T) {
	e := newTestEvaluator()

	trig := domain.Trigger{
		Kind:       domain.TriggerKindTimer,
		FireAt:     ts(12, 0),
		StartTime:  ts(0, 0),
		RepeatTime: 1,
	}

	times, err := e.Evaluate(trig, ts(10, 0), ts(11, 0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(times) != 0 {
		t.Errorf("fire time after window should yield nothing, got %v", times)
	}
}

func TestEvaluate_TimerAlreadyFired(t *testing.T) {
	e := newTestEvaluator()

	fireAt := ts(10, 30)
	trig := domain.Trigger{
		Kind:        domain.TriggerKindTimer,
		FireAt:      fireAt,
		StartTime:   ts(0, 0),
		RepeatTime:  1,
		LastTrigger: tsPtr(fireAt),
	}

	times, err := e.Evaluate(trig, ts(10, 0), ts(11, 0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(times) != 0 {
		t.Errorf("timer at its high-water mark should yield nothing, got %v", times)
	}
}

func TestEvaluate_TimerOutsideBounds(t *testing.T) {
	e := newTestEvaluator()

	trig := domain.Trigger{
		Kind:       domain.TriggerKindTimer,
		FireAt:     ts(10, 30),
		StartTime:  ts(0, 0),
		EndTime:    tsPtr(ts(10, 0)),
		RepeatTime: 1,
	}

	times, err := e.Evaluate(trig, ts(10, 0), ts(11, 0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(times) != 0 {
		t.Errorf("fire time past end_time should yield nothing, got %v", times)
	}
}

func TestEvaluate_RepeatEveryFiveMinutes(t *testing.T) {
	e := newTestEvaluator()

	trig := domain.Trigger{
		Kind:       domain.TriggerKindRepeat,
		CronExpr:   "*/5 * * * *",
		StartTime:  ts(0, 0),
		RepeatTime: domain.RepeatInfinite,
	}

	times, err := e.Evaluate(trig, ts(10, 0), ts(10, 15))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	want := []time.Time{ts(10, 5), ts(10, 10), ts(10, 15)}
	if len(times) != len(want) {
		t.Fatalf("expected %d fires, got %d: %v", len(want), len(times), times)
	}
	for i := range want {
		if !times[i].Equal(want[i]) {
			t.Errorf("times[%d] = %v, want %v", i, times[i], want[i])
		}
	}
}

func TestEvaluate_RepeatCatchesUpFromHighWaterMark(t *testing.T) {
	e := newTestEvaluator()

	// Last fired at 09:40; window starts at 10:00. The missed 09:45..09:55
	// occurrences are due, never anything at or before 09:40.
	trig := domain.Trigger{
		Kind:        domain.TriggerKindRepeat,
		CronExpr:    "*/5 * * * *",
		StartTime:   ts(0, 0),
		RepeatTime:  domain.RepeatInfinite,
		LastTrigger: tsPtr(ts(9, 40)),
	}

	times, err := e.Evaluate(trig, ts(10, 0), ts(10, 5))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if len(times) == 0 {
		t.Fatal("expected catch-up fires")
	}
	if !times[0].Equal(ts(9, 45)) {
		t.Errorf("first catch-up fire = %v, want %v", times[0], ts(9, 45))
	}
	for _, ft := range times {
		if !ft.After(ts(9, 40)) {
			t.Errorf("fire %v not after high-water mark", ft)
		}
	}
	last := times[len(times)-1]
	if !last.Equal(ts(10, 5)) {
		t.Errorf("last fire = %v, want %v", last, ts(10, 5))
	}
}

func TestEvaluate_RepeatFiniteCount(t *testing.T) {
	e := newTestEvaluator()

	trig := domain.Trigger{
		Kind:       domain.TriggerKindRepeat,
		CronExpr:   "* * * * *",
		StartTime:  ts(0, 0),
		RepeatTime: 2,
	}

	times, err := e.Evaluate(trig, ts(10, 0), ts(11, 0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(times) != 2 {
		t.Errorf("finite repeat should cap fires at 2, got %d", len(times))
	}
}

func TestEvaluate_ExhaustedYieldsNothing(t *testing.T) {
	e := newTestEvaluator()

	trig := domain.Trigger{
		Kind:       domain.TriggerKindRepeat,
		CronExpr:   "* * * * *",
		StartTime:  ts(0, 0),
		RepeatTime: 0,
	}

	times, err := e.Evaluate(trig, ts(10, 0), ts(11, 0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(times) != 0 {
		t.Errorf("exhausted trigger should yield nothing, got %v", times)
	}
}

func TestEvaluate_RepeatEndTimeCapsWindow(t *testing.T) {
	e := newTestEvaluator()

	trig := domain.Trigger{
		Kind:       domain.TriggerKindRepeat,
		CronExpr:   "*/10 * * * *",
		StartTime:  ts(0, 0),
		EndTime:    tsPtr(ts(10, 25)),
		RepeatTime: domain.RepeatInfinite,
	}

	times, err := e.Evaluate(trig, ts(10, 0), ts(11, 0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	for _, ft := range times {
		if ft.After(ts(10, 25)) {
			t.Errorf("fire %v past end_time", ft)
		}
	}
	if len(times) != 2 { // 10:10, 10:20
		t.Errorf("expected 2 fires, got %d: %v", len(times), times)
	}
}

func TestEvaluate_RepeatStartTimeInFuture(t *testing.T) {
	e := newTestEvaluator()

	trig := domain.Trigger{
		Kind:       domain.TriggerKindRepeat,
		CronExpr:   "*/5 * * * *",
		StartTime:  ts(10, 30),
		RepeatTime: domain.RepeatInfinite,
	}

	times, err := e.Evaluate(trig, ts(10, 0), ts(10, 40))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	for _, ft := range times {
		if ft.Before(ts(10, 30)) {
			t.Errorf("fire %v before start_time", ft)
		}
	}
}

func TestEvaluate_EmptyWindow(t *testing.T) {
	e := newTestEvaluator()

	trig := domain.Trigger{
		Kind:       domain.TriggerKindRepeat,
		CronExpr:   "* * * * *",
		StartTime:  ts(0, 0),
		RepeatTime: domain.RepeatInfinite,
	}

	times, err := e.Evaluate(trig, ts(10, 0), ts(10, 0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(times) != 0 {
		t.Errorf("empty window should yield nothing, got %v", times)
	}
}

func TestEvaluate_UnknownKind(t *testing.T) {
	e := newTestEvaluator()

	trig := domain.Trigger{Kind: "interval", RepeatTime: 1}

	_, err := e.Evaluate(trig, ts(10, 0), ts(11, 0))
	if !errors.Is(err, domain.ErrUnknownTrigger) {
		t.Errorf("expected ErrUnknownTrigger, got: %v", err)
	}
}

func TestEvaluate_InvalidCron(t *testing.T) {
	e := newTestEvaluator()

	trig := domain.Trigger{
		Kind:       domain.TriggerKindRepeat,
		CronExpr:   "bogus",
		StartTime:  ts(0, 0),
		RepeatTime: domain.RepeatInfinite,
	}

	if _, err := e.Evaluate(trig, ts(10, 0), ts(11, 0)); err == nil {
		t.Error("expected parse error")
	}
}
