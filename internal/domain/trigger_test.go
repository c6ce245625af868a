package domain

import (
	"errors"
	"testing"
	"time"
)

func TestTriggerValidate(t *testing.T) {
	fireAt := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	endBeforeStart := start.Add(-time.Hour)

	tests := []struct {
		name    string
		trig    Trigger
		wantErr error
	}{
		{
			"valid timer",
			Trigger{Kind: TriggerKindTimer, FireAt: fireAt, RepeatTime: 1},
			nil,
		},
		{
			"timer with wrong repeat",
			Trigger{Kind: TriggerKindTimer, FireAt: fireAt, RepeatTime: 3},
			ErrInvalidRepeatTime,
		},
		{
			"valid infinite repeat",
			Trigger{Kind: TriggerKindRepeat, CronExpr: "0 9 * * *", RepeatTime: RepeatInfinite},
			nil,
		},
		{
			"valid finite repeat",
			Trigger{Kind: TriggerKindRepeat, CronExpr: "0 9 * * *", RepeatTime: 12},
			nil,
		},
		{
			"repeat with zero count",
			Trigger{Kind: TriggerKindRepeat, CronExpr: "0 9 * * *", RepeatTime: 0},
			ErrInvalidRepeatTime,
		},
		{
			"repeat below infinite",
			Trigger{Kind: TriggerKindRepeat, CronExpr: "0 9 * * *", RepeatTime: -5},
			ErrInvalidRepeatTime,
		},
		{
			"unknown kind",
			Trigger{Kind: "interval", RepeatTime: 1},
			ErrUnknownTrigger,
		},
		{
			"inverted window",
			Trigger{Kind: TriggerKindTimer, FireAt: fireAt, RepeatTime: 1, StartTime: start, EndTime: &endBeforeStart},
			ErrInvalidWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.trig.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTriggerExhausted(t *testing.T) {
	if (Trigger{RepeatTime: 0}).Exhausted() != true {
		t.Error("repeat_time=0 should be exhausted")
	}
	if (Trigger{RepeatTime: 1}).Exhausted() {
		t.Error("repeat_time=1 should not be exhausted")
	}
	if (Trigger{RepeatTime: RepeatInfinite}).Exhausted() {
		t.Error("infinite repeat should never be exhausted")
	}
}
