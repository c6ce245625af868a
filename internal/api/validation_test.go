package api

import (
	"strings"
	"testing"
	"time"
)

func intPtr(n int) *int             { return &n }
func timePtr(t time.Time) *time.Time { return &t }

func TestValidateTrigger_Timer(t *testing.T) {
	fireAt := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	if err := validateTrigger(TriggerRequest{Kind: "timer", FireAt: &fireAt}); err != nil {
		t.Errorf("valid timer rejected: %v", err)
	}

	if err := validateTrigger(TriggerRequest{Kind: "timer", FireAt: &fireAt, RepeatTime: intPtr(3)}); err == nil {
		t.Error("timer with repeat_time=3 should be rejected")
	}
}

func TestValidateTrigger_Repeat(t *testing.T) {
	tests := []struct {
		name    string
		trig    TriggerRequest
		wantErr bool
	}{
		{"valid", TriggerRequest{Kind: "repeat", CronExpr: "*/5 * * * *"}, false},
		{"finite count", TriggerRequest{Kind: "repeat", CronExpr: "0 9 * * 1", RepeatTime: intPtr(10)}, false},
		{"zero count", TriggerRequest{Kind: "repeat", CronExpr: "0 9 * * 1", RepeatTime: intPtr(0)}, true},
		{"below infinite", TriggerRequest{Kind: "repeat", CronExpr: "0 9 * * 1", RepeatTime: intPtr(-2)}, true},
		{"missing cron", TriggerRequest{Kind: "repeat"}, true},
		{"six fields", TriggerRequest{Kind: "repeat", CronExpr: "0 0 9 * * 1"}, true},
		{"bad timezone", TriggerRequest{Kind: "repeat", CronExpr: "0 9 * * 1", Timezone: "Mars/Olympus"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTrigger(tt.trig)
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateTrigger_Window(t *testing.T) {
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)

	err := validateTrigger(TriggerRequest{
		Kind:      "repeat",
		CronExpr:  "0 9 * * *",
		StartTime: timePtr(start),
		EndTime:   timePtr(end),
	})
	if err == nil || !strings.Contains(err.Error(), "end_time") {
		t.Errorf("expected window error, got: %v", err)
	}
}
