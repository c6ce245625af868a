package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestIsDuplicateKeyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "pq unique violation", err: &pq.Error{Code: "23505"}, want: true},
		{name: "pq wrapped", err: fmt.Errorf("insert execution: %w", &pq.Error{Code: "23505"}), want: true},
		{name: "pq other code", err: &pq.Error{Code: "23503"}, want: false},
		{name: "text unique constraint", err: errors.New(`duplicate key value violates unique constraint "plan_executions_plan_id_time_key"`), want: true},
		{name: "unrelated", err: errors.New("connection refused"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isDuplicateKeyError(tt.err); got != tt.want {
				t.Errorf("isDuplicateKeyError(%v) = %t, want %t", tt.err, got, tt.want)
			}
		})
	}
}

func TestReasonsOrEmpty(t *testing.T) {
	if got := reasonsOrEmpty(nil); got == nil || len(got) != 0 {
		t.Errorf("nil reasons = %v, want empty slice", got)
	}
	reasons := []string{"sub-plan 0: timeout"}
	if got := reasonsOrEmpty(reasons); len(got) != 1 || got[0] != reasons[0] {
		t.Errorf("reasons = %v", got)
	}
}
