package domain

import (
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	ExecutionStatusInQueue   ExecutionStatus = "in_queue"
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status is final. Terminal executions are
// never mutated again.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusSucceeded || s == ExecutionStatusFailed
}

// PlanExecution records one dispatched trigger occurrence of a plan.
// Created in_queue by the scheduler, moved to a terminal state by the
// consumer after attempting every sub-plan.
type PlanExecution struct {
	ID uuid.UUID

	PlanID uuid.UUID
	Status ExecutionStatus

	// TimeToExecute is the intended fire time (UTC).
	TimeToExecute time.Time

	// Reasons collects per-sub-plan failure detail. Empty on success.
	Reasons []string

	CreatedAt  time.Time
	FinishedAt *time.Time
}
