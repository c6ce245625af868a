package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/lingfromSh/message-sub000/internal/delivery"
	"github.com/lingfromSh/message-sub000/internal/domain"
	"github.com/lingfromSh/message-sub000/internal/scheduler"
)

// Store implements scheduler.Store, delivery.Store, and the API surface's
// persistence using PostgreSQL. Plans keep their triggers and sub-plans as
// JSONB documents so trigger state advances as a single-row update.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CountCandidatePlans counts enabled plans with at least one non-exhausted
// trigger whose window overlaps [now, horizon].
func (s *Store) CountCandidatePlans(ctx context.Context, now, horizon time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, queryCountCandidatePlans, now, horizon).Scan(&count)
	return count, err
}

// GetCandidatePlans returns one shard page of candidate plans, ordered by id
// so every worker sees the same pagination.
func (s *Store) GetCandidatePlans(ctx context.Context, now, horizon time.Time, limit, offset int) ([]domain.Plan, error) {
	rows, err := s.db.QueryContext(ctx, queryGetCandidatePlans, now, horizon, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, plan)
	}
	return result, rows.Err()
}

// GetPlan returns a plan by id.
func (s *Store) GetPlan(ctx context.Context, id uuid.UUID) (domain.Plan, error) {
	row := s.db.QueryRowContext(ctx, queryGetPlan, id)
	return scanPlan(row)
}

// ListPlans returns plans ordered by creation time, newest first.
func (s *Store) ListPlans(ctx context.Context, limit, offset int) ([]domain.Plan, error) {
	rows, err := s.db.QueryContext(ctx, queryListPlans, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, plan)
	}
	return result, rows.Err()
}

// CreatePlan persists a new plan.
func (s *Store) CreatePlan(ctx context.Context, plan domain.Plan) error {
	triggers, err := json.Marshal(plan.Triggers)
	if err != nil {
		return fmt.Errorf("marshal triggers: %w", err)
	}
	subPlans, err := json.Marshal(plan.SubPlans)
	if err != nil {
		return fmt.Errorf("marshal sub-plans: %w", err)
	}
	_, err = s.db.ExecContext(ctx, queryInsertPlan,
		plan.ID, plan.Name, plan.Enabled, triggers, subPlans, plan.CreatedAt, plan.UpdatedAt)
	return err
}

// UpdatePlanTriggers replaces the trigger document in a single UPDATE so
// concurrent readers never observe a partially advanced state.
func (s *Store) UpdatePlanTriggers(ctx context.Context, planID uuid.UUID, triggers []domain.Trigger) error {
	data, err := json.Marshal(triggers)
	if err != nil {
		return fmt.Errorf("marshal triggers: %w", err)
	}
	_, err = s.db.ExecContext(ctx, queryUpdatePlanTriggers, data, time.Now().UTC(), planID)
	return err
}

// DeletePlan removes a plan by id.
func (s *Store) DeletePlan(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, queryDeletePlan, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// InsertExecution inserts a new execution record. Returns
// scheduler.ErrDuplicateExecution if (plan_id, time_to_execute) already
// exists.
func (s *Store) InsertExecution(ctx context.Context, exec domain.PlanExecution) error {
	reasons, err := json.Marshal(reasonsOrEmpty(exec.Reasons))
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}
	_, err = s.db.ExecContext(ctx, queryInsertExecution,
		exec.ID, exec.PlanID, string(exec.Status), exec.TimeToExecute, reasons, exec.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return scheduler.ErrDuplicateExecution
		}
		return err
	}
	return nil
}

// GetExecution returns an execution by id.
func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (domain.PlanExecution, error) {
	row := s.db.QueryRowContext(ctx, queryGetExecution, id)
	return scanExecution(row)
}

// ListExecutions returns executions for a plan, newest fire time first.
func (s *Store) ListExecutions(ctx context.Context, planID uuid.UUID, limit, offset int) ([]domain.PlanExecution, error) {
	rows, err := s.db.QueryContext(ctx, queryListExecutions, planID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.PlanExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, exec)
	}
	return result, rows.Err()
}

// FinishExecution moves an execution to a terminal state. The guard lives in
// the WHERE clause: a single atomic UPDATE that refuses to touch rows already
// terminal, so concurrent consumers racing on the same execution cannot
// regress it. Returns delivery.ErrStatusTransitionDenied on regression.
func (s *Store) FinishExecution(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, reasons []string) error {
	data, err := json.Marshal(reasonsOrEmpty(reasons))
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}

	result, err := s.db.ExecContext(ctx, queryFinishExecution, string(status), data, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		// Either the execution does not exist or it is already terminal.
		var currentStatus string
		err := s.db.QueryRowContext(ctx, queryGetExecutionStatus, id).Scan(&currentStatus)
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		if err != nil {
			return err
		}
		return delivery.ErrStatusTransitionDenied
	}
	return nil
}

// GetStaleExecutions returns executions still in_queue whose fire time
// passed before olderThan.
func (s *Store) GetStaleExecutions(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.PlanExecution, error) {
	rows, err := s.db.QueryContext(ctx, queryGetStaleExecutions, olderThan, maxResults)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.PlanExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, exec)
	}
	return result, rows.Err()
}

// GetProvider returns a provider document by id.
func (s *Store) GetProvider(ctx context.Context, id uuid.UUID) (domain.Provider, error) {
	var p domain.Provider
	var config []byte
	err := s.db.QueryRowContext(ctx, queryGetProvider, id).Scan(
		&p.ID, &p.Name, &p.Kind, &p.Enabled, &config, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Provider{}, err
	}
	p.Config = config
	return p, nil
}

// CreateProvider persists a new provider document.
func (s *Store) CreateProvider(ctx context.Context, p domain.Provider) error {
	_, err := s.db.ExecContext(ctx, queryInsertProvider,
		p.ID, p.Name, p.Kind, p.Enabled, []byte(p.Config), p.CreatedAt, p.UpdatedAt)
	return err
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (domain.Plan, error) {
	var plan domain.Plan
	var triggers, subPlans []byte

	err := row.Scan(&plan.ID, &plan.Name, &plan.Enabled, &triggers, &subPlans,
		&plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return domain.Plan{}, err
	}
	if err := json.Unmarshal(triggers, &plan.Triggers); err != nil {
		return domain.Plan{}, fmt.Errorf("unmarshal triggers: %w", err)
	}
	if err := json.Unmarshal(subPlans, &plan.SubPlans); err != nil {
		return domain.Plan{}, fmt.Errorf("unmarshal sub-plans: %w", err)
	}
	return plan, nil
}

func scanExecution(row rowScanner) (domain.PlanExecution, error) {
	var exec domain.PlanExecution
	var status string
	var reasons []byte

	err := row.Scan(&exec.ID, &exec.PlanID, &status, &exec.TimeToExecute,
		&reasons, &exec.CreatedAt, &exec.FinishedAt)
	if err != nil {
		return domain.PlanExecution{}, err
	}
	exec.Status = domain.ExecutionStatus(status)
	if err := json.Unmarshal(reasons, &exec.Reasons); err != nil {
		return domain.PlanExecution{}, fmt.Errorf("unmarshal reasons: %w", err)
	}
	return exec, nil
}

func reasonsOrEmpty(reasons []string) []string {
	if reasons == nil {
		return []string{}
	}
	return reasons
}

// isDuplicateKeyError checks if the error is a PostgreSQL unique violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// PostgreSQL unique violation error code is 23505.
		return pqErr.Code == "23505"
	}
	errStr := err.Error()
	return strings.Contains(errStr, "23505") ||
		strings.Contains(errStr, "unique constraint") ||
		strings.Contains(errStr, "duplicate key")
}
