// Package delivery processes plan delivery tasks pulled off the shared
// topic: it resolves the execution, plan, and providers, attempts every
// sub-plan's send, and aggregates the outcome into the execution record.
package delivery

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lingfromSh/message-sub000/internal/consumer"
	"github.com/lingfromSh/message-sub000/internal/domain"
	"github.com/lingfromSh/message-sub000/internal/provider"
)

// ErrStatusTransitionDenied is returned by stores when a status update would
// regress from a terminal state (succeeded/failed). This keeps redeliveries
// idempotent.
var ErrStatusTransitionDenied = errors.New("status transition denied: execution already in terminal state")

type Store interface {
	GetExecution(ctx context.Context, id uuid.UUID) (domain.PlanExecution, error)
	GetPlan(ctx context.Context, id uuid.UUID) (domain.Plan, error)
	GetProvider(ctx context.Context, id uuid.UUID) (domain.Provider, error)
	// FinishExecution moves the execution to a terminal state with an atomic
	// update-if-not-terminal; implementations MUST return
	// ErrStatusTransitionDenied on regression.
	FinishExecution(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, reasons []string) error
}

// ProviderRegistry resolves provider implementations by kind.
type ProviderRegistry interface {
	Resolve(kind string) (provider.Provider, error)
}

// AnalyticsSink records processed executions. Best-effort: errors are
// handled inside the sink, never affecting delivery correctness.
type AnalyticsSink interface {
	Record(ctx context.Context, planID uuid.UUID)
}

// MetricsSink records delivery metrics. All methods must be non-blocking and
// fire-and-forget.
type MetricsSink interface {
	SubPlanSendCompleted(kind string, ok bool, duration time.Duration)
	ExecutionFinished(status string)
}

// Handler is the consumer handler for the plan delivery topic.
type Handler struct {
	store     Store
	providers ProviderRegistry
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
}

func NewHandler(store Store, providers ProviderRegistry) *Handler {
	return &Handler{store: store, providers: providers}
}

// WithAnalytics attaches an analytics sink to the handler.
func (h *Handler) WithAnalytics(sink AnalyticsSink) *Handler {
	h.analytics = sink
	return h
}

// WithMetrics attaches a metrics sink to the handler.
func (h *Handler) WithMetrics(sink MetricsSink) *Handler {
	h.metrics = sink
	return h
}

// Handle processes one delivery attempt. An execution already in a terminal
// state is acked and skipped: broker redelivery after success must not
// duplicate sends. A plan execution succeeds when at least one sub-plan
// sent; with zero successes it fails with every encountered reason.
func (h *Handler) Handle(ctx context.Context, d consumer.Delivery) error {
	var task domain.DeliveryTask
	if err := json.Unmarshal(d.Body, &task); err != nil {
		return fmt.Errorf("%w: malformed task body: %v", consumer.ErrReject, err)
	}

	exec, err := h.store.GetExecution(ctx, task.ExecutionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: unknown execution %s", consumer.ErrReject, task.ExecutionID)
		}
		return fmt.Errorf("get execution: %w", err)
	}
	if exec.Status.Terminal() {
		log.Printf("delivery: execution=%s already %s, skipping redelivery", exec.ID, exec.Status)
		return nil
	}

	plan, err := h.store.GetPlan(ctx, task.PlanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.finish(ctx, exec.ID, domain.ExecutionStatusFailed, []string{fmt.Sprintf("plan %s not found", task.PlanID)})
			return fmt.Errorf("%w: plan %s not found", consumer.ErrReject, task.PlanID)
		}
		return fmt.Errorf("get plan: %w", err)
	}

	if h.analytics != nil {
		h.analytics.Record(ctx, plan.ID)
	}

	succeeded, reasons := h.sendSubPlans(ctx, plan, exec)

	if succeeded > 0 {
		h.finish(ctx, exec.ID, domain.ExecutionStatusSucceeded, reasons)
		return nil
	}

	h.finish(ctx, exec.ID, domain.ExecutionStatusFailed, reasons)
	return fmt.Errorf("%w: all %d sub-plans failed for execution %s", consumer.ErrReject, len(plan.SubPlans), exec.ID)
}

// sendSubPlans attempts every sub-plan, collecting failure reasons. A
// sub-plan whose provider reference cannot be resolved is skipped, not fatal
// to the message.
func (h *Handler) sendSubPlans(ctx context.Context, plan domain.Plan, exec domain.PlanExecution) (succeeded int, reasons []string) {
	for i, sp := range plan.SubPlans {
		doc, err := h.store.GetProvider(ctx, sp.ProviderID)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("sub-plan %d: provider %s: %v", i, sp.ProviderID, err))
			continue
		}
		if !doc.Enabled {
			reasons = append(reasons, fmt.Sprintf("sub-plan %d: provider %s disabled", i, doc.Name))
			continue
		}

		p, err := h.providers.Resolve(doc.Kind)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("sub-plan %d: %v", i, err))
			continue
		}

		if err := p.ValidateParameters(sp.Payload); err != nil {
			reasons = append(reasons, fmt.Sprintf("sub-plan %d: %v", i, err))
			continue
		}

		start := time.Now()
		result := p.Send(ctx, provider.Message{
			ExecutionID: exec.ID,
			PlanID:      plan.ID,
			Config:      doc.Config,
			Payload:     sp.Payload,
		})
		if h.metrics != nil {
			h.metrics.SubPlanSendCompleted(doc.Kind, result.OK(), time.Since(start))
		}

		if result.OK() {
			succeeded++
		} else {
			reasons = append(reasons, fmt.Sprintf("sub-plan %d: %s: %s", i, doc.Kind, result.ErrorMessage))
		}
	}
	return succeeded, reasons
}

// finish records the terminal status. A denied transition means a concurrent
// or earlier attempt already settled this execution; safe to ignore.
func (h *Handler) finish(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, reasons []string) {
	if err := h.store.FinishExecution(ctx, id, status, reasons); err != nil {
		if errors.Is(err, ErrStatusTransitionDenied) {
			log.Printf("delivery: execution=%s already terminal, skipping status update", id)
			return
		}
		log.Printf("delivery: execution=%s status update failed: %v", id, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ExecutionFinished(string(status))
	}
	log.Printf("delivery: execution=%s finished status=%s reasons=%d", id, status, len(reasons))
}
