package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/lingfromSh/message-sub000/internal/domain"
)

func validateCreatePlan(req CreatePlanRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(req.Triggers) == 0 {
		return fmt.Errorf("at least one trigger is required")
	}
	if len(req.SubPlans) == 0 {
		return fmt.Errorf("at least one sub_plan is required")
	}

	for i, trig := range req.Triggers {
		if err := validateTrigger(trig); err != nil {
			return fmt.Errorf("triggers[%d]: %w", i, err)
		}
	}

	for i, sp := range req.SubPlans {
		if _, err := uuid.Parse(sp.ProviderID); err != nil {
			return fmt.Errorf("sub_plans[%d]: invalid provider_id", i)
		}
		if len(sp.Payload) == 0 {
			return fmt.Errorf("sub_plans[%d]: payload is required", i)
		}
	}

	return nil
}

func validateTrigger(trig TriggerRequest) error {
	switch domain.TriggerKind(trig.Kind) {
	case domain.TriggerKindTimer:
		if trig.FireAt == nil {
			return fmt.Errorf("timer trigger requires fire_at")
		}
		if trig.RepeatTime != nil && *trig.RepeatTime != 1 {
			return fmt.Errorf("timer trigger must have repeat_time=1")
		}
	case domain.TriggerKindRepeat:
		if trig.CronExpr == "" {
			return fmt.Errorf("repeat trigger requires cron_expr")
		}
		if err := validateCron(trig.CronExpr); err != nil {
			return fmt.Errorf("invalid cron_expr: %w", err)
		}
		if trig.RepeatTime != nil && (*trig.RepeatTime == 0 || *trig.RepeatTime < domain.RepeatInfinite) {
			return fmt.Errorf("repeat trigger repeat_time must be -1 or positive")
		}
	default:
		return fmt.Errorf("unknown trigger kind %q", trig.Kind)
	}

	if trig.Timezone != "" {
		if err := validateTimezone(trig.Timezone); err != nil {
			return fmt.Errorf("invalid timezone: %w", err)
		}
	}

	if trig.EndTime != nil && trig.StartTime != nil && trig.EndTime.Before(*trig.StartTime) {
		return fmt.Errorf("end_time precedes start_time")
	}

	return nil
}

func validateCreateProvider(req CreateProviderRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if req.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if len(req.Config) == 0 {
		return fmt.Errorf("config is required")
	}
	return nil
}

func validateCron(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(expr)
	return err
}

func validateTimezone(tz string) error {
	_, err := time.LoadLocation(tz)
	return err
}
