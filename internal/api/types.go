package api

import (
	"encoding/json"
	"time"
)

type TriggerRequest struct {
	Kind       string     `json:"kind"`
	FireAt     *time.Time `json:"fire_at,omitempty"`
	CronExpr   string     `json:"cron_expr,omitempty"`
	Timezone   string     `json:"timezone,omitempty"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	RepeatTime *int       `json:"repeat_time,omitempty"`
}

type SubPlanRequest struct {
	ProviderID string          `json:"provider_id"`
	Payload    json.RawMessage `json:"payload"`
}

type CreatePlanRequest struct {
	Name     string           `json:"name"`
	Enabled  *bool            `json:"enabled,omitempty"` // default true
	Triggers []TriggerRequest `json:"triggers"`
	SubPlans []SubPlanRequest `json:"sub_plans"`
}

type CreateProviderRequest struct {
	Name    string          `json:"name"`
	Kind    string          `json:"kind"`
	Enabled *bool           `json:"enabled,omitempty"` // default true
	Config  json.RawMessage `json:"config"`
}

type TriggerResponse struct {
	Kind        string `json:"kind"`
	FireAt      string `json:"fire_at,omitempty"`
	CronExpr    string `json:"cron_expr,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time,omitempty"`
	RepeatTime  int    `json:"repeat_time"`
	LastTrigger string `json:"last_trigger,omitempty"`
}

type SubPlanResponse struct {
	ProviderID string          `json:"provider_id"`
	Payload    json.RawMessage `json:"payload"`
}

type PlanResponse struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Enabled   bool              `json:"enabled"`
	Triggers  []TriggerResponse `json:"triggers"`
	SubPlans  []SubPlanResponse `json:"sub_plans"`
	CreatedAt string            `json:"created_at"`
}

type ProviderResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Enabled   bool   `json:"enabled"`
	CreatedAt string `json:"created_at"`
}

type ExecutionResponse struct {
	ID            string   `json:"id"`
	PlanID        string   `json:"plan_id"`
	Status        string   `json:"status"`
	TimeToExecute string   `json:"time_to_execute"`
	Reasons       []string `json:"reasons,omitempty"`
	CreatedAt     string   `json:"created_at"`
	FinishedAt    string   `json:"finished_at,omitempty"`
}

type ListPlansResponse struct {
	Plans []PlanResponse `json:"plans"`
}

type ListExecutionsResponse struct {
	Executions []ExecutionResponse `json:"executions"`
}

type ConnectResponse struct {
	ConnectionID string `json:"connection_id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
