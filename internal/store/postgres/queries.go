package postgres

const queryCountCandidatePlans = `
SELECT COUNT(*)
FROM plans p
WHERE p.enabled = true
  AND EXISTS (
    SELECT 1 FROM jsonb_array_elements(p.triggers) AS t
    WHERE (t->>'repeat_time')::int <> 0
      AND (t->>'start_time')::timestamptz <= $1
      AND (t->>'end_time' IS NULL OR (t->>'end_time')::timestamptz >= $2)
  )
`

const queryGetCandidatePlans = `
SELECT
    p.id, p.name, p.enabled, p.triggers, p.sub_plans,
    p.created_at, p.updated_at
FROM plans p
WHERE p.enabled = true
  AND EXISTS (
    SELECT 1 FROM jsonb_array_elements(p.triggers) AS t
    WHERE (t->>'repeat_time')::int <> 0
      AND (t->>'start_time')::timestamptz <= $1
      AND (t->>'end_time' IS NULL OR (t->>'end_time')::timestamptz >= $2)
  )
ORDER BY p.id
LIMIT $3 OFFSET $4
`

const queryGetPlan = `
SELECT id, name, enabled, triggers, sub_plans, created_at, updated_at
FROM plans
WHERE id = $1
`

const queryListPlans = `
SELECT id, name, enabled, triggers, sub_plans, created_at, updated_at
FROM plans
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`

const queryInsertPlan = `
INSERT INTO plans (id, name, enabled, triggers, sub_plans, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryUpdatePlanTriggers = `
UPDATE plans
SET triggers = $1, updated_at = $2
WHERE id = $3
`

const queryDeletePlan = `
DELETE FROM plans WHERE id = $1
`

const queryInsertExecution = `
INSERT INTO plan_executions (id, plan_id, status, time_to_execute, reasons, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryGetExecution = `
SELECT id, plan_id, status, time_to_execute, reasons, created_at, finished_at
FROM plan_executions
WHERE id = $1
`

const queryListExecutions = `
SELECT id, plan_id, status, time_to_execute, reasons, created_at, finished_at
FROM plan_executions
WHERE plan_id = $1
ORDER BY time_to_execute DESC
LIMIT $2 OFFSET $3
`

const queryFinishExecution = `
UPDATE plan_executions
SET status = $1, reasons = $2, finished_at = $3
WHERE id = $4
  AND status NOT IN ('succeeded', 'failed')
`

const queryGetExecutionStatus = `
SELECT status FROM plan_executions WHERE id = $1
`

const queryGetStaleExecutions = `
SELECT id, plan_id, status, time_to_execute, reasons, created_at, finished_at
FROM plan_executions
WHERE status = 'in_queue'
  AND time_to_execute < $1
ORDER BY time_to_execute
LIMIT $2
`

const queryGetProvider = `
SELECT id, name, kind, enabled, config, created_at, updated_at
FROM providers
WHERE id = $1
`

const queryInsertProvider = `
INSERT INTO providers (id, name, kind, enabled, config, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
