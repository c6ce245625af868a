package postgres

import "context"

// Schema is the DDL for the store's tables. Applied by `worker migrate` or
// by an external migration tool.
const Schema = `
CREATE TABLE IF NOT EXISTS plans (
    id          UUID PRIMARY KEY,
    name        TEXT NOT NULL,
    enabled     BOOLEAN NOT NULL DEFAULT TRUE,
    triggers    JSONB NOT NULL,
    sub_plans   JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS plan_executions (
    id              UUID PRIMARY KEY,
    plan_id         UUID NOT NULL REFERENCES plans (id) ON DELETE CASCADE,
    status          TEXT NOT NULL,
    time_to_execute TIMESTAMPTZ NOT NULL,
    reasons         JSONB NOT NULL DEFAULT '[]',
    created_at      TIMESTAMPTZ NOT NULL,
    finished_at     TIMESTAMPTZ,
    UNIQUE (plan_id, time_to_execute)
);

CREATE INDEX IF NOT EXISTS idx_plan_executions_stale
    ON plan_executions (time_to_execute)
    WHERE status = 'in_queue';

CREATE TABLE IF NOT EXISTS providers (
    id          UUID PRIMARY KEY,
    name        TEXT NOT NULL,
    kind        TEXT NOT NULL,
    enabled     BOOLEAN NOT NULL DEFAULT TRUE,
    config      JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema applies the DDL. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}
