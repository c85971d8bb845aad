package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates every table the store needs. Unique constraints are the
// gates the engine relies on: one run per idempotency key, one firing per
// (schedule, planned instant) and one side effect per dedupe key.
const Schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	institute_id TEXT NOT NULL,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS node_templates (
	id TEXT PRIMARY KEY,
	institute_id TEXT NOT NULL,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	payload JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS workflow_node_mappings (
	workflow_id TEXT NOT NULL,
	node_template_id TEXT NOT NULL,
	node_order INT NOT NULL,
	PRIMARY KEY (workflow_id, node_template_id)
);
CREATE TABLE IF NOT EXISTS workflow_triggers (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	institute_id TEXT NOT NULL,
	trigger_event_name TEXT NOT NULL,
	status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS workflow_triggers_event_idx ON workflow_triggers (institute_id, trigger_event_name);
CREATE TABLE IF NOT EXISTS workflow_schedules (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	institute_id TEXT NOT NULL,
	cron_expr TEXT NOT NULL,
	timezone TEXT NOT NULL,
	input JSONB,
	status TEXT NOT NULL,
	activated_at TIMESTAMPTZ
);
ALTER TABLE workflow_schedules ADD COLUMN IF NOT EXISTS activated_at TIMESTAMPTZ;
CREATE TABLE IF NOT EXISTS workflow_schedule_runs (
	id TEXT PRIMARY KEY,
	schedule_id TEXT NOT NULL,
	workflow_id TEXT NOT NULL,
	planned_run_at TIMESTAMPTZ NOT NULL,
	idempotency_key TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (schedule_id, planned_run_at)
);
CREATE TABLE IF NOT EXISTS workflow_executions (
	idempotency_key TEXT PRIMARY KEY,
	id TEXT NOT NULL,
	workflow_id TEXT NOT NULL,
	schedule_id TEXT NOT NULL DEFAULT '',
	schedule_run_id TEXT NOT NULL DEFAULT '',
	start_node_id TEXT NOT NULL DEFAULT '',
	input JSONB,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	attempts INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS workflow_execution_logs (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL,
	execution_id TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	node_template_id TEXT NOT NULL,
	node_type TEXT NOT NULL,
	status TEXT NOT NULL,
	deduplicated BOOLEAN NOT NULL DEFAULT FALSE,
	attempt INT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS workflow_execution_logs_key_idx ON workflow_execution_logs (idempotency_key, seq);
CREATE TABLE IF NOT EXISTS node_dedupe (
	node_template_id TEXT NOT NULL,
	operation_key TEXT NOT NULL,
	schedule_run_id TEXT NOT NULL,
	result JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (node_template_id, operation_key, schedule_run_id)
);
ALTER TABLE node_dedupe ADD COLUMN IF NOT EXISTS result JSONB;
CREATE TABLE IF NOT EXISTS scheduler_activity_logs (
	id TEXT PRIMARY KEY,
	task_name TEXT NOT NULL,
	cron_profile_id TEXT NOT NULL,
	status TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS task_execution_audits (
	id TEXT NOT NULL,
	activity_log_id TEXT NOT NULL,
	source TEXT NOT NULL,
	source_id TEXT NOT NULL,
	status TEXT NOT NULL,
	status_message TEXT NOT NULL DEFAULT '',
	retry_count INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (activity_log_id, source, source_id)
);
`

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return storageError(err)
	}
	return nil
}
