package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mohitkumar/eduflow/logger"
	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/persistence"
	"go.uber.org/zap"
)

var _ persistence.Storage = new(pgStorage)

type pgStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresStorage(ctx context.Context, conf Config) (*pgStorage, error) {
	poolConf, err := pgxpool.ParseConfig(conf.DSN)
	if err != nil {
		return nil, err
	}
	if conf.MaxConns > 0 {
		poolConf.MaxConns = conf.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConf)
	if err != nil {
		return nil, storageError(err)
	}
	if conf.EnsureSchema {
		if err := EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	logger.Info("postgres storage ready", zap.Int32("maxConns", poolConf.MaxConns))
	return &pgStorage{pool: pool}, nil
}

func NewPostgresStorageFromPool(pool *pgxpool.Pool) *pgStorage {
	return &pgStorage{pool: pool}
}

func storageError(err error) error {
	return persistence.StorageLayerError{Message: err.Error()}
}

func notFoundOr(err error, entity string, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return persistence.NotFoundError{Entity: entity, Id: id}
	}
	return storageError(err)
}

func decodeInput(raw []byte) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}
	return input, nil
}

func (s *pgStorage) SaveWorkflow(ctx context.Context, wf model.Workflow) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO workflows (id, institute_id, name, status, created_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET institute_id = EXCLUDED.institute_id, name = EXCLUDED.name, status = EXCLUDED.status`,
		wf.Id, wf.InstituteId, wf.Name, string(wf.Status), wf.CreatedAt)
	if err != nil {
		return storageError(err)
	}
	return nil
}

func (s *pgStorage) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	var wf model.Workflow
	var status string
	err := s.pool.QueryRow(ctx, `SELECT id, institute_id, name, status, created_at FROM workflows WHERE id = $1`, id).
		Scan(&wf.Id, &wf.InstituteId, &wf.Name, &status, &wf.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "workflow", id)
	}
	wf.Status = model.Status(status)
	return &wf, nil
}

func (s *pgStorage) SaveNodeTemplate(ctx context.Context, node model.NodeTemplate) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO node_templates (id, institute_id, name, status, payload) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET institute_id = EXCLUDED.institute_id, name = EXCLUDED.name, status = EXCLUDED.status, payload = EXCLUDED.payload`,
		node.Id, node.InstituteId, node.Name, string(node.Status), string(node.Payload))
	if err != nil {
		return storageError(err)
	}
	return nil
}

func (s *pgStorage) GetNodeTemplates(ctx context.Context, ids []string) ([]model.NodeTemplate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, institute_id, name, status, payload FROM node_templates WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, storageError(err)
	}
	defer rows.Close()
	var nodes []model.NodeTemplate
	for rows.Next() {
		var n model.NodeTemplate
		var status string
		var payload []byte
		if err := rows.Scan(&n.Id, &n.InstituteId, &n.Name, &status, &payload); err != nil {
			return nil, storageError(err)
		}
		n.Status = model.Status(status)
		n.Payload = json.RawMessage(payload)
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err)
	}
	return nodes, nil
}

func (s *pgStorage) SaveNodeMapping(ctx context.Context, mapping model.WorkflowNodeMapping) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO workflow_node_mappings (workflow_id, node_template_id, node_order) VALUES ($1, $2, $3)
		ON CONFLICT (workflow_id, node_template_id) DO UPDATE SET node_order = EXCLUDED.node_order`,
		mapping.WorkflowId, mapping.NodeTemplateId, mapping.NodeOrder)
	if err != nil {
		return storageError(err)
	}
	return nil
}

func (s *pgStorage) GetNodeMappings(ctx context.Context, workflowId string) ([]model.WorkflowNodeMapping, error) {
	rows, err := s.pool.Query(ctx, `SELECT workflow_id, node_template_id, node_order FROM workflow_node_mappings WHERE workflow_id = $1 ORDER BY node_order, node_template_id`, workflowId)
	if err != nil {
		return nil, storageError(err)
	}
	defer rows.Close()
	var mappings []model.WorkflowNodeMapping
	for rows.Next() {
		var m model.WorkflowNodeMapping
		if err := rows.Scan(&m.WorkflowId, &m.NodeTemplateId, &m.NodeOrder); err != nil {
			return nil, storageError(err)
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err)
	}
	return mappings, nil
}

func (s *pgStorage) SaveTrigger(ctx context.Context, trigger model.WorkflowTrigger) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO workflow_triggers (id, workflow_id, institute_id, trigger_event_name, status) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET workflow_id = EXCLUDED.workflow_id, institute_id = EXCLUDED.institute_id, trigger_event_name = EXCLUDED.trigger_event_name, status = EXCLUDED.status`,
		trigger.Id, trigger.WorkflowId, trigger.InstituteId, trigger.TriggerEventName, string(trigger.Status))
	if err != nil {
		return storageError(err)
	}
	return nil
}

func (s *pgStorage) GetTriggersByEvent(ctx context.Context, instituteId string, eventName string) ([]model.WorkflowTrigger, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, workflow_id, institute_id, trigger_event_name, status FROM workflow_triggers
		WHERE institute_id = $1 AND trigger_event_name = $2 ORDER BY id`, instituteId, eventName)
	if err != nil {
		return nil, storageError(err)
	}
	defer rows.Close()
	var triggers []model.WorkflowTrigger
	for rows.Next() {
		var t model.WorkflowTrigger
		var status string
		if err := rows.Scan(&t.Id, &t.WorkflowId, &t.InstituteId, &t.TriggerEventName, &status); err != nil {
			return nil, storageError(err)
		}
		t.Status = model.Status(status)
		triggers = append(triggers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err)
	}
	return triggers, nil
}

func (s *pgStorage) SaveSchedule(ctx context.Context, schedule model.WorkflowSchedule) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO workflow_schedules (id, workflow_id, institute_id, cron_expr, timezone, input, status, activated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET workflow_id = EXCLUDED.workflow_id, institute_id = EXCLUDED.institute_id, cron_expr = EXCLUDED.cron_expr,
		timezone = EXCLUDED.timezone, input = EXCLUDED.input, status = EXCLUDED.status, activated_at = EXCLUDED.activated_at`,
		schedule.Id, schedule.WorkflowId, schedule.InstituteId, schedule.CronExpr, schedule.Timezone, schedule.Input, string(schedule.Status), schedule.ActivatedAt)
	if err != nil {
		return storageError(err)
	}
	return nil
}

func (s *pgStorage) GetSchedules(ctx context.Context) ([]model.WorkflowSchedule, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, workflow_id, institute_id, cron_expr, timezone, input, status, activated_at FROM workflow_schedules ORDER BY id`)
	if err != nil {
		return nil, storageError(err)
	}
	defer rows.Close()
	var schedules []model.WorkflowSchedule
	for rows.Next() {
		var sc model.WorkflowSchedule
		var status string
		var input []byte
		if err := rows.Scan(&sc.Id, &sc.WorkflowId, &sc.InstituteId, &sc.CronExpr, &sc.Timezone, &input, &status, &sc.ActivatedAt); err != nil {
			return nil, storageError(err)
		}
		if sc.Input, err = decodeInput(input); err != nil {
			return nil, err
		}
		sc.Status = model.Status(status)
		schedules = append(schedules, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err)
	}
	return schedules, nil
}

const executionColumns = `id, idempotency_key, workflow_id, schedule_id, schedule_run_id, start_node_id, input, status, error_message, attempts, created_at, started_at, completed_at`

func scanExecution(row pgx.Row) (*model.WorkflowExecution, error) {
	var e model.WorkflowExecution
	var status string
	var input []byte
	err := row.Scan(&e.Id, &e.IdempotencyKey, &e.WorkflowId, &e.ScheduleId, &e.ScheduleRunId, &e.StartNodeId,
		&input, &status, &e.ErrorMessage, &e.Attempts, &e.CreatedAt, &e.StartedAt, &e.CompletedAt)
	if err != nil {
		return nil, err
	}
	e.Status = model.ExecutionStatus(status)
	if e.Input, err = decodeInput(input); err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateExecution inserts under the primary key on idempotency_key. A lost
// race reads back the row the winner wrote.
func (s *pgStorage) CreateExecution(ctx context.Context, exec model.WorkflowExecution) (*model.WorkflowExecution, bool, error) {
	tag, err := s.pool.Exec(ctx, `INSERT INTO workflow_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) ON CONFLICT (idempotency_key) DO NOTHING`,
		exec.Id, exec.IdempotencyKey, exec.WorkflowId, exec.ScheduleId, exec.ScheduleRunId, exec.StartNodeId,
		exec.Input, string(exec.Status), exec.ErrorMessage, exec.Attempts, exec.CreatedAt, exec.StartedAt, exec.CompletedAt)
	if err != nil {
		return nil, false, storageError(err)
	}
	if tag.RowsAffected() == 1 {
		return &exec, true, nil
	}
	existing, err := s.GetExecution(ctx, exec.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *pgStorage) GetExecution(ctx context.Context, idempotencyKey string) (*model.WorkflowExecution, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE idempotency_key = $1`, idempotencyKey)
	exec, err := scanExecution(row)
	if err != nil {
		return nil, notFoundOr(err, "execution", idempotencyKey)
	}
	return exec, nil
}

func (s *pgStorage) UpdateExecution(ctx context.Context, exec model.WorkflowExecution) error {
	tag, err := s.pool.Exec(ctx, `UPDATE workflow_executions SET status = $2, error_message = $3, attempts = $4, started_at = $5, completed_at = $6
		WHERE idempotency_key = $1`,
		exec.IdempotencyKey, string(exec.Status), exec.ErrorMessage, exec.Attempts, exec.StartedAt, exec.CompletedAt)
	if err != nil {
		return storageError(err)
	}
	if tag.RowsAffected() == 0 {
		return persistence.NotFoundError{Entity: "execution", Id: exec.IdempotencyKey}
	}
	return nil
}

func (s *pgStorage) AppendExecutionLog(ctx context.Context, log model.WorkflowExecutionLog) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO workflow_execution_logs
		(id, execution_id, idempotency_key, node_template_id, node_type, status, deduplicated, attempt, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		log.Id, log.ExecutionId, log.IdempotencyKey, log.NodeTemplateId, log.NodeType, string(log.Status),
		log.Deduplicated, log.Attempt, log.ErrorMessage, log.CreatedAt)
	if err != nil {
		return storageError(err)
	}
	return nil
}

func (s *pgStorage) GetExecutionLogs(ctx context.Context, idempotencyKey string) ([]model.WorkflowExecutionLog, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, execution_id, idempotency_key, node_template_id, node_type, status, deduplicated, attempt, error_message, created_at
		FROM workflow_execution_logs WHERE idempotency_key = $1 ORDER BY seq`, idempotencyKey)
	if err != nil {
		return nil, storageError(err)
	}
	defer rows.Close()
	logs := []model.WorkflowExecutionLog{}
	for rows.Next() {
		var l model.WorkflowExecutionLog
		var status string
		if err := rows.Scan(&l.Id, &l.ExecutionId, &l.IdempotencyKey, &l.NodeTemplateId, &l.NodeType, &status,
			&l.Deduplicated, &l.Attempt, &l.ErrorMessage, &l.CreatedAt); err != nil {
			return nil, storageError(err)
		}
		l.Status = model.LogStatus(status)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err)
	}
	return logs, nil
}

func (s *pgStorage) CreateScheduleRun(ctx context.Context, run model.WorkflowScheduleRun) (bool, error) {
	tag, err := s.pool.Exec(ctx, `INSERT INTO workflow_schedule_runs (id, schedule_id, workflow_id, planned_run_at, idempotency_key, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT DO NOTHING`,
		run.Id, run.ScheduleId, run.WorkflowId, run.PlannedRunAt.UTC(), run.IdempotencyKey, string(run.Status), run.CreatedAt)
	if err != nil {
		return false, storageError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgStorage) UpdateScheduleRun(ctx context.Context, run model.WorkflowScheduleRun) error {
	tag, err := s.pool.Exec(ctx, `UPDATE workflow_schedule_runs SET status = $3, idempotency_key = $4 WHERE schedule_id = $1 AND planned_run_at = $2`,
		run.ScheduleId, run.PlannedRunAt.UTC(), string(run.Status), run.IdempotencyKey)
	if err != nil {
		return storageError(err)
	}
	if tag.RowsAffected() == 0 {
		return persistence.NotFoundError{Entity: "schedule run", Id: model.ScheduleRunKey(run.ScheduleId, run.PlannedRunAt)}
	}
	return nil
}

func (s *pgStorage) GetScheduleRun(ctx context.Context, scheduleId string, plannedRunAt time.Time) (*model.WorkflowScheduleRun, error) {
	var run model.WorkflowScheduleRun
	var status string
	err := s.pool.QueryRow(ctx, `SELECT id, schedule_id, workflow_id, planned_run_at, idempotency_key, status, created_at
		FROM workflow_schedule_runs WHERE schedule_id = $1 AND planned_run_at = $2`, scheduleId, plannedRunAt.UTC()).
		Scan(&run.Id, &run.ScheduleId, &run.WorkflowId, &run.PlannedRunAt, &run.IdempotencyKey, &status, &run.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "schedule run", model.ScheduleRunKey(scheduleId, plannedRunAt))
	}
	run.Status = model.ScheduleRunStatus(status)
	return &run, nil
}

func (s *pgStorage) GetNodeDedupe(ctx context.Context, rec model.NodeDedupeRecord) (*model.NodeDedupeRecord, error) {
	stored := model.NodeDedupeRecord{NodeTemplateId: rec.NodeTemplateId, OperationKey: rec.OperationKey, ScheduleRunId: rec.ScheduleRunId}
	var result []byte
	err := s.pool.QueryRow(ctx, `SELECT result, created_at FROM node_dedupe WHERE node_template_id = $1 AND operation_key = $2 AND schedule_run_id = $3`,
		rec.NodeTemplateId, rec.OperationKey, rec.ScheduleRunId).Scan(&result, &stored.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "node dedupe", rec.Key())
	}
	if stored.Result, err = decodeInput(result); err != nil {
		return nil, storageError(err)
	}
	return &stored, nil
}

func (s *pgStorage) CreateNodeDedupe(ctx context.Context, rec model.NodeDedupeRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx, `INSERT INTO node_dedupe (node_template_id, operation_key, schedule_run_id, result, created_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING`, rec.NodeTemplateId, rec.OperationKey, rec.ScheduleRunId, rec.Result, rec.CreatedAt)
	if err != nil {
		return false, storageError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgStorage) SaveActivityLog(ctx context.Context, log model.SchedulerActivityLog) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO scheduler_activity_logs (id, task_name, cron_profile_id, status, message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, message = EXCLUDED.message, updated_at = EXCLUDED.updated_at`,
		log.Id, log.TaskName, log.CronProfileId, string(log.Status), log.Message, log.CreatedAt, log.UpdatedAt)
	if err != nil {
		return storageError(err)
	}
	return nil
}

func (s *pgStorage) GetActivityLog(ctx context.Context, id string) (*model.SchedulerActivityLog, error) {
	var log model.SchedulerActivityLog
	var status string
	err := s.pool.QueryRow(ctx, `SELECT id, task_name, cron_profile_id, status, message, created_at, updated_at FROM scheduler_activity_logs WHERE id = $1`, id).
		Scan(&log.Id, &log.TaskName, &log.CronProfileId, &status, &log.Message, &log.CreatedAt, &log.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "activity log", id)
	}
	log.Status = model.TaskStatus(status)
	return &log, nil
}

func (s *pgStorage) SaveTaskAudit(ctx context.Context, audit model.TaskExecutionAudit) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO task_execution_audits
		(id, activity_log_id, source, source_id, status, status_message, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (activity_log_id, source, source_id) DO UPDATE SET status = EXCLUDED.status, status_message = EXCLUDED.status_message,
		retry_count = EXCLUDED.retry_count, updated_at = EXCLUDED.updated_at`,
		audit.Id, audit.ActivityLogId, audit.Source, audit.SourceId, string(audit.Status), audit.StatusMessage,
		audit.RetryCount, audit.CreatedAt, audit.UpdatedAt)
	if err != nil {
		return storageError(err)
	}
	return nil
}

const auditColumns = `id, activity_log_id, source, source_id, status, status_message, retry_count, created_at, updated_at`

func (s *pgStorage) queryAudits(ctx context.Context, query string, args ...any) ([]model.TaskExecutionAudit, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError(err)
	}
	defer rows.Close()
	var audits []model.TaskExecutionAudit
	for rows.Next() {
		var a model.TaskExecutionAudit
		var status string
		if err := rows.Scan(&a.Id, &a.ActivityLogId, &a.Source, &a.SourceId, &status, &a.StatusMessage,
			&a.RetryCount, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, storageError(err)
		}
		a.Status = model.TaskStatus(status)
		audits = append(audits, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err)
	}
	return audits, nil
}

func (s *pgStorage) GetTaskAudits(ctx context.Context, activityLogId string, source string, sourceIds []string) ([]model.TaskExecutionAudit, error) {
	if len(sourceIds) == 0 {
		return nil, nil
	}
	return s.queryAudits(ctx, `SELECT `+auditColumns+` FROM task_execution_audits
		WHERE activity_log_id = $1 AND source = $2 AND source_id = ANY($3) ORDER BY created_at, source_id`, activityLogId, source, sourceIds)
}

func (s *pgStorage) GetActivityAudits(ctx context.Context, activityLogId string) ([]model.TaskExecutionAudit, error) {
	return s.queryAudits(ctx, `SELECT `+auditColumns+` FROM task_execution_audits
		WHERE activity_log_id = $1 ORDER BY created_at, source, source_id`, activityLogId)
}

func (s *pgStorage) Close() error {
	s.pool.Close()
	return nil
}
