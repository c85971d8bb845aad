package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohitkumar/eduflow/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

type NotFoundError struct {
	Entity string
	Id     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Id)
}

func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

type DefinitionStorage interface {
	SaveWorkflow(ctx context.Context, wf model.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	SaveNodeTemplate(ctx context.Context, node model.NodeTemplate) error
	GetNodeTemplates(ctx context.Context, ids []string) ([]model.NodeTemplate, error)
	SaveNodeMapping(ctx context.Context, mapping model.WorkflowNodeMapping) error
	GetNodeMappings(ctx context.Context, workflowId string) ([]model.WorkflowNodeMapping, error)
	SaveTrigger(ctx context.Context, trigger model.WorkflowTrigger) error
	GetTriggersByEvent(ctx context.Context, instituteId string, eventName string) ([]model.WorkflowTrigger, error)
	SaveSchedule(ctx context.Context, schedule model.WorkflowSchedule) error
	GetSchedules(ctx context.Context) ([]model.WorkflowSchedule, error)
}

// ExecutionStorage persists runs. CreateExecution is the idempotency gate:
// when a run with the same key exists it is returned with created=false.
type ExecutionStorage interface {
	CreateExecution(ctx context.Context, exec model.WorkflowExecution) (*model.WorkflowExecution, bool, error)
	GetExecution(ctx context.Context, idempotencyKey string) (*model.WorkflowExecution, error)
	UpdateExecution(ctx context.Context, exec model.WorkflowExecution) error
	AppendExecutionLog(ctx context.Context, log model.WorkflowExecutionLog) error
	GetExecutionLogs(ctx context.Context, idempotencyKey string) ([]model.WorkflowExecutionLog, error)
}

// ScheduleRunStorage gates schedule firings on (scheduleId, plannedRunAt).
type ScheduleRunStorage interface {
	CreateScheduleRun(ctx context.Context, run model.WorkflowScheduleRun) (bool, error)
	UpdateScheduleRun(ctx context.Context, run model.WorkflowScheduleRun) error
	GetScheduleRun(ctx context.Context, scheduleId string, plannedRunAt time.Time) (*model.WorkflowScheduleRun, error)
}

type DedupeStorage interface {
	// GetNodeDedupe returns the stored record for rec's key, NotFoundError if none.
	GetNodeDedupe(ctx context.Context, rec model.NodeDedupeRecord) (*model.NodeDedupeRecord, error)
	CreateNodeDedupe(ctx context.Context, rec model.NodeDedupeRecord) (bool, error)
}

type AuditStorage interface {
	SaveActivityLog(ctx context.Context, log model.SchedulerActivityLog) error
	GetActivityLog(ctx context.Context, id string) (*model.SchedulerActivityLog, error)
	SaveTaskAudit(ctx context.Context, audit model.TaskExecutionAudit) error
	GetTaskAudits(ctx context.Context, activityLogId string, source string, sourceIds []string) ([]model.TaskExecutionAudit, error)
	GetActivityAudits(ctx context.Context, activityLogId string) ([]model.TaskExecutionAudit, error)
}

type Storage interface {
	DefinitionStorage
	ExecutionStorage
	ScheduleRunStorage
	DedupeStorage
	AuditStorage
	Close() error
}
