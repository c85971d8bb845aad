package model

import (
	"fmt"
	"time"
)

type ExecutionStatus string

const EXECUTION_PENDING ExecutionStatus = "PENDING"
const EXECUTION_RUNNING ExecutionStatus = "RUNNING"
const EXECUTION_COMPLETED ExecutionStatus = "COMPLETED"
const EXECUTION_FAILED ExecutionStatus = "FAILED"
const EXECUTION_PARTIAL_SUCCESS ExecutionStatus = "PARTIAL_SUCCESS"

func (s ExecutionStatus) Terminal() bool {
	return s == EXECUTION_COMPLETED || s == EXECUTION_FAILED || s == EXECUTION_PARTIAL_SUCCESS
}

type WorkflowExecution struct {
	Id             string          `json:"id"`
	IdempotencyKey string          `json:"idempotencyKey"`
	WorkflowId     string          `json:"workflowId"`
	ScheduleId     string          `json:"scheduleId,omitempty"`
	ScheduleRunId  string          `json:"scheduleRunId,omitempty"`
	StartNodeId    string          `json:"startNodeId,omitempty"`
	Input          map[string]any  `json:"input,omitempty"`
	Status         ExecutionStatus `json:"status"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	Attempts       int             `json:"attempts"`
	CreatedAt      time.Time       `json:"createdAt"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}

// DedupeScope is the scope node dedupe records are keyed by. Runs that were
// not fired by a schedule are scoped by their own idempotency key.
func (e WorkflowExecution) DedupeScope() string {
	if len(e.ScheduleRunId) > 0 {
		return e.ScheduleRunId
	}
	return "run:" + e.IdempotencyKey
}

type LogStatus string

const LOG_SUCCESS LogStatus = "SUCCESS"
const LOG_FAILED LogStatus = "FAILED"
const LOG_SKIPPED LogStatus = "SKIPPED"

type WorkflowExecutionLog struct {
	Id             string    `json:"id"`
	ExecutionId    string    `json:"executionId"`
	IdempotencyKey string    `json:"idempotencyKey"`
	NodeTemplateId string    `json:"nodeTemplateId"`
	NodeType       string    `json:"nodeType"`
	Status         LogStatus `json:"status"`
	Deduplicated   bool      `json:"deduplicated,omitempty"`
	Attempt        int       `json:"attempt"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type ScheduleRunStatus string

const SCHEDULE_RUN_CLAIMED ScheduleRunStatus = "CLAIMED"
const SCHEDULE_RUN_COMPLETED ScheduleRunStatus = "COMPLETED"
const SCHEDULE_RUN_FAILED ScheduleRunStatus = "FAILED"

type WorkflowScheduleRun struct {
	Id             string            `json:"id"`
	ScheduleId     string            `json:"scheduleId"`
	WorkflowId     string            `json:"workflowId"`
	PlannedRunAt   time.Time         `json:"plannedRunAt"`
	IdempotencyKey string            `json:"idempotencyKey"`
	Status         ScheduleRunStatus `json:"status"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// ScheduleRunKey renders the (scheduleId, plannedRunAt) pair that is unique per row.
func ScheduleRunKey(scheduleId string, plannedRunAt time.Time) string {
	return fmt.Sprintf("%s|%d", scheduleId, plannedRunAt.UTC().Unix())
}

type NodeDedupeRecord struct {
	NodeTemplateId string         `json:"nodeTemplateId"`
	OperationKey   string         `json:"operationKey"`
	ScheduleRunId  string         `json:"scheduleRunId"`
	Result         map[string]any `json:"result,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

func (r NodeDedupeRecord) Key() string {
	return r.NodeTemplateId + "|" + r.OperationKey + "|" + r.ScheduleRunId
}
