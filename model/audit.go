package model

import "time"

type TaskStatus string

const TASK_STARTED TaskStatus = "STARTED"
const TASK_FINISHED TaskStatus = "FINISHED"
const TASK_FAILED TaskStatus = "FAILED"

type SchedulerActivityLog struct {
	Id            string     `json:"id"`
	TaskName      string     `json:"taskName"`
	CronProfileId string     `json:"cronProfileId"`
	Status        TaskStatus `json:"status"`
	Message       string     `json:"message,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type TaskExecutionAudit struct {
	Id            string     `json:"id"`
	ActivityLogId string     `json:"activityLogId"`
	Source        string     `json:"source"`
	SourceId      string     `json:"sourceId"`
	Status        TaskStatus `json:"status"`
	StatusMessage string     `json:"statusMessage,omitempty"`
	RetryCount    int        `json:"retryCount"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (a TaskExecutionAudit) SourceKey() string {
	return a.Source + "|" + a.SourceId
}
