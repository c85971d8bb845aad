package model

import (
	"encoding/json"
	"time"
)

type Status string

const ACTIVE Status = "ACTIVE"
const INACTIVE Status = "INACTIVE"

type Workflow struct {
	Id          string    `json:"id"`
	InstituteId string    `json:"instituteId"`
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NodeTemplate keeps the payload opaque; it is decoded by the node package.
type NodeTemplate struct {
	Id          string          `json:"id"`
	InstituteId string          `json:"instituteId"`
	Name        string          `json:"name"`
	Status      Status          `json:"status"`
	Payload     json.RawMessage `json:"payload"`
}

type WorkflowNodeMapping struct {
	WorkflowId     string `json:"workflowId"`
	NodeTemplateId string `json:"nodeTemplateId"`
	NodeOrder      int    `json:"nodeOrder"`
}

type WorkflowTrigger struct {
	Id               string `json:"id"`
	WorkflowId       string `json:"workflowId"`
	InstituteId      string `json:"instituteId"`
	TriggerEventName string `json:"triggerEventName"`
	Status           Status `json:"status"`
}

type WorkflowSchedule struct {
	Id          string         `json:"id"`
	WorkflowId  string         `json:"workflowId"`
	InstituteId string         `json:"instituteId"`
	CronExpr    string         `json:"cronExpr"`
	Timezone    string         `json:"timezone"`
	Input       map[string]any `json:"input,omitempty"`
	Status      Status         `json:"status"`

	// ActivatedAt is when the schedule last became ACTIVE. Firings planned
	// before it are never due.
	ActivatedAt *time.Time `json:"activatedAt,omitempty"`
}

// WorkflowBundle is an operator authored workflow with everything hanging off it.
type WorkflowBundle struct {
	Workflow  Workflow              `json:"workflow"`
	Nodes     []NodeTemplate        `json:"nodes"`
	Mappings  []WorkflowNodeMapping `json:"mappings"`
	Triggers  []WorkflowTrigger     `json:"triggers"`
	Schedules []WorkflowSchedule    `json:"schedules"`
}
