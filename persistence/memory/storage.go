package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/persistence"
)

var _ persistence.Storage = new(memoryStorage)

// memoryStorage keeps every entity in process. The unique gates are guarded
// by one mutex, which gives the same outcome as a unique index.
type memoryStorage struct {
	mu           sync.RWMutex
	workflows    map[string]model.Workflow
	nodes        map[string]model.NodeTemplate
	mappings     map[string]map[string]model.WorkflowNodeMapping
	triggers     map[string]model.WorkflowTrigger
	schedules    map[string]model.WorkflowSchedule
	scheduleRuns map[string]model.WorkflowScheduleRun
	executions   map[string]model.WorkflowExecution
	logs         map[string][]model.WorkflowExecutionLog
	dedupe       map[string]model.NodeDedupeRecord
	activityLogs map[string]model.SchedulerActivityLog
	audits       map[string]map[string]model.TaskExecutionAudit
}

func NewMemoryStorage() *memoryStorage {
	return &memoryStorage{
		workflows:    make(map[string]model.Workflow),
		nodes:        make(map[string]model.NodeTemplate),
		mappings:     make(map[string]map[string]model.WorkflowNodeMapping),
		triggers:     make(map[string]model.WorkflowTrigger),
		schedules:    make(map[string]model.WorkflowSchedule),
		scheduleRuns: make(map[string]model.WorkflowScheduleRun),
		executions:   make(map[string]model.WorkflowExecution),
		logs:         make(map[string][]model.WorkflowExecutionLog),
		dedupe:       make(map[string]model.NodeDedupeRecord),
		activityLogs: make(map[string]model.SchedulerActivityLog),
		audits:       make(map[string]map[string]model.TaskExecutionAudit),
	}
}

func (s *memoryStorage) SaveWorkflow(ctx context.Context, wf model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.Id] = wf
	return nil
}

func (s *memoryStorage) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, persistence.NotFoundError{Entity: "workflow", Id: id}
	}
	return &wf, nil
}

func (s *memoryStorage) SaveNodeTemplate(ctx context.Context, node model.NodeTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node.Id] = node
	return nil
}

func (s *memoryStorage) GetNodeTemplates(ctx context.Context, ids []string) ([]model.NodeTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.NodeTemplate, 0, len(ids))
	for _, id := range ids {
		if node, ok := s.nodes[id]; ok {
			out = append(out, node)
		}
	}
	return out, nil
}

func (s *memoryStorage) SaveNodeMapping(ctx context.Context, mapping model.WorkflowNodeMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[mapping.WorkflowId]
	if !ok {
		m = make(map[string]model.WorkflowNodeMapping)
		s.mappings[mapping.WorkflowId] = m
	}
	m[mapping.NodeTemplateId] = mapping
	return nil
}

func (s *memoryStorage) GetNodeMappings(ctx context.Context, workflowId string) ([]model.WorkflowNodeMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.WorkflowNodeMapping, 0, len(s.mappings[workflowId]))
	for _, m := range s.mappings[workflowId] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeOrder < out[j].NodeOrder })
	return out, nil
}

func (s *memoryStorage) SaveTrigger(ctx context.Context, trigger model.WorkflowTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers[trigger.Id] = trigger
	return nil
}

func (s *memoryStorage) GetTriggersByEvent(ctx context.Context, instituteId string, eventName string) ([]model.WorkflowTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.WorkflowTrigger
	for _, t := range s.triggers {
		if t.InstituteId == instituteId && t.TriggerEventName == eventName {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

func (s *memoryStorage) SaveSchedule(ctx context.Context, schedule model.WorkflowSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[schedule.Id] = schedule
	return nil
}

func (s *memoryStorage) GetSchedules(ctx context.Context) ([]model.WorkflowSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.WorkflowSchedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

func (s *memoryStorage) CreateExecution(ctx context.Context, exec model.WorkflowExecution) (*model.WorkflowExecution, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.executions[exec.IdempotencyKey]; ok {
		return &existing, false, nil
	}
	s.executions[exec.IdempotencyKey] = exec
	return &exec, true, nil
}

func (s *memoryStorage) GetExecution(ctx context.Context, idempotencyKey string) (*model.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[idempotencyKey]
	if !ok {
		return nil, persistence.NotFoundError{Entity: "execution", Id: idempotencyKey}
	}
	return &exec, nil
}

func (s *memoryStorage) UpdateExecution(ctx context.Context, exec model.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.IdempotencyKey]; !ok {
		return persistence.NotFoundError{Entity: "execution", Id: exec.IdempotencyKey}
	}
	s.executions[exec.IdempotencyKey] = exec
	return nil
}

func (s *memoryStorage) AppendExecutionLog(ctx context.Context, log model.WorkflowExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[log.IdempotencyKey] = append(s.logs[log.IdempotencyKey], log)
	return nil
}

func (s *memoryStorage) GetExecutionLogs(ctx context.Context, idempotencyKey string) ([]model.WorkflowExecutionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := s.logs[idempotencyKey]
	out := make([]model.WorkflowExecutionLog, len(logs))
	copy(out, logs)
	return out, nil
}

func (s *memoryStorage) CreateScheduleRun(ctx context.Context, run model.WorkflowScheduleRun) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := model.ScheduleRunKey(run.ScheduleId, run.PlannedRunAt)
	if _, ok := s.scheduleRuns[key]; ok {
		return false, nil
	}
	s.scheduleRuns[key] = run
	return true, nil
}

func (s *memoryStorage) UpdateScheduleRun(ctx context.Context, run model.WorkflowScheduleRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := model.ScheduleRunKey(run.ScheduleId, run.PlannedRunAt)
	if _, ok := s.scheduleRuns[key]; !ok {
		return persistence.NotFoundError{Entity: "schedule run", Id: key}
	}
	s.scheduleRuns[key] = run
	return nil
}

func (s *memoryStorage) GetScheduleRun(ctx context.Context, scheduleId string, plannedRunAt time.Time) (*model.WorkflowScheduleRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := model.ScheduleRunKey(scheduleId, plannedRunAt)
	run, ok := s.scheduleRuns[key]
	if !ok {
		return nil, persistence.NotFoundError{Entity: "schedule run", Id: key}
	}
	return &run, nil
}

func (s *memoryStorage) GetNodeDedupe(ctx context.Context, rec model.NodeDedupeRecord) (*model.NodeDedupeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.dedupe[rec.Key()]
	if !ok {
		return nil, persistence.NotFoundError{Entity: "node dedupe", Id: rec.Key()}
	}
	return &stored, nil
}

func (s *memoryStorage) CreateNodeDedupe(ctx context.Context, rec model.NodeDedupeRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedupe[rec.Key()]; ok {
		return false, nil
	}
	s.dedupe[rec.Key()] = rec
	return true, nil
}

func (s *memoryStorage) SaveActivityLog(ctx context.Context, log model.SchedulerActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activityLogs[log.Id] = log
	return nil
}

func (s *memoryStorage) GetActivityLog(ctx context.Context, id string) (*model.SchedulerActivityLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.activityLogs[id]
	if !ok {
		return nil, persistence.NotFoundError{Entity: "activity log", Id: id}
	}
	return &log, nil
}

func (s *memoryStorage) SaveTaskAudit(ctx context.Context, audit model.TaskExecutionAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.audits[audit.ActivityLogId]
	if !ok {
		m = make(map[string]model.TaskExecutionAudit)
		s.audits[audit.ActivityLogId] = m
	}
	m[audit.SourceKey()] = audit
	return nil
}

func (s *memoryStorage) GetTaskAudits(ctx context.Context, activityLogId string, source string, sourceIds []string) ([]model.TaskExecutionAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.TaskExecutionAudit
	for _, id := range sourceIds {
		if a, ok := s.audits[activityLogId][source+"|"+id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memoryStorage) GetActivityAudits(ctx context.Context, activityLogId string) ([]model.TaskExecutionAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TaskExecutionAudit, 0, len(s.audits[activityLogId]))
	for _, a := range s.audits[activityLogId] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SourceKey() < out[j].SourceKey()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memoryStorage) Close() error {
	return nil
}
