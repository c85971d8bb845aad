package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/eduflow/action"
	"github.com/mohitkumar/eduflow/analytics"
	"github.com/mohitkumar/eduflow/cache"
	"github.com/mohitkumar/eduflow/dedupe"
	"github.com/mohitkumar/eduflow/interpreter"
	"github.com/mohitkumar/eduflow/logger"
	"github.com/mohitkumar/eduflow/metrics"
	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/node"
	"github.com/mohitkumar/eduflow/persistence"
	"go.uber.org/zap"
)

var ErrInvalidRequest = errors.New("workflow id and idempotency key are required")

type GraphLoader interface {
	Load(ctx context.Context, workflowId string) (cache.CachedGraph, error)
}

type StartRequest struct {
	WorkflowID     string
	IdempotencyKey string
	ScheduleID     string
	ScheduleRunID  string
	StartNodeID    string
	Input          map[string]any
}

// Coordinator opens runs by idempotency key and drives them through the
// interpreter. Only storage failures are returned; everything that goes
// wrong inside a run ends up on the run and its log.
type Coordinator struct {
	storage persistence.ExecutionStorage
	graphs  GraphLoader
	interp  *interpreter.Interpreter
	guard   *dedupe.Guard
	invoker action.Invoker
}

func NewCoordinator(storage persistence.ExecutionStorage, graphs GraphLoader, interp *interpreter.Interpreter,
	guard *dedupe.Guard, invoker action.Invoker, actionTimeout time.Duration) *Coordinator {
	return &Coordinator{
		storage: storage,
		graphs:  graphs,
		interp:  interp,
		guard:   guard,
		invoker: action.WithTimeout(invoker, actionTimeout),
	}
}

func (c *Coordinator) StartOrResume(ctx context.Context, req StartRequest) (*model.WorkflowExecution, error) {
	if len(req.WorkflowID) == 0 || len(req.IdempotencyKey) == 0 {
		return nil, ErrInvalidRequest
	}
	exec := model.WorkflowExecution{
		Id:             uuid.NewString(),
		IdempotencyKey: req.IdempotencyKey,
		WorkflowId:     req.WorkflowID,
		ScheduleId:     req.ScheduleID,
		ScheduleRunId:  req.ScheduleRunID,
		StartNodeId:    req.StartNodeID,
		Input:          req.Input,
		Status:         model.EXECUTION_PENDING,
		CreatedAt:      time.Now().UTC(),
	}
	stored, created, err := c.storage.CreateExecution(ctx, exec)
	if err != nil {
		logger.Error("error creating run", zap.String("idempotencyKey", req.IdempotencyKey), zap.Error(err))
		return nil, err
	}
	if !created {
		logger.Info("run already exists for key", zap.String("idempotencyKey", req.IdempotencyKey), zap.String("runId", stored.Id), zap.String("status", string(stored.Status)))
		return stored, nil
	}
	metrics.RecordRunStarted(ctx)
	return c.run(ctx, *stored)
}

// Redrive executes a run that did not complete again. Nodes whose side
// effect is already recorded are not repeated.
func (c *Coordinator) Redrive(ctx context.Context, idempotencyKey string) (*model.WorkflowExecution, error) {
	exec, err := c.storage.GetExecution(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if exec.Status == model.EXECUTION_COMPLETED {
		return exec, nil
	}
	logger.Info("re-driving run", zap.String("idempotencyKey", idempotencyKey), zap.String("status", string(exec.Status)))
	return c.run(ctx, *exec)
}

func (c *Coordinator) Get(ctx context.Context, idempotencyKey string) (*model.WorkflowExecution, error) {
	return c.storage.GetExecution(ctx, idempotencyKey)
}

func (c *Coordinator) Logs(ctx context.Context, idempotencyKey string) ([]model.WorkflowExecutionLog, error) {
	return c.storage.GetExecutionLogs(ctx, idempotencyKey)
}

// run keeps the caller's values but not its cancellation. A run, once
// started, is driven to a final status.
func (c *Coordinator) run(ctx context.Context, exec model.WorkflowExecution) (*model.WorkflowExecution, error) {
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()
	exec.Status = model.EXECUTION_RUNNING
	exec.Attempts++
	exec.StartedAt = &now
	exec.CompletedAt = nil
	exec.ErrorMessage = ""
	if err := c.storage.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}

	g, err := c.graphs.Load(ctx, exec.WorkflowId)
	if err != nil {
		logger.Error("error loading graph", zap.String("workflow", exec.WorkflowId), zap.String("idempotencyKey", exec.IdempotencyKey), zap.Error(err))
		return c.finish(ctx, exec, model.EXECUTION_FAILED, err.Error())
	}
	start := exec.StartNodeId
	if len(start) == 0 {
		start = g.Graph.Entry
	}

	hooks := interpreter.Hooks{
		Invoke: func(ctx context.Context, n node.Node, params map[string]any) (map[string]any, bool, error) {
			return c.invokeNode(ctx, exec, n, params)
		},
		Record: func(ctx context.Context, visit interpreter.NodeVisit) error {
			return c.recordVisit(ctx, exec, visit)
		},
	}
	res, err := c.interp.Execute(ctx, start, g.Graph.Nodes, exec.Input, hooks)
	if err != nil {
		logger.Error("error recording run progress", zap.String("idempotencyKey", exec.IdempotencyKey), zap.Error(err))
		if _, ferr := c.finish(ctx, exec, model.EXECUTION_FAILED, err.Error()); ferr != nil {
			logger.Error("error marking run failed", zap.String("idempotencyKey", exec.IdempotencyKey), zap.Error(ferr))
		}
		return nil, err
	}
	status, message := Outcome(res)
	return c.finish(ctx, exec, status, message)
}

func (c *Coordinator) invokeNode(ctx context.Context, exec model.WorkflowExecution, n node.Node, params map[string]any) (map[string]any, bool, error) {
	scope := exec.DedupeScope()
	prior, done, err := c.guard.AlreadyDone(ctx, n.ID, n.ActionKey, scope)
	if err != nil {
		return nil, false, err
	}
	if done {
		return prior, true, nil
	}
	rec := model.NodeDedupeRecord{NodeTemplateId: n.ID, OperationKey: n.ActionKey, ScheduleRunId: scope}
	out, err := c.invoker.Invoke(action.WithIdempotencyKey(ctx, rec.Key()), n.ActionKey, params)
	if err != nil {
		return nil, false, err
	}
	if err := c.guard.MarkDone(ctx, n.ID, n.ActionKey, scope, out); err != nil {
		logger.Error("error marking node done", zap.String("node", n.ID), zap.String("idempotencyKey", exec.IdempotencyKey), zap.Error(err))
	}
	return out, false, nil
}

func (c *Coordinator) recordVisit(ctx context.Context, exec model.WorkflowExecution, visit interpreter.NodeVisit) error {
	entry := model.WorkflowExecutionLog{
		Id:             uuid.NewString(),
		ExecutionId:    exec.Id,
		IdempotencyKey: exec.IdempotencyKey,
		NodeTemplateId: visit.NodeID,
		NodeType:       visit.Kind.String(),
		Status:         model.LogStatus(visit.Status),
		Deduplicated:   visit.Deduped,
		Attempt:        exec.Attempts,
		CreatedAt:      time.Now().UTC(),
	}
	if visit.Err != nil {
		entry.ErrorMessage = visit.Err.Error()
		logger.Error("node failed", zap.String("workflow", exec.WorkflowId), zap.String("idempotencyKey", exec.IdempotencyKey), zap.String("node", visit.NodeID), zap.Error(visit.Err))
		analytics.RecordNodeFailure(exec.WorkflowId, exec.IdempotencyKey, visit.NodeID, entry.NodeType, entry.ErrorMessage)
	} else if visit.Status == interpreter.VISIT_SUCCESS {
		analytics.RecordNodeSuccess(exec.WorkflowId, exec.IdempotencyKey, visit.NodeID, entry.NodeType, visit.Output)
	}
	metrics.RecordNodeExecution(ctx, entry.NodeType, string(entry.Status))
	return c.storage.AppendExecutionLog(ctx, entry)
}

func (c *Coordinator) finish(ctx context.Context, exec model.WorkflowExecution, status model.ExecutionStatus, message string) (*model.WorkflowExecution, error) {
	now := time.Now().UTC()
	exec.Status = status
	exec.ErrorMessage = message
	exec.CompletedAt = &now
	if err := c.storage.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	metrics.RecordRunFinished(ctx, string(status))
	analytics.RecordRunCompleted(exec.WorkflowId, exec.IdempotencyKey, string(status))
	logger.Info("run finished", zap.String("workflow", exec.WorkflowId), zap.String("idempotencyKey", exec.IdempotencyKey), zap.String("status", string(status)))
	return &exec, nil
}

// Outcome folds node visits into the final run status. A run with no
// failures is COMPLETED. It is FAILED when its entry node, the first one
// after START, failed or when the walk stopped on a route it could not
// follow. Any other failure makes it PARTIAL_SUCCESS.
func Outcome(res interpreter.Result) (model.ExecutionStatus, string) {
	var failures []string
	entryFailed := false
	entrySeen := false
	for _, v := range res.Visits {
		if v.Status == interpreter.VISIT_FAILED {
			failures = append(failures, fmt.Sprintf("node %s: %v", v.NodeID, v.Err))
		}
		if !entrySeen && v.Kind != node.Start {
			entrySeen = true
			entryFailed = v.Status == interpreter.VISIT_FAILED
		}
	}
	switch {
	case len(failures) == 0:
		return model.EXECUTION_COMPLETED, ""
	case entryFailed || !res.Terminal:
		return model.EXECUTION_FAILED, strings.Join(failures, "; ")
	}
	return model.EXECUTION_PARTIAL_SUCCESS, strings.Join(failures, "; ")
}
