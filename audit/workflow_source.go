package audit

import (
	"context"
	"fmt"

	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/persistence"
)

type Redriver interface {
	Get(ctx context.Context, idempotencyKey string) (*model.WorkflowExecution, error)
	Redrive(ctx context.Context, idempotencyKey string) (*model.WorkflowExecution, error)
}

// Opener starts the run of a scheduled firing that was claimed but never
// opened.
type Opener interface {
	StartClaimed(ctx context.Context, idempotencyKey string) (*model.WorkflowExecution, error)
}

// unopened stands in for a run that does not exist yet.
type unopened struct{}

var _ SourceHandler = new(WorkflowExecutionSource)

// WorkflowExecutionSource retries runs audited by idempotency key. With an
// opener, audited keys that never got a run are started instead.
type WorkflowExecutionSource struct {
	runs   Redriver
	opener Opener
}

func NewWorkflowExecutionSource(runs Redriver, opener Opener) *WorkflowExecutionSource {
	return &WorkflowExecutionSource{runs: runs, opener: opener}
}

func (s *WorkflowExecutionSource) Load(ctx context.Context, sourceIds []string) (map[string]any, error) {
	items := make(map[string]any, len(sourceIds))
	for _, id := range sourceIds {
		exec, err := s.runs.Get(ctx, id)
		if err != nil {
			if !persistence.IsNotFound(err) {
				return nil, err
			}
			if s.opener != nil {
				items[id] = unopened{}
			}
			continue
		}
		items[id] = exec
	}
	return items, nil
}

func (s *WorkflowExecutionSource) Reattempt(ctx context.Context, sourceId string, item any) Outcome {
	var exec *model.WorkflowExecution
	var err error
	if _, ok := item.(unopened); ok {
		exec, err = s.opener.StartClaimed(ctx, sourceId)
	} else {
		exec, err = s.runs.Redrive(ctx, sourceId)
	}
	if err != nil {
		return Failure(err.Error())
	}
	if exec.Status != model.EXECUTION_COMPLETED {
		return Failure(fmt.Sprintf("run ended %s: %s", exec.Status, exec.ErrorMessage))
	}
	return Success()
}
