package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohitkumar/eduflow/action"
	"github.com/mohitkumar/eduflow/audit"
	"github.com/mohitkumar/eduflow/cache"
	"github.com/mohitkumar/eduflow/dedupe"
	"github.com/mohitkumar/eduflow/execution"
	"github.com/mohitkumar/eduflow/graph"
	"github.com/mohitkumar/eduflow/interpreter"
	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/persistence"
	"github.com/mohitkumar/eduflow/persistence/memory"
	"github.com/stretchr/testify/require"
)

// flakyStorage fails the first run creation it sees.
type flakyStorage struct {
	persistence.Storage
	failed atomic.Bool
}

func (f *flakyStorage) CreateExecution(ctx context.Context, exec model.WorkflowExecution) (*model.WorkflowExecution, bool, error) {
	if f.failed.CompareAndSwap(false, true) {
		return nil, false, persistence.StorageLayerError{Message: "connection reset"}
	}
	return f.Storage.CreateExecution(ctx, exec)
}

func TestFailedStartIsRecoveredByRetry(t *testing.T) {
	ctx := context.Background()
	storage := &flakyStorage{Storage: memory.NewMemoryStorage()}
	store := graph.NewStore(storage, cache.NewGraphCache(time.Minute))
	require.NoError(t, store.SaveBundle(ctx, model.WorkflowBundle{
		Workflow: model.Workflow{Id: "wf-1", InstituteId: "inst-1", Status: model.ACTIVE},
		Nodes: []model.NodeTemplate{
			{Id: "N1", Payload: json.RawMessage(`{"outputDataPoints":[{"fieldName":"batch","value":"b-1"}],"routing":[{"type":"goto","targetNodeId":"N2"}]}`)},
			{Id: "N2", Payload: json.RawMessage(`{"prebuiltKey":"createLiveSession","params":{"batch":"{$.batch}"}}`)},
		},
		Mappings: []model.WorkflowNodeMapping{{NodeTemplateId: "N1", NodeOrder: 1}, {NodeTemplateId: "N2", NodeOrder: 2}},
	}))
	// Saved straight to storage so the activation stamp does not hide the firing.
	require.NoError(t, storage.SaveSchedule(ctx, model.WorkflowSchedule{Id: "s-1", WorkflowId: "wf-1", CronExpr: "0 * * * *", Status: model.ACTIVE}))

	var invoked atomic.Int32
	registry := action.NewRegistry(nil)
	registry.Register("createLiveSession", func(ctx context.Context, key string, params map[string]any) (map[string]any, error) {
		invoked.Add(1)
		if params["batch"] != "b-1" {
			return nil, errors.New("unexpected batch")
		}
		return map[string]any{"sessionId": "s-1"}, nil
	})
	runs := execution.NewCoordinator(storage, store, interpreter.New(action.DefaultLabels()), dedupe.NewGuard(storage), registry, time.Second)
	r := newRunner(storage, runs)
	retries := audit.NewCoordinator(storage)
	retries.Register(SOURCE_WORKFLOW_EXECUTION, audit.NewWorkflowExecutionSource(runs, r))
	key := "schedule:s-1:2026-03-10T10:00:00Z"

	rep, err := r.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Failed)
	_, err = runs.Get(ctx, key)
	require.True(t, persistence.IsNotFound(err))

	updated, err := retries.Retry(ctx, rep.ActivityLogId, SOURCE_WORKFLOW_EXECUTION, []string{key})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	require.Equal(t, model.TASK_FINISHED, updated[0].Status)

	exec, err := runs.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_COMPLETED, exec.Status)
	require.Equal(t, "2026-03-10T10:00:00Z", exec.Input["plannedRunAt"])
	require.Equal(t, int32(1), invoked.Load())

	again, err := r.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, again.Skipped)
	require.Equal(t, int32(1), invoked.Load())
}
