package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mohitkumar/eduflow/execution"
	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/persistence"
	"github.com/mohitkumar/eduflow/persistence/memory"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, storage persistence.DefinitionStorage) {
	ctx := context.Background()
	for _, wf := range []model.Workflow{
		{Id: "wf-active", InstituteId: "inst-1", Status: model.ACTIVE},
		{Id: "wf-inactive", InstituteId: "inst-1", Status: model.INACTIVE},
		{Id: "wf-other", InstituteId: "inst-1", Status: model.ACTIVE},
	} {
		require.NoError(t, storage.SaveWorkflow(ctx, wf))
	}
	for _, tr := range []model.WorkflowTrigger{
		{Id: "t1", WorkflowId: "wf-active", InstituteId: "inst-1", TriggerEventName: "LEARNER_ENROLLED", Status: model.ACTIVE},
		{Id: "t2", WorkflowId: "wf-active", InstituteId: "inst-1", TriggerEventName: "LEARNER_ENROLLED", Status: model.ACTIVE},
		{Id: "t3", WorkflowId: "wf-inactive", InstituteId: "inst-1", TriggerEventName: "LEARNER_ENROLLED", Status: model.ACTIVE},
		{Id: "t4", WorkflowId: "wf-other", InstituteId: "inst-1", TriggerEventName: "LEARNER_ENROLLED", Status: model.INACTIVE},
		{Id: "t5", WorkflowId: "wf-missing", InstituteId: "inst-1", TriggerEventName: "LEARNER_ENROLLED", Status: model.ACTIVE},
		{Id: "t6", WorkflowId: "wf-other", InstituteId: "inst-2", TriggerEventName: "LEARNER_ENROLLED", Status: model.ACTIVE},
	} {
		require.NoError(t, storage.SaveTrigger(ctx, tr))
	}
}

func TestMatcher(t *testing.T) {
	storage := memory.NewMemoryStorage()
	seed(t, storage)
	m := NewMatcher(storage)

	wfs, err := m.MatchingWorkflows(context.Background(), "inst-1", "LEARNER_ENROLLED")
	require.NoError(t, err)
	require.Len(t, wfs, 1)
	require.Equal(t, "wf-active", wfs[0].Id)

	wfs, err = m.MatchingWorkflows(context.Background(), "inst-1", "PAYMENT_FAILED")
	require.NoError(t, err)
	require.Empty(t, wfs)
}

type fakeStarter struct {
	mu       sync.Mutex
	requests []execution.StartRequest
	runs     map[string]*model.WorkflowExecution
}

func (f *fakeStarter) StartOrResume(ctx context.Context, req execution.StartRequest) (*model.WorkflowExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if run, ok := f.runs[req.IdempotencyKey]; ok {
		return run, nil
	}
	run := &model.WorkflowExecution{Id: req.IdempotencyKey + "-run", IdempotencyKey: req.IdempotencyKey, WorkflowId: req.WorkflowID}
	f.runs[req.IdempotencyKey] = run
	return run, nil
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func TestDispatcher(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, d *Dispatcher, starter *fakeStarter){
		"fire starts one run per workflow": testFire,
		"redelivery reuses the run":        testRedelivery,
		"enqueue dispatches async":         testEnqueue,
	} {
		t.Run(scenario, func(t *testing.T) {
			storage := memory.NewMemoryStorage()
			seed(t, storage)
			starter := &fakeStarter{runs: map[string]*model.WorkflowExecution{}}
			var wg sync.WaitGroup
			d := NewDispatcher(NewMatcher(storage), starter, 10, 2, &wg)
			d.Start()
			defer func() {
				d.Stop()
				wg.Wait()
			}()
			fn(t, d, starter)
		})
	}
}

func testFire(t *testing.T, d *Dispatcher, starter *fakeStarter) {
	runs, err := d.Fire(context.Background(), Event{Id: "ev-1", InstituteId: "inst-1", Name: "LEARNER_ENROLLED", Data: map[string]any{"learnerId": "l-1"}})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "event:ev-1:wf-active", starter.requests[0].IdempotencyKey)
	require.Equal(t, "wf-active", starter.requests[0].WorkflowID)
	require.Equal(t, "l-1", starter.requests[0].Input["learnerId"])
}

func testRedelivery(t *testing.T, d *Dispatcher, starter *fakeStarter) {
	ev := Event{Id: "ev-1", InstituteId: "inst-1", Name: "LEARNER_ENROLLED"}
	first, err := d.Fire(context.Background(), ev)
	require.NoError(t, err)
	second, err := d.Fire(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, first[0].Id, second[0].Id)
	require.Len(t, starter.runs, 1)
}

func testEnqueue(t *testing.T, d *Dispatcher, starter *fakeStarter) {
	require.NoError(t, d.Enqueue(Event{Id: "ev-2", InstituteId: "inst-1", Name: "LEARNER_ENROLLED"}))
	require.Eventually(t, func() bool { return starter.count() == 1 }, time.Second, 10*time.Millisecond)
}
