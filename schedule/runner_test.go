package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mohitkumar/eduflow/execution"
	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/persistence"
	"github.com/mohitkumar/eduflow/persistence/memory"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 10, 10, 5, 0, 0, time.UTC)

type countingStarter struct {
	mu       sync.Mutex
	requests []execution.StartRequest
	status   model.ExecutionStatus
	failures int
}

func (s *countingStarter) StartOrResume(ctx context.Context, req execution.StartRequest) (*model.WorkflowExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("storage unavailable")
	}
	status := s.status
	if len(status) == 0 {
		status = model.EXECUTION_COMPLETED
	}
	return &model.WorkflowExecution{Id: "run-" + req.IdempotencyKey, IdempotencyKey: req.IdempotencyKey, Status: status}, nil
}

func (s *countingStarter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newRunner(storage persistence.Storage, starter Starter) *Runner {
	return NewRunner(storage, starter, RunnerConfig{
		Lookback: time.Hour,
		Now:      func() time.Time { return fixedNow },
	})
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func saveSchedule(t *testing.T, storage persistence.Storage, sc model.WorkflowSchedule) {
	require.NoError(t, storage.SaveSchedule(context.Background(), sc))
}

func TestDueInstants(t *testing.T) {
	r := newRunner(memory.NewMemoryStorage(), &countingStarter{})
	for scenario, tc := range map[string]struct {
		schedule model.WorkflowSchedule
		want     []time.Time
	}{
		"hourly": {
			model.WorkflowSchedule{Id: "s", CronExpr: "0 * * * *"},
			[]time.Time{time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)},
		},
		"every fifteen minutes": {
			model.WorkflowSchedule{Id: "s", CronExpr: "*/15 * * * *"},
			[]time.Time{
				time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC),
				time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
				time.Date(2026, 3, 10, 9, 45, 0, 0, time.UTC),
				time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
			},
		},
		"schedule timezone": {
			model.WorkflowSchedule{Id: "s", CronExpr: "30 15 * * *", Timezone: "Asia/Kolkata"},
			[]time.Time{time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)},
		},
		"nothing due": {
			model.WorkflowSchedule{Id: "s", CronExpr: "@daily"},
			nil,
		},
		"activated inside the lookback": {
			model.WorkflowSchedule{Id: "s", CronExpr: "*/15 * * * *", ActivatedAt: timePtr(time.Date(2026, 3, 10, 9, 40, 0, 0, time.UTC))},
			[]time.Time{
				time.Date(2026, 3, 10, 9, 45, 0, 0, time.UTC),
				time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
			},
		},
		"activated before the lookback": {
			model.WorkflowSchedule{Id: "s", CronExpr: "0 * * * *", ActivatedAt: timePtr(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))},
			[]time.Time{time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)},
		},
		"activated after the last firing": {
			model.WorkflowSchedule{Id: "s", CronExpr: "0 * * * *", ActivatedAt: timePtr(time.Date(2026, 3, 10, 10, 2, 0, 0, time.UTC))},
			nil,
		},
	} {
		t.Run(scenario, func(t *testing.T) {
			got, err := r.DueInstants(tc.schedule, fixedNow)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := r.DueInstants(model.WorkflowSchedule{CronExpr: "not a cron"}, fixedNow)
	require.Error(t, err)
	_, err = r.DueInstants(model.WorkflowSchedule{CronExpr: "0 * * * *", Timezone: "Mars/Olympus"}, fixedNow)
	require.Error(t, err)
}

func TestRunner(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, storage persistence.Storage){
		"concurrent runners fire once":   testConcurrentRunners,
		"second tick skips claimed runs": testSecondTickSkips,
		"inactive schedules never fire":  testInactiveSchedule,
		"failed runs are audited":        testFailedRunAudited,
		"invalid cron fails the tick":    testInvalidCron,
		"unstarted firing can be opened": testStartClaimed,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, memory.NewMemoryStorage())
		})
	}
}

func testConcurrentRunners(t *testing.T, storage persistence.Storage) {
	saveSchedule(t, storage, model.WorkflowSchedule{Id: "s-1", WorkflowId: "wf-1", CronExpr: "0 * * * *", Status: model.ACTIVE})
	starter := &countingStarter{}
	runners := []*Runner{newRunner(storage, starter), newRunner(storage, starter)}

	var wg sync.WaitGroup
	reports := make([]TickReport, len(runners))
	errs := make([]error, len(runners))
	for i, r := range runners {
		wg.Add(1)
		go func(i int, r *Runner) {
			defer wg.Done()
			reports[i], errs[i] = r.Tick(context.Background())
		}(i, r)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	require.Equal(t, 1, starter.count())
	require.Equal(t, 1, reports[0].Claimed+reports[1].Claimed)
	require.Equal(t, 1, reports[0].Skipped+reports[1].Skipped)

	planned := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	run, err := storage.GetScheduleRun(context.Background(), "s-1", planned)
	require.NoError(t, err)
	require.Equal(t, model.SCHEDULE_RUN_COMPLETED, run.Status)
	require.Equal(t, "schedule:s-1:2026-03-10T10:00:00Z", run.IdempotencyKey)

	req := starter.requests[0]
	require.Equal(t, run.IdempotencyKey, req.IdempotencyKey)
	require.Equal(t, run.Id, req.ScheduleRunID)
	require.Equal(t, "2026-03-10T10:00:00Z", req.Input["plannedRunAt"])
}

func testSecondTickSkips(t *testing.T, storage persistence.Storage) {
	saveSchedule(t, storage, model.WorkflowSchedule{Id: "s-1", WorkflowId: "wf-1", CronExpr: "*/30 * * * *", Status: model.ACTIVE})
	starter := &countingStarter{}
	r := newRunner(storage, starter)

	first, err := r.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, first.Claimed)
	second, err := r.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, second.Claimed)
	require.Equal(t, 2, second.Skipped)
	require.Equal(t, 2, starter.count())

	activity, err := storage.GetActivityLog(context.Background(), first.ActivityLogId)
	require.NoError(t, err)
	require.Equal(t, model.TASK_FINISHED, activity.Status)
	require.Equal(t, DEFAULT_TASK_NAME, activity.TaskName)
	require.Equal(t, "2026-03-10T10:00", activity.CronProfileId)

	audits, err := storage.GetActivityAudits(context.Background(), first.ActivityLogId)
	require.NoError(t, err)
	require.Len(t, audits, 2)
	for _, a := range audits {
		require.Equal(t, SOURCE_WORKFLOW_EXECUTION, a.Source)
		require.Equal(t, model.TASK_FINISHED, a.Status)
	}
}

func testInactiveSchedule(t *testing.T, storage persistence.Storage) {
	saveSchedule(t, storage, model.WorkflowSchedule{Id: "s-1", WorkflowId: "wf-1", CronExpr: "0 * * * *", Status: model.INACTIVE})
	starter := &countingStarter{}
	rep, err := newRunner(storage, starter).Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, TickReport{ActivityLogId: rep.ActivityLogId}, rep)
	require.Equal(t, 0, starter.count())
}

func testFailedRunAudited(t *testing.T, storage persistence.Storage) {
	saveSchedule(t, storage, model.WorkflowSchedule{Id: "s-1", WorkflowId: "wf-1", CronExpr: "0 * * * *", Status: model.ACTIVE})
	starter := &countingStarter{status: model.EXECUTION_PARTIAL_SUCCESS}
	rep, err := newRunner(storage, starter).Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Failed)

	activity, err := storage.GetActivityLog(context.Background(), rep.ActivityLogId)
	require.NoError(t, err)
	require.Equal(t, model.TASK_FAILED, activity.Status)

	audits, err := storage.GetTaskAudits(context.Background(), rep.ActivityLogId, SOURCE_WORKFLOW_EXECUTION, []string{"schedule:s-1:2026-03-10T10:00:00Z"})
	require.NoError(t, err)
	require.Len(t, audits, 1)
	require.Equal(t, model.TASK_FAILED, audits[0].Status)
	require.Contains(t, audits[0].StatusMessage, "PARTIAL_SUCCESS")

	run, err := storage.GetScheduleRun(context.Background(), "s-1", time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, model.SCHEDULE_RUN_FAILED, run.Status)
}

func testStartClaimed(t *testing.T, storage persistence.Storage) {
	ctx := context.Background()
	saveSchedule(t, storage, model.WorkflowSchedule{Id: "s-1", WorkflowId: "wf-1", CronExpr: "0 * * * *", Input: map[string]any{"batch": "b-1"}, Status: model.ACTIVE})
	starter := &countingStarter{failures: 1}
	r := newRunner(storage, starter)
	key := "schedule:s-1:2026-03-10T10:00:00Z"

	rep, err := r.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Failed)
	audits, err := storage.GetTaskAudits(ctx, rep.ActivityLogId, SOURCE_WORKFLOW_EXECUTION, []string{key})
	require.NoError(t, err)
	require.Len(t, audits, 1)
	require.Equal(t, model.TASK_FAILED, audits[0].Status)
	require.Contains(t, audits[0].StatusMessage, "storage unavailable")

	rep, err = r.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Skipped)
	require.Equal(t, 1, starter.count())

	exec, err := r.StartClaimed(ctx, key)
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_COMPLETED, exec.Status)
	require.Equal(t, 2, starter.count())
	run, err := storage.GetScheduleRun(ctx, "s-1", time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, model.SCHEDULE_RUN_COMPLETED, run.Status)
	req := starter.requests[1]
	require.Equal(t, key, req.IdempotencyKey)
	require.Equal(t, run.Id, req.ScheduleRunID)
	require.Equal(t, "b-1", req.Input["batch"])
	require.Equal(t, "2026-03-10T10:00:00Z", req.Input["plannedRunAt"])

	_, err = r.StartClaimed(ctx, "schedule:s-9:2026-03-10T10:00:00Z")
	require.True(t, persistence.IsNotFound(err))
}

func TestParseRunKey(t *testing.T) {
	planned := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	for _, id := range []string{"s-1", "inst:42:weekly"} {
		scheduleId, at, err := ParseRunKey(RunKey(id, planned))
		require.NoError(t, err)
		require.Equal(t, id, scheduleId)
		require.True(t, planned.Equal(at))
	}
	for _, key := range []string{"", "k-1", "schedule:", "schedule:s-1:yesterday", "schedule::2026-03-10T10:00:00Z"} {
		_, _, err := ParseRunKey(key)
		require.ErrorIs(t, err, ErrNotRunKey, key)
	}
}

func testInvalidCron(t *testing.T, storage persistence.Storage) {
	saveSchedule(t, storage, model.WorkflowSchedule{Id: "s-1", WorkflowId: "wf-1", CronExpr: "every hour", Status: model.ACTIVE})
	rep, err := newRunner(storage, &countingStarter{}).Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Failed)
}
