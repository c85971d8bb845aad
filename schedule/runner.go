package schedule

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/eduflow/execution"
	"github.com/mohitkumar/eduflow/logger"
	"github.com/mohitkumar/eduflow/metrics"
	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/persistence"
	"github.com/mohitkumar/eduflow/util"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const SOURCE_WORKFLOW_EXECUTION = "WORKFLOW_EXECUTION"
const DEFAULT_TASK_NAME = "workflow-schedule"

// maxInstantsPerTick caps how many missed firings of one schedule a single
// tick catches up on.
const maxInstantsPerTick = 100

var runNamespace = uuid.MustParse("6f1d3c52-5a8e-4f4e-9a43-0d6cf1d2b7a1")

type Starter interface {
	StartOrResume(ctx context.Context, req execution.StartRequest) (*model.WorkflowExecution, error)
}

type RunnerConfig struct {
	TaskName        string
	Lookback        time.Duration
	CronProfileUnit time.Duration
	Now             func() time.Time
}

type TickReport struct {
	ActivityLogId string
	Claimed       int
	Skipped       int
	Failed        int
}

// Runner fires due schedules. Claiming a (scheduleId, plannedRunAt) row is
// the only coordination between replicas: whoever creates the row starts
// the run, everyone else skips it.
type Runner struct {
	storage persistence.Storage
	starter Starter
	conf    RunnerConfig
	parser  cron.Parser
}

func NewRunner(storage persistence.Storage, starter Starter, conf RunnerConfig) *Runner {
	if len(conf.TaskName) == 0 {
		conf.TaskName = DEFAULT_TASK_NAME
	}
	if conf.Lookback <= 0 {
		conf.Lookback = time.Hour
	}
	if conf.CronProfileUnit <= 0 {
		conf.CronProfileUnit = time.Hour
	}
	if conf.Now == nil {
		conf.Now = time.Now
	}
	return &Runner{
		storage: storage,
		starter: starter,
		conf:    conf,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (r *Runner) Worker(interval time.Duration, wg *sync.WaitGroup) *util.TickWorker {
	return util.NewTickWorker(r.conf.TaskName, interval, func(ctx context.Context) {
		if _, err := r.Tick(ctx); err != nil {
			logger.Error("schedule tick failed", zap.String("task", r.conf.TaskName), zap.Error(err))
		}
	}, wg)
}

// CronProfileId buckets ticks, hourly by default, for auditing.
func (r *Runner) CronProfileId(t time.Time) string {
	return t.UTC().Truncate(r.conf.CronProfileUnit).Format("2006-01-02T15:04")
}

func RunKey(scheduleId string, plannedRunAt time.Time) string {
	return fmt.Sprintf("%s%s:%s", runKeyPrefix, scheduleId, plannedRunAt.UTC().Format(time.RFC3339))
}

const runKeyPrefix = "schedule:"

var ErrNotRunKey = errors.New("not a scheduled run key")

// ParseRunKey reverses RunKey. The instant is always rendered in UTC, so it
// has a fixed width and the schedule id may contain colons.
func ParseRunKey(key string) (string, time.Time, error) {
	width := len("2006-01-02T15:04:05Z")
	if !strings.HasPrefix(key, runKeyPrefix) || len(key) < len(runKeyPrefix)+width+2 {
		return "", time.Time{}, fmt.Errorf("%w: %s", ErrNotRunKey, key)
	}
	rest := key[len(runKeyPrefix):]
	sep := len(rest) - width - 1
	if rest[sep] != ':' {
		return "", time.Time{}, fmt.Errorf("%w: %s", ErrNotRunKey, key)
	}
	planned, err := time.Parse(time.RFC3339, rest[sep+1:])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %s", ErrNotRunKey, key)
	}
	return rest[:sep], planned.UTC(), nil
}

func (r *Runner) Tick(ctx context.Context) (TickReport, error) {
	now := r.conf.Now().UTC()
	activity := model.SchedulerActivityLog{
		Id:            uuid.NewString(),
		TaskName:      r.conf.TaskName,
		CronProfileId: r.CronProfileId(now),
		Status:        model.TASK_STARTED,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	report := TickReport{ActivityLogId: activity.Id}
	if err := r.storage.SaveActivityLog(ctx, activity); err != nil {
		return report, err
	}
	schedules, err := r.storage.GetSchedules(ctx)
	if err != nil {
		return report, r.closeActivity(ctx, activity, err.Error())
	}
	for _, sc := range schedules {
		if sc.Status != model.ACTIVE {
			continue
		}
		instants, err := r.DueInstants(sc, now)
		if err != nil {
			logger.Error("invalid schedule", zap.String("schedule", sc.Id), zap.String("cron", sc.CronExpr), zap.Error(err))
			report.Failed++
			continue
		}
		for _, planned := range instants {
			claimed, err := r.fire(ctx, activity.Id, sc, planned)
			switch {
			case err != nil:
				report.Failed++
			case claimed:
				report.Claimed++
			default:
				report.Skipped++
			}
		}
	}
	message := ""
	if report.Failed > 0 {
		message = fmt.Sprintf("%d schedule firings failed", report.Failed)
	}
	return report, r.closeActivity(ctx, activity, message)
}

func (r *Runner) closeActivity(ctx context.Context, activity model.SchedulerActivityLog, failure string) error {
	activity.Status = model.TASK_FINISHED
	if len(failure) > 0 {
		activity.Status = model.TASK_FAILED
		activity.Message = failure
	}
	activity.UpdatedAt = r.conf.Now().UTC()
	return r.storage.SaveActivityLog(ctx, activity)
}

// DueInstants lists the firings of sc in (now-lookback, now], never reaching
// back past the schedule's activation.
func (r *Runner) DueInstants(sc model.WorkflowSchedule, now time.Time) ([]time.Time, error) {
	loc := time.UTC
	if len(sc.Timezone) > 0 {
		l, err := time.LoadLocation(sc.Timezone)
		if err != nil {
			return nil, err
		}
		loc = l
	}
	sched, err := r.parser.Parse(sc.CronExpr)
	if err != nil {
		return nil, err
	}
	from := now.Add(-r.conf.Lookback)
	if sc.ActivatedAt != nil && sc.ActivatedAt.After(from) {
		from = *sc.ActivatedAt
	}
	var instants []time.Time
	for t := sched.Next(from.In(loc)); !t.IsZero() && !t.After(now); t = sched.Next(t) {
		instants = append(instants, t.UTC())
		if len(instants) == maxInstantsPerTick {
			logger.Warn("schedule has too many missed firings, catching up on the oldest", zap.String("schedule", sc.Id))
			break
		}
	}
	return instants, nil
}

func (r *Runner) fire(ctx context.Context, activityId string, sc model.WorkflowSchedule, planned time.Time) (bool, error) {
	key := RunKey(sc.Id, planned)
	run := model.WorkflowScheduleRun{
		Id:             uuid.NewSHA1(runNamespace, []byte(model.ScheduleRunKey(sc.Id, planned))).String(),
		ScheduleId:     sc.Id,
		WorkflowId:     sc.WorkflowId,
		PlannedRunAt:   planned,
		IdempotencyKey: key,
		Status:         model.SCHEDULE_RUN_CLAIMED,
		CreatedAt:      r.conf.Now().UTC(),
	}
	created, err := r.storage.CreateScheduleRun(ctx, run)
	if err != nil {
		logger.Error("error claiming schedule run", zap.String("schedule", sc.Id), zap.Time("plannedRunAt", planned), zap.Error(err))
		return false, err
	}
	metrics.RecordScheduleRun(ctx, created)
	if !created {
		logger.Debug("schedule run already claimed", zap.String("schedule", sc.Id), zap.Time("plannedRunAt", planned))
		return false, nil
	}

	// A claimed firing is seen through even if the tick is cancelled. The
	// audit row goes first so a firing that never opens its run is still
	// there to retry.
	ctx = context.WithoutCancel(ctx)
	audit := model.TaskExecutionAudit{
		Id:            uuid.NewString(),
		ActivityLogId: activityId,
		Source:        SOURCE_WORKFLOW_EXECUTION,
		SourceId:      key,
		Status:        model.TASK_STARTED,
		CreatedAt:     r.conf.Now().UTC(),
	}
	audit.UpdatedAt = audit.CreatedAt
	if err := r.storage.SaveTaskAudit(ctx, audit); err != nil {
		return true, err
	}

	exec, startErr := r.starter.StartOrResume(ctx, startRequest(sc, run))
	run.Status, audit.StatusMessage = settle(exec, startErr)
	audit.Status = model.TASK_FINISHED
	if run.Status == model.SCHEDULE_RUN_FAILED {
		audit.Status = model.TASK_FAILED
	}
	audit.UpdatedAt = r.conf.Now().UTC()
	if err := r.storage.SaveTaskAudit(ctx, audit); err != nil {
		return true, err
	}
	if err := r.storage.UpdateScheduleRun(ctx, run); err != nil {
		return true, err
	}
	if audit.Status == model.TASK_FAILED {
		logger.Warn("scheduled run did not complete", zap.String("schedule", sc.Id), zap.String("idempotencyKey", key), zap.String("reason", audit.StatusMessage))
		return true, fmt.Errorf("scheduled run %s: %s", key, audit.StatusMessage)
	}
	logger.Info("scheduled run fired", zap.String("schedule", sc.Id), zap.String("idempotencyKey", key))
	return true, nil
}

// StartClaimed opens the run of a firing that was claimed but whose run was
// never created, the same way the tick would have.
func (r *Runner) StartClaimed(ctx context.Context, key string) (*model.WorkflowExecution, error) {
	scheduleId, planned, err := ParseRunKey(key)
	if err != nil {
		return nil, err
	}
	run, err := r.storage.GetScheduleRun(ctx, scheduleId, planned)
	if err != nil {
		return nil, err
	}
	schedules, err := r.storage.GetSchedules(ctx)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(schedules, func(sc model.WorkflowSchedule) bool { return sc.Id == scheduleId })
	if idx < 0 {
		return nil, persistence.NotFoundError{Entity: "schedule", Id: scheduleId}
	}
	logger.Info("starting claimed schedule run", zap.String("schedule", scheduleId), zap.String("idempotencyKey", key))
	exec, startErr := r.starter.StartOrResume(ctx, startRequest(schedules[idx], *run))
	run.Status, _ = settle(exec, startErr)
	if err := r.storage.UpdateScheduleRun(ctx, *run); err != nil {
		logger.Error("error updating schedule run", zap.String("idempotencyKey", key), zap.Error(err))
	}
	return exec, startErr
}

func startRequest(sc model.WorkflowSchedule, run model.WorkflowScheduleRun) execution.StartRequest {
	input := make(map[string]any, len(sc.Input)+1)
	for k, v := range sc.Input {
		input[k] = v
	}
	input["plannedRunAt"] = run.PlannedRunAt.UTC().Format(time.RFC3339)
	return execution.StartRequest{
		WorkflowID:     run.WorkflowId,
		IdempotencyKey: run.IdempotencyKey,
		ScheduleID:     run.ScheduleId,
		ScheduleRunID:  run.Id,
		Input:          input,
	}
}

func settle(exec *model.WorkflowExecution, startErr error) (model.ScheduleRunStatus, string) {
	switch {
	case startErr != nil:
		return model.SCHEDULE_RUN_FAILED, startErr.Error()
	case exec.Status != model.EXECUTION_COMPLETED:
		return model.SCHEDULE_RUN_FAILED, fmt.Sprintf("run ended %s: %s", exec.Status, exec.ErrorMessage)
	}
	return model.SCHEDULE_RUN_COMPLETED, ""
}
