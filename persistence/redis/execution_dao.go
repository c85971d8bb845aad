package redis

import (
	"context"
	"time"

	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/persistence"
	"github.com/mohitkumar/eduflow/util"
)

const EXECUTION_KEY string = "EXECUTION"
const EXECUTION_LOG_KEY string = "EXECUTION_LOG"
const SCHEDULE_RUN_KEY string = "SCHEDULE_RUN"
const DEDUPE_KEY string = "DEDUPE"

var _ persistence.ExecutionStorage = new(redisExecutionDao)
var _ persistence.ScheduleRunStorage = new(redisExecutionDao)
var _ persistence.DedupeStorage = new(redisExecutionDao)

// redisExecutionDao backs every unique gate with HSETNX on a partitioned
// hash: a field can be created by exactly one caller.
type redisExecutionDao struct {
	*baseDao
	execEncDec   util.EncoderDecoder[model.WorkflowExecution]
	logEncDec    util.EncoderDecoder[model.WorkflowExecutionLog]
	runEncDec    util.EncoderDecoder[model.WorkflowScheduleRun]
	dedupeEncDec util.EncoderDecoder[model.NodeDedupeRecord]
}

func newRedisExecutionDao(bs *baseDao) *redisExecutionDao {
	return &redisExecutionDao{
		baseDao:      bs,
		execEncDec:   util.NewJsonEncoderDecoder[model.WorkflowExecution](),
		logEncDec:    util.NewJsonEncoderDecoder[model.WorkflowExecutionLog](),
		runEncDec:    util.NewJsonEncoderDecoder[model.WorkflowScheduleRun](),
		dedupeEncDec: util.NewJsonEncoderDecoder[model.NodeDedupeRecord](),
	}
}

func (d *redisExecutionDao) executionKey(idempotencyKey string) string {
	return d.getPartitionKey(EXECUTION_KEY, idempotencyKey)
}

func (d *redisExecutionDao) CreateExecution(ctx context.Context, exec model.WorkflowExecution) (*model.WorkflowExecution, bool, error) {
	key := d.executionKey(exec.IdempotencyKey)
	created, err := hsetnx(ctx, d.baseDao, d.execEncDec, key, exec.IdempotencyKey, exec)
	if err != nil {
		return nil, false, err
	}
	if created {
		return &exec, true, nil
	}
	existing, err := hget(ctx, d.baseDao, d.execEncDec, key, exec.IdempotencyKey, "execution")
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (d *redisExecutionDao) GetExecution(ctx context.Context, idempotencyKey string) (*model.WorkflowExecution, error) {
	return hget(ctx, d.baseDao, d.execEncDec, d.executionKey(idempotencyKey), idempotencyKey, "execution")
}

func (d *redisExecutionDao) UpdateExecution(ctx context.Context, exec model.WorkflowExecution) error {
	return hupdate(ctx, d.baseDao, d.execEncDec, d.executionKey(exec.IdempotencyKey), exec.IdempotencyKey, exec, "execution")
}

func (d *redisExecutionDao) AppendExecutionLog(ctx context.Context, log model.WorkflowExecutionLog) error {
	data, err := d.logEncDec.Encode(log)
	if err != nil {
		return err
	}
	if err := d.redisClient.RPush(ctx, d.getNamespaceKey(EXECUTION_LOG_KEY, log.IdempotencyKey), string(data)).Err(); err != nil {
		return storageError(err)
	}
	return nil
}

func (d *redisExecutionDao) GetExecutionLogs(ctx context.Context, idempotencyKey string) ([]model.WorkflowExecutionLog, error) {
	vals, err := d.redisClient.LRange(ctx, d.getNamespaceKey(EXECUTION_LOG_KEY, idempotencyKey), 0, -1).Result()
	if err != nil {
		return nil, storageError(err)
	}
	return util.DecodeAll(d.logEncDec, vals)
}

func (d *redisExecutionDao) CreateScheduleRun(ctx context.Context, run model.WorkflowScheduleRun) (bool, error) {
	return hsetnx(ctx, d.baseDao, d.runEncDec, d.getPartitionKey(SCHEDULE_RUN_KEY, run.ScheduleId), model.ScheduleRunKey(run.ScheduleId, run.PlannedRunAt), run)
}

func (d *redisExecutionDao) UpdateScheduleRun(ctx context.Context, run model.WorkflowScheduleRun) error {
	return hupdate(ctx, d.baseDao, d.runEncDec, d.getPartitionKey(SCHEDULE_RUN_KEY, run.ScheduleId), model.ScheduleRunKey(run.ScheduleId, run.PlannedRunAt), run, "schedule run")
}

func (d *redisExecutionDao) GetScheduleRun(ctx context.Context, scheduleId string, plannedRunAt time.Time) (*model.WorkflowScheduleRun, error) {
	return hget(ctx, d.baseDao, d.runEncDec, d.getPartitionKey(SCHEDULE_RUN_KEY, scheduleId), model.ScheduleRunKey(scheduleId, plannedRunAt), "schedule run")
}

func (d *redisExecutionDao) GetNodeDedupe(ctx context.Context, rec model.NodeDedupeRecord) (*model.NodeDedupeRecord, error) {
	return hget(ctx, d.baseDao, d.dedupeEncDec, d.getPartitionKey(DEDUPE_KEY, rec.ScheduleRunId), rec.Key(), "node dedupe")
}

func (d *redisExecutionDao) CreateNodeDedupe(ctx context.Context, rec model.NodeDedupeRecord) (bool, error) {
	return hsetnx(ctx, d.baseDao, d.dedupeEncDec, d.getPartitionKey(DEDUPE_KEY, rec.ScheduleRunId), rec.Key(), rec)
}
