package redis

import (
	"context"
	"sort"

	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/persistence"
	"github.com/mohitkumar/eduflow/util"
)

const ACTIVITY_KEY string = "ACTIVITY"
const AUDIT_KEY string = "AUDIT"

var _ persistence.AuditStorage = new(redisAuditDao)

type redisAuditDao struct {
	*baseDao
	activityEncDec util.EncoderDecoder[model.SchedulerActivityLog]
	auditEncDec    util.EncoderDecoder[model.TaskExecutionAudit]
}

func newRedisAuditDao(bs *baseDao) *redisAuditDao {
	return &redisAuditDao{
		baseDao:        bs,
		activityEncDec: util.NewJsonEncoderDecoder[model.SchedulerActivityLog](),
		auditEncDec:    util.NewJsonEncoderDecoder[model.TaskExecutionAudit](),
	}
}

func (d *redisAuditDao) SaveActivityLog(ctx context.Context, log model.SchedulerActivityLog) error {
	return hset(ctx, d.baseDao, d.activityEncDec, d.getNamespaceKey(ACTIVITY_KEY), log.Id, log)
}

func (d *redisAuditDao) GetActivityLog(ctx context.Context, id string) (*model.SchedulerActivityLog, error) {
	return hget(ctx, d.baseDao, d.activityEncDec, d.getNamespaceKey(ACTIVITY_KEY), id, "activity log")
}

func (d *redisAuditDao) SaveTaskAudit(ctx context.Context, audit model.TaskExecutionAudit) error {
	return hset(ctx, d.baseDao, d.auditEncDec, d.getNamespaceKey(AUDIT_KEY, audit.ActivityLogId), audit.SourceKey(), audit)
}

func (d *redisAuditDao) GetTaskAudits(ctx context.Context, activityLogId string, source string, sourceIds []string) ([]model.TaskExecutionAudit, error) {
	fields := make([]string, 0, len(sourceIds))
	for _, id := range sourceIds {
		fields = append(fields, model.TaskExecutionAudit{Source: source, SourceId: id}.SourceKey())
	}
	return hmget(ctx, d.baseDao, d.auditEncDec, d.getNamespaceKey(AUDIT_KEY, activityLogId), fields)
}

func (d *redisAuditDao) GetActivityAudits(ctx context.Context, activityLogId string) ([]model.TaskExecutionAudit, error) {
	audits, err := hvals(ctx, d.baseDao, d.auditEncDec, d.getNamespaceKey(AUDIT_KEY, activityLogId))
	if err != nil {
		return nil, err
	}
	sort.Slice(audits, func(i, j int) bool {
		if audits[i].CreatedAt.Equal(audits[j].CreatedAt) {
			return audits[i].SourceKey() < audits[j].SourceKey()
		}
		return audits[i].CreatedAt.Before(audits[j].CreatedAt)
	})
	return audits, nil
}
