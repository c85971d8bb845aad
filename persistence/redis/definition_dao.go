package redis

import (
	"context"
	"errors"
	"sort"

	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/persistence"
	"github.com/mohitkumar/eduflow/util"
	rd "github.com/redis/go-redis/v9"
)

const WORKFLOW_KEY string = "WORKFLOW"
const NODE_KEY string = "NODE"
const MAPPING_KEY string = "MAPPING"
const TRIGGER_KEY string = "TRIGGER"
const TRIGGER_INDEX_KEY string = "TRIGGER_INDEX"
const SCHEDULE_KEY string = "SCHEDULE"

var _ persistence.DefinitionStorage = new(redisDefinitionDao)

type redisDefinitionDao struct {
	*baseDao
	workflowEncDec util.EncoderDecoder[model.Workflow]
	nodeEncDec     util.EncoderDecoder[model.NodeTemplate]
	mappingEncDec  util.EncoderDecoder[model.WorkflowNodeMapping]
	triggerEncDec  util.EncoderDecoder[model.WorkflowTrigger]
	scheduleEncDec util.EncoderDecoder[model.WorkflowSchedule]
}

func newRedisDefinitionDao(bs *baseDao) *redisDefinitionDao {
	return &redisDefinitionDao{
		baseDao:        bs,
		workflowEncDec: util.NewJsonEncoderDecoder[model.Workflow](),
		nodeEncDec:     util.NewJsonEncoderDecoder[model.NodeTemplate](),
		mappingEncDec:  util.NewJsonEncoderDecoder[model.WorkflowNodeMapping](),
		triggerEncDec:  util.NewJsonEncoderDecoder[model.WorkflowTrigger](),
		scheduleEncDec: util.NewJsonEncoderDecoder[model.WorkflowSchedule](),
	}
}

func (d *redisDefinitionDao) SaveWorkflow(ctx context.Context, wf model.Workflow) error {
	return hset(ctx, d.baseDao, d.workflowEncDec, d.getNamespaceKey(WORKFLOW_KEY), wf.Id, wf)
}

func (d *redisDefinitionDao) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	return hget(ctx, d.baseDao, d.workflowEncDec, d.getNamespaceKey(WORKFLOW_KEY), id, "workflow")
}

func (d *redisDefinitionDao) SaveNodeTemplate(ctx context.Context, node model.NodeTemplate) error {
	return hset(ctx, d.baseDao, d.nodeEncDec, d.getNamespaceKey(NODE_KEY), node.Id, node)
}

func (d *redisDefinitionDao) GetNodeTemplates(ctx context.Context, ids []string) ([]model.NodeTemplate, error) {
	return hmget(ctx, d.baseDao, d.nodeEncDec, d.getNamespaceKey(NODE_KEY), ids)
}

func (d *redisDefinitionDao) SaveNodeMapping(ctx context.Context, mapping model.WorkflowNodeMapping) error {
	return hset(ctx, d.baseDao, d.mappingEncDec, d.getNamespaceKey(MAPPING_KEY, mapping.WorkflowId), mapping.NodeTemplateId, mapping)
}

func (d *redisDefinitionDao) GetNodeMappings(ctx context.Context, workflowId string) ([]model.WorkflowNodeMapping, error) {
	mappings, err := hvals(ctx, d.baseDao, d.mappingEncDec, d.getNamespaceKey(MAPPING_KEY, workflowId))
	if err != nil {
		return nil, err
	}
	sort.Slice(mappings, func(i, j int) bool { return mappings[i].NodeOrder < mappings[j].NodeOrder })
	return mappings, nil
}

// SaveTrigger keeps triggers in one hash per (institute, event) so matching
// is a single read. The index remembers the bucket a trigger lives in so a
// renamed trigger leaves its old bucket.
func (d *redisDefinitionDao) SaveTrigger(ctx context.Context, trigger model.WorkflowTrigger) error {
	data, err := d.triggerEncDec.Encode(trigger)
	if err != nil {
		return err
	}
	indexKey := d.getNamespaceKey(TRIGGER_INDEX_KEY)
	bucket := d.getNamespaceKey(TRIGGER_KEY, trigger.InstituteId, trigger.TriggerEventName)
	previous, err := d.redisClient.HGet(ctx, indexKey, trigger.Id).Result()
	if err != nil && !errors.Is(err, rd.Nil) {
		return storageError(err)
	}
	_, err = d.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		if len(previous) > 0 && previous != bucket {
			pipe.HDel(ctx, previous, trigger.Id)
		}
		pipe.HSet(ctx, bucket, trigger.Id, string(data))
		pipe.HSet(ctx, indexKey, trigger.Id, bucket)
		return nil
	})
	if err != nil {
		return storageError(err)
	}
	return nil
}

func (d *redisDefinitionDao) GetTriggersByEvent(ctx context.Context, instituteId string, eventName string) ([]model.WorkflowTrigger, error) {
	triggers, err := hvals(ctx, d.baseDao, d.triggerEncDec, d.getNamespaceKey(TRIGGER_KEY, instituteId, eventName))
	if err != nil {
		return nil, err
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i].Id < triggers[j].Id })
	return triggers, nil
}

func (d *redisDefinitionDao) SaveSchedule(ctx context.Context, schedule model.WorkflowSchedule) error {
	return hset(ctx, d.baseDao, d.scheduleEncDec, d.getNamespaceKey(SCHEDULE_KEY), schedule.Id, schedule)
}

func (d *redisDefinitionDao) GetSchedules(ctx context.Context) ([]model.WorkflowSchedule, error) {
	schedules, err := hvals(ctx, d.baseDao, d.scheduleEncDec, d.getNamespaceKey(SCHEDULE_KEY))
	if err != nil {
		return nil, err
	}
	sort.Slice(schedules, func(i, j int) bool { return schedules[i].Id < schedules[j].Id })
	return schedules, nil
}
