package dedupe

import (
	"context"
	"time"

	"github.com/mohitkumar/eduflow/logger"
	"github.com/mohitkumar/eduflow/metrics"
	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/persistence"
	"go.uber.org/zap"
)

// Guard keeps node side effects at most once per scheduled run. It relies on
// the unique key of the dedupe record, so concurrent workers need no lock.
type Guard struct {
	storage persistence.DedupeStorage
}

func NewGuard(storage persistence.DedupeStorage) *Guard {
	return &Guard{storage: storage}
}

// AlreadyDone reports whether the operation already ran for the run and, if
// so, the output it produced then.
func (g *Guard) AlreadyDone(ctx context.Context, nodeTemplateId string, operationKey string, scheduleRunId string) (map[string]any, bool, error) {
	stored, err := g.storage.GetNodeDedupe(ctx, record(nodeTemplateId, operationKey, scheduleRunId, nil))
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	metrics.RecordDedupeHit(ctx)
	logger.Info("node already done for run", zap.String("node", nodeTemplateId), zap.String("operation", operationKey), zap.String("scheduleRun", scheduleRunId))
	return stored.Result, true, nil
}

// MarkDone records the node operation together with its output. A record
// that already exists means a concurrent worker got there first, which is
// not an error.
func (g *Guard) MarkDone(ctx context.Context, nodeTemplateId string, operationKey string, scheduleRunId string, result map[string]any) error {
	created, err := g.storage.CreateNodeDedupe(ctx, record(nodeTemplateId, operationKey, scheduleRunId, result))
	if err != nil {
		return err
	}
	if !created {
		logger.Warn("node dedupe record already present", zap.String("node", nodeTemplateId), zap.String("operation", operationKey), zap.String("scheduleRun", scheduleRunId))
	}
	return nil
}

func record(nodeTemplateId string, operationKey string, scheduleRunId string, result map[string]any) model.NodeDedupeRecord {
	return model.NodeDedupeRecord{
		NodeTemplateId: nodeTemplateId,
		OperationKey:   operationKey,
		ScheduleRunId:  scheduleRunId,
		Result:         result,
		CreatedAt:      time.Now().UTC(),
	}
}
