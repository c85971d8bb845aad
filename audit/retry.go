package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mohitkumar/eduflow/logger"
	"github.com/mohitkumar/eduflow/metrics"
	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/persistence"
	"go.uber.org/zap"
)

var ErrUnknownSource = errors.New("no handler for audit source")

// Outcome is the result of re-attempting one audited item.
type Outcome struct {
	ok     bool
	Reason string
}

func Success() Outcome {
	return Outcome{ok: true}
}

func Failure(reason string) Outcome {
	return Outcome{Reason: reason}
}

func (o Outcome) OK() bool {
	return o.ok
}

// SourceHandler re-attempts the units of work audited under one source.
// Load returns the domain objects it can find, keyed by source id.
type SourceHandler interface {
	Load(ctx context.Context, sourceIds []string) (map[string]any, error)
	Reattempt(ctx context.Context, sourceId string, item any) Outcome
}

type Coordinator struct {
	storage  persistence.AuditStorage
	mu       sync.RWMutex
	handlers map[string]SourceHandler
}

func NewCoordinator(storage persistence.AuditStorage) *Coordinator {
	return &Coordinator{
		storage:  storage,
		handlers: make(map[string]SourceHandler),
	}
}

func (c *Coordinator) Register(source string, handler SourceHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[source] = handler
}

// Retry re-attempts the audited items of activityLogId named by sourceIds.
// Items already FINISHED and items not named are left untouched. The
// activity log ends FINISHED only when every retried item finished.
func (c *Coordinator) Retry(ctx context.Context, activityLogId string, source string, sourceIds []string) ([]model.TaskExecutionAudit, error) {
	activity, err := c.storage.GetActivityLog(ctx, activityLogId)
	if err != nil {
		return nil, err
	}
	if len(sourceIds) == 0 {
		logger.Info("nothing to retry", zap.String("activityLog", activityLogId))
		return nil, c.closeActivity(ctx, *activity, "")
	}
	c.mu.RLock()
	handler, ok := c.handlers[source]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}

	audits, err := c.storage.GetTaskAudits(ctx, activityLogId, source, sourceIds)
	if err != nil {
		return nil, err
	}
	var pending []model.TaskExecutionAudit
	var ids []string
	for _, a := range audits {
		if a.Status == model.TASK_FINISHED {
			continue
		}
		pending = append(pending, a)
		ids = append(ids, a.SourceId)
	}

	var items map[string]any
	var loadErr error
	if len(ids) > 0 {
		items, loadErr = handler.Load(ctx, ids)
		if loadErr != nil {
			logger.Error("error loading items to retry", zap.String("activityLog", activityLogId), zap.String("source", source), zap.Error(loadErr))
		}
	}

	failed := 0
	updated := make([]model.TaskExecutionAudit, 0, len(pending))
	for _, a := range pending {
		var outcome Outcome
		item, found := items[a.SourceId]
		switch {
		case loadErr != nil:
			outcome = Failure(loadErr.Error())
		case !found:
			outcome = Failure("source item not found")
		default:
			outcome = handler.Reattempt(ctx, a.SourceId, item)
		}
		a.RetryCount++
		a.UpdatedAt = time.Now().UTC()
		if outcome.OK() {
			a.Status = model.TASK_FINISHED
			a.StatusMessage = fmt.Sprintf("finished on retry %d", a.RetryCount)
		} else {
			failed++
			a.Status = model.TASK_FAILED
			a.StatusMessage = outcome.Reason
		}
		if err := c.storage.SaveTaskAudit(ctx, a); err != nil {
			return updated, err
		}
		metrics.RecordRetry(ctx, string(a.Status))
		logger.Info("retried audit item", zap.String("activityLog", activityLogId), zap.String("source", source), zap.String("sourceId", a.SourceId), zap.String("status", string(a.Status)))
		updated = append(updated, a)
	}

	message := ""
	if failed > 0 {
		message = fmt.Sprintf("%d of %d retried items failed", failed, len(pending))
	}
	return updated, c.closeActivity(ctx, *activity, message)
}

func (c *Coordinator) closeActivity(ctx context.Context, activity model.SchedulerActivityLog, failure string) error {
	activity.Status = model.TASK_FINISHED
	activity.Message = ""
	if len(failure) > 0 {
		activity.Status = model.TASK_FAILED
		activity.Message = failure
	}
	activity.UpdatedAt = time.Now().UTC()
	return c.storage.SaveActivityLog(ctx, activity)
}
